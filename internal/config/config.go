// Package config assembles server settings from flags, the environment and an
// optional .env file. Flags win over the environment, which wins over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved server configuration.
type Config struct {
	HTTPAddr    string
	OpsGRPCAddr string
	DatabaseURL string // empty selects the in-memory store
	RedisURL    string // empty selects the in-memory cache

	JWTSecret    string
	SessionTTL   time.Duration
	ResetTTL     time.Duration
	ResetURLBase string
	CacheTTL     time.Duration

	Env            string
	AllowedOrigins []string
	TrustedProxies []string
	CSRF           bool
	Reflection     bool

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	LoginMaxFails int
	LoginWindow   time.Duration
	LoginBlock    time.Duration
}

// Development reports whether APP_ENV selects development mode.
func (c Config) Development() bool { return strings.EqualFold(c.Env, "development") }

// ErrMissingSecret is returned when no JWT secret is configured.
var ErrMissingSecret = errors.New("config: JWT_SECRET is required")

// Load reads .env (when present) into the process environment and parses args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse(args, os.LookupEnv)
}

// Parse resolves the configuration from args and an environment lookup.
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}
	var (
		c       Config
		origins string
		proxies string
	)

	fset := flag.NewFlagSet("refkeeper", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	fset.StringVar(&c.HTTPAddr, "addr", env.str("HTTP_ADDR", ":3000"), "HTTP listen address")
	fset.StringVar(&c.OpsGRPCAddr, "ops-addr", env.str("OPS_GRPC_ADDR", ":9090"), "ops gRPC listen address")
	fset.StringVar(&c.DatabaseURL, "dsn", env.str("DATABASE_URL", ""), "PostgreSQL DSN")
	fset.StringVar(&c.RedisURL, "redis", env.str("REDIS_URL", ""), "Redis URL for the response cache")
	fset.StringVar(&c.JWTSecret, "jwt-secret", env.str("JWT_SECRET", ""), "HS256 secret (required)")
	fset.DurationVar(&c.SessionTTL, "session-ttl", env.duration("SESSION_TTL", 24*time.Hour), "session token TTL")
	fset.DurationVar(&c.ResetTTL, "reset-ttl", env.duration("RESET_TTL", 15*time.Minute), "password reset token TTL")
	fset.StringVar(&c.ResetURLBase, "reset-url", env.str("RESET_URL_BASE", "http://localhost:3001/reset-password"), "password reset link base")
	fset.DurationVar(&c.CacheTTL, "cache-ttl", env.duration("CACHE_TTL", 300*time.Second), "response cache TTL")
	fset.StringVar(&c.Env, "env", env.str("APP_ENV", "production"), "development or production")
	fset.StringVar(&origins, "origins", env.str("FRONTEND_URL", "http://localhost:3001"), "CORS origins, comma separated")
	fset.StringVar(&proxies, "trusted-proxies", env.str("TRUSTED_PROXIES", ""), "trusted proxy CIDRs, comma separated")
	fset.BoolVar(&c.CSRF, "csrf", env.boolean("CSRF_ENABLED", true), "enforce CSRF tokens")
	fset.BoolVar(&c.Reflection, "reflection", env.boolean("GRPC_REFLECTION", false), "enable gRPC reflection on the ops listener")
	fset.StringVar(&c.SMTPAddr, "smtp-addr", env.str("SMTP_ADDR", ""), "SMTP relay host:port; empty logs emails")
	fset.StringVar(&c.SMTPUser, "smtp-user", env.str("SMTP_USER", ""), "SMTP username")
	fset.StringVar(&c.SMTPPassword, "smtp-password", env.str("SMTP_PASSWORD", ""), "SMTP password")
	fset.StringVar(&c.MailFrom, "mail-from", env.str("MAIL_FROM", "noreply@refkeeper.local"), "sender address")
	fset.IntVar(&c.LoginMaxFails, "login-max-fails", env.integer("LOGIN_MAX_FAILS", 5), "failed logins before lockout")
	fset.DurationVar(&c.LoginWindow, "login-window", env.duration("LOGIN_WINDOW", 15*time.Minute), "failed login counting window")
	fset.DurationVar(&c.LoginBlock, "login-block", env.duration("LOGIN_BLOCK", 15*time.Minute), "lockout duration")

	if env.err != nil {
		return Config{}, env.err
	}
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	c.AllowedOrigins = splitList(origins)
	c.TrustedProxies = splitList(proxies)
	if c.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	if c.LoginMaxFails < 1 {
		return Config{}, fmt.Errorf("config: login max fails must be positive, got %d", c.LoginMaxFails)
	}
	return c, nil
}

// envReader records the first malformed value instead of failing each call.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare integers are seconds
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			e.fail(key, err)
			return def
		}
		d = time.Duration(n) * time.Second
	}
	return d
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s: %w", key, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
