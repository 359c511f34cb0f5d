package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse(nil, envMap(map[string]string{"JWT_SECRET": "s"}))
	require.NoError(t, err)
	require.Equal(t, ":3000", c.HTTPAddr)
	require.Equal(t, ":9090", c.OpsGRPCAddr)
	require.Empty(t, c.DatabaseURL)
	require.Empty(t, c.RedisURL)
	require.Equal(t, 24*time.Hour, c.SessionTTL)
	require.Equal(t, 15*time.Minute, c.ResetTTL)
	require.Equal(t, 300*time.Second, c.CacheTTL)
	require.True(t, c.CSRF)
	require.False(t, c.Development())
	require.Equal(t, []string{"http://localhost:3001"}, c.AllowedOrigins)
	require.Nil(t, c.TrustedProxies)
	require.Equal(t, 5, c.LoginMaxFails)
}

func TestParse_EnvAndFlagPrecedence(t *testing.T) {
	env := envMap(map[string]string{
		"JWT_SECRET":      "from-env",
		"HTTP_ADDR":       ":8080",
		"CACHE_TTL":       "60",
		"SESSION_TTL":     "2h",
		"APP_ENV":         "Development",
		"FRONTEND_URL":    "http://a.example, http://b.example ,",
		"CSRF_ENABLED":    "false",
		"LOGIN_MAX_FAILS": "3",
	})
	c, err := Parse([]string{"-addr", ":9000", "-jwt-secret", "from-flag"}, env)
	require.NoError(t, err)
	require.Equal(t, ":9000", c.HTTPAddr)
	require.Equal(t, "from-flag", c.JWTSecret)
	require.Equal(t, time.Minute, c.CacheTTL)
	require.Equal(t, 2*time.Hour, c.SessionTTL)
	require.True(t, c.Development())
	require.Equal(t, []string{"http://a.example", "http://b.example"}, c.AllowedOrigins)
	require.False(t, c.CSRF)
	require.Equal(t, 3, c.LoginMaxFails)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(nil, envMap(nil))
	require.ErrorIs(t, err, ErrMissingSecret)

	_, err = Parse(nil, envMap(map[string]string{"JWT_SECRET": "s", "RESET_TTL": "soon"}))
	require.ErrorContains(t, err, "RESET_TTL")

	_, err = Parse(nil, envMap(map[string]string{"JWT_SECRET": "s", "CSRF_ENABLED": "maybe"}))
	require.ErrorContains(t, err, "CSRF_ENABLED")

	_, err = Parse([]string{"-login-max-fails", "0"}, envMap(map[string]string{"JWT_SECRET": "s"}))
	require.Error(t, err)

	_, err = Parse([]string{"-no-such-flag"}, envMap(map[string]string{"JWT_SECRET": "s"}))
	require.Error(t, err)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=dotenv\nOPS_GRPC_ADDR=:7070\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("OPS_GRPC_ADDR")
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("OPS_GRPC_ADDR")
	})

	c, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "dotenv", c.JWTSecret)
	require.Equal(t, ":7070", c.OpsGRPCAddr)
}

func TestLoad_WithoutDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "env")
	c, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "env", c.JWTSecret)
}
