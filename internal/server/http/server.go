// Package httpserver exposes the referral API over HTTP using gin.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/and161185/refkeeper/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Authenticator is the identity and session collaborator.
type Authenticator interface {
	HashPassword(password string) (string, error)
	Login(ctx context.Context, identifier, password, ip string) (model.Tokens, model.User, error)
	IssueSession(userID uuid.UUID) (model.Tokens, error)
	Authenticate(token string) (uuid.UUID, error)
	Logout(ctx context.Context, userID uuid.UUID)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Registrar runs registration with referral attribution.
type Registrar interface {
	Register(ctx context.Context, reg model.Registration) (model.PublicUser, error)
}

// ReferralReader serves referral reads.
type ReferralReader interface {
	ListForReferrer(ctx context.Context, referrerID uuid.UUID) ([]model.Referral, error)
	CountSuccessful(ctx context.Context, referrerID uuid.UUID) (int64, error)
}

// RewardReader serves reward reads.
type RewardReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID) (model.RewardSummary, error)
}

// ResponseCache caches serialized read responses per identity and path.
type ResponseCache interface {
	Fetch(ctx context.Context, identity, path string, load func(context.Context) ([]byte, error)) ([]byte, error)
}

// Options tune transport behaviour.
type Options struct {
	Development    bool     // expose internal error detail
	SecureCookies  bool     // set the Secure cookie attribute
	CSRF           bool     // enforce double-submit CSRF tokens
	AllowedOrigins []string // CORS origins
	TrustedProxies []string // proxies whose X-Forwarded-For is honoured
}

// Server wires handlers to the services.
type Server struct {
	auth      Authenticator
	registrar Registrar
	referrals ReferralReader
	rewards   RewardReader
	cache     ResponseCache
	log       *zap.Logger
	opts      Options
	started   time.Time

	engine *gin.Engine
}

// New builds the gin engine with all routes mounted under /api and at the root.
func New(auth Authenticator, registrar Registrar, referrals ReferralReader, rewards RewardReader,
	cache ResponseCache, log *zap.Logger, opts Options) (*Server, error) {
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		auth:      auth,
		registrar: registrar,
		referrals: referrals,
		rewards:   rewards,
		cache:     cache,
		log:       log,
		opts:      opts,
		started:   time.Now(),
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(Recover(log), Logging(log), SecureHeaders(), CORS(opts.AllowedOrigins))
	r.NoRoute(func(c *gin.Context) { message(c, http.StatusNotFound, msgNotFound) })

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	s.mount(api)
	s.mount(&r.RouterGroup)

	s.engine = r
	return s, nil
}

func (s *Server) mount(g *gin.RouterGroup) {
	g.GET("/csrf-token", s.handleCSRFToken)

	if s.opts.CSRF {
		g = g.Group("", s.CSRF())
	}
	g.POST("/register", s.handleRegister)
	g.POST("/login", s.handleLogin)
	g.POST("/forgot-password", s.handleForgotPassword)
	g.POST("/reset-password", s.handleResetPassword)

	authed := g.Group("", s.RequireAuth())
	authed.POST("/logout", s.handleLogout)
	authed.GET("/referrals", s.handleReferrals)
	authed.GET("/referral-stats", s.handleReferralStats)
	authed.GET("/rewards", s.handleRewards)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve runs an http.Server on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
