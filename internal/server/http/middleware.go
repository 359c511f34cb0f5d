package httpserver

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/refkeeper/internal/crypto"
	"github.com/and161185/refkeeper/internal/errs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionCookie = "token"
	csrfCookie    = "csrfToken"
	csrfHeader    = "X-CSRF-Token"
)

// Logging returns a middleware for structured request logging.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// no payloads, metadata only
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		)
	}
}

// Recover returns a middleware that recovers from panics.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
				)
				message(c, http.StatusInternalServerError, msgInternal)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// SecureHeaders sets conservative browser security headers.
func SecureHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		c.Next()
	}
}

// CORS allows credentialed cross-origin calls from allowedOrigins. "*" allows
// every origin; the concrete origin is echoed back, never "*". Requests from
// other origins are rejected with 403.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if allowAll {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", csrfHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func newCSRFToken() (string, error) {
	b, err := pkgcrypto.RandBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ensureCSRFCookie returns the caller's CSRF token, issuing a cookie when absent.
func (s *Server) ensureCSRFCookie(c *gin.Context) (string, error) {
	if tok, err := c.Cookie(csrfCookie); err == nil && tok != "" {
		return tok, nil
	}
	tok, err := newCSRFToken()
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(csrfCookie, tok, 0, "/", "", s.opts.SecureCookies, true)
	return tok, nil
}

// CSRF implements the double-submit check: state changing requests must echo
// the csrfToken cookie in the X-CSRF-Token header.
func (s *Server) CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			if _, err := s.ensureCSRFCookie(c); err != nil {
				s.fail(c, err)
				return
			}
			c.Next()
			return
		}
		cookie, _ := c.Cookie(csrfCookie)
		header := c.GetHeader(csrfHeader)
		if cookie == "" || header == "" || subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			message(c, http.StatusForbidden, msgCSRFFailed)
			c.Abort()
			return
		}
		c.Next()
	}
}

// sessionToken reads the session from the cookie or an Authorization bearer header.
func sessionToken(c *gin.Context) string {
	if tok, err := c.Cookie(sessionCookie); err == nil && tok != "" {
		return tok
	}
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// RequireAuth rejects requests without a valid session.
func (s *Server) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.auth.Authenticate(sessionToken(c))
		if err != nil {
			if !errors.Is(err, errs.ErrUnauthenticated) {
				err = errs.ErrInvalidToken
			}
			s.fail(c, err)
			return
		}
		WithUserID(c, id)
		c.Next()
	}
}
