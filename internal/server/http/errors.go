package httpserver

import (
	"errors"
	"net/http"

	"github.com/and161185/refkeeper/internal/convert"
	"github.com/and161185/refkeeper/internal/errs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response messages shared with clients.
const (
	msgNoToken          = "No token provided"
	msgInvalidToken     = "Invalid token"
	msgInvalidCreds     = "Invalid credentials"
	msgEmailTaken       = "Email already in use"
	msgUsernameTaken    = "Username already in use"
	msgUserExists       = "User already exists"
	msgRateLimited      = "Too many requests, please try again later"
	msgResetSent        = "If the email exists, a reset link has been sent"
	msgInvalidReset     = "Invalid or expired token"
	msgRegistered       = "Registration successful"
	msgLoggedOut        = "Successfully logged out"
	msgPasswordReset    = "Password reset successful"
	msgCSRFFailed       = "CSRF token validation failed"
	msgInternal         = "Internal server error"
	msgNotFound         = "Not found"
	msgMalformedRequest = "Malformed request body"
)

// statusFor maps a service error to an HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, errs.ValidationReason(err)
	case errors.Is(err, errs.ErrUnauthenticated):
		return http.StatusUnauthorized, msgNoToken
	case errors.Is(err, errs.ErrInvalidToken):
		return http.StatusUnauthorized, msgInvalidToken
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, msgInvalidCreds
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, errs.ErrEmailTaken):
		return http.StatusConflict, msgEmailTaken
	case errors.Is(err, errs.ErrUsernameTaken):
		return http.StatusConflict, msgUsernameTaken
	case errors.Is(err, errs.ErrDuplicateUser), errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, msgUserExists
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// fail writes the uniform error body. Internal detail is attached only in development.
func (s *Server) fail(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := convert.Message{Message: msg}
	if s.opts.Development {
		body.Error = err.Error()
	}
	c.AbortWithStatusJSON(code, body)
}

func message(c *gin.Context, code int, msg string) {
	c.JSON(code, convert.Message{Message: msg})
}
