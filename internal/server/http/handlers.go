package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/refkeeper/internal/convert"
	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

func (s *Server) setSession(c *gin.Context, tok model.Tokens) {
	maxAge := int(time.Until(tok.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookie, tok.AccessToken, maxAge, "/", "", s.opts.SecureCookies, true)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleCSRFToken(c *gin.Context) {
	tok, err := s.ensureCSRFCookie(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"csrfToken": tok})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	if err := checkPasswordStrength(req.Password); err != nil {
		s.fail(c, err)
		return
	}
	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	u, err := s.registrar.Register(c.Request.Context(), model.Registration{
		Email:        strings.TrimSpace(req.Email),
		Username:     strings.TrimSpace(req.Username),
		PasswordHash: hash,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	// the account exists; a session failure only costs the auto-login
	if tok, err := s.auth.IssueSession(u.ID); err != nil {
		s.log.Error("issue session after registration", zap.Stringer("user_id", u.ID), zap.Error(err))
	} else {
		s.setSession(c, tok)
	}
	c.JSON(http.StatusCreated, convert.ToRegisterResponse(u, msgRegistered))
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	tok, u, err := s.auth.Login(c.Request.Context(), req.Identifier, req.Password, c.ClientIP())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.setSession(c, tok)
	c.JSON(http.StatusOK, convert.ToLoginResponse(u))
}

func (s *Server) handleLogout(c *gin.Context) {
	id, _ := UserIDFrom(c)
	s.auth.Logout(c.Request.Context(), id)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", s.opts.SecureCookies, true)
	message(c, http.StatusOK, msgLoggedOut)
}

func (s *Server) handleForgotPassword(c *gin.Context) {
	var req forgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	if err := s.auth.ForgotPassword(c.Request.Context(), strings.TrimSpace(req.Email)); err != nil {
		s.fail(c, err)
		return
	}
	message(c, http.StatusOK, msgResetSent)
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	if err := s.auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, errs.ErrInvalidToken) {
			message(c, http.StatusBadRequest, msgInvalidReset)
			return
		}
		s.fail(c, err)
		return
	}
	message(c, http.StatusOK, msgPasswordReset)
}

func (s *Server) handleReferrals(c *gin.Context) {
	s.cachedJSON(c, func(ctx context.Context, id uuid.UUID) (any, error) {
		list, err := s.referrals.ListForReferrer(ctx, id)
		if err != nil {
			return nil, err
		}
		return convert.ToReferrals(list), nil
	})
}

func (s *Server) handleReferralStats(c *gin.Context) {
	s.cachedJSON(c, func(ctx context.Context, id uuid.UUID) (any, error) {
		n, err := s.referrals.CountSuccessful(ctx, id)
		if err != nil {
			return nil, err
		}
		return convert.ReferralStats{SuccessfulReferrals: n}, nil
	})
}

func (s *Server) handleRewards(c *gin.Context) {
	s.cachedJSON(c, func(ctx context.Context, id uuid.UUID) (any, error) {
		sum, err := s.rewards.ListForUser(ctx, id)
		if err != nil {
			return nil, err
		}
		return convert.ToRewards(sum), nil
	})
}

// cachedJSON serves a read through the response cache keyed by caller and path.
func (s *Server) cachedJSON(c *gin.Context, load func(ctx context.Context, id uuid.UUID) (any, error)) {
	id, _ := UserIDFrom(c)
	body, err := s.cache.Fetch(c.Request.Context(), id.String(), c.Request.URL.Path, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
