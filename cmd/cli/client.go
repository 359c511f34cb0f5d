package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	sessionCookie = "token"
	csrfCookie    = "csrfToken"
	csrfHeader    = "X-CSRF-Token"
)

// apiError is a non-2xx response carrying the server's {message}.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// client talks to the referral HTTP API. Cookies are handled by hand so the
// Secure attribute does not hide them on plain HTTP development servers.
type client struct {
	server string
	hc     *http.Client
	token  string
	csrf   string

	session    string
	sessionExp time.Time
}

func newClient(server string, timeout time.Duration, token string) *client {
	return &client{
		server: strings.TrimRight(server, "/"),
		hc:     &http.Client{Timeout: timeout},
		token:  token,
	}
}

func (c *client) ensureCSRF(ctx context.Context) error {
	if c.csrf != "" {
		return nil
	}
	var out struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/csrf-token", nil, &out); err != nil {
		return fmt.Errorf("fetch csrf token: %w", err)
	}
	if c.csrf == "" {
		c.csrf = out.CSRFToken
	}
	return nil
}

// call performs a request, fetching a CSRF token first for state changing methods.
func (c *client) call(ctx context.Context, method, path string, in, out any) error {
	if method != http.MethodGet {
		if err := c.ensureCSRF(ctx); err != nil {
			return err
		}
	}
	return c.do(ctx, method, path, in, out)
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookie, Value: c.csrf})
		req.Header.Set(csrfHeader, c.csrf)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case csrfCookie:
			c.csrf = ck.Value
		case sessionCookie:
			if ck.MaxAge > 0 && ck.Value != "" {
				c.session = ck.Value
				c.sessionExp = time.Now().Add(time.Duration(ck.MaxAge) * time.Second)
			}
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			apiErr.Message = msg.Message
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// persistSession stores a session cookie received from register or login.
func (c *client) persistSession() error {
	if c.session == "" {
		return nil
	}
	return saveToken(tokenFile{Server: c.server, AccessToken: c.session, ExpiresAt: c.sessionExp})
}
