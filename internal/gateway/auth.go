package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// tokenSkew treats a token as expired slightly early so in-flight calls do not
// race its expiry.
const tokenSkew = 30 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// FetchAuthToken runs the password grant and caches the access token for all
// later authorized calls.
func (c *Client) FetchAuthToken(ctx context.Context) (string, error) {
	const op = "fetch_auth_token"

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	body, err := c.do(ctx, request{
		op:          op,
		upstream:    upstreamIdentity,
		method:      http.MethodPost,
		url:         c.cfg.IdentityURL,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%s: decode: %w", op, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%s: %w", op, ErrAuth)
	}

	expiry := c.tokenExpiryFor(tr)
	c.mu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return tr.AccessToken, nil
}

// tokenExpiryFor prefers the JWT exp claim, then expires_in. A zero time means
// the token does not expire.
func (c *Client) tokenExpiryFor(tr tokenResponse) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if tr.ExpiresIn > 0 {
		return c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// Token returns the cached access token, or "" when none is cached or it has expired.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return ""
	}
	if !c.tokenExpiry.IsZero() && !c.now().Add(tokenSkew).Before(c.tokenExpiry) {
		return ""
	}
	return c.token
}

// TokenExpiry returns the expiry of the cached token; zero when unknown.
func (c *Client) TokenExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenExpiry
}
