package registry

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/terrazul-ai/tz/internal/errs"
)

// AuthSession is the response of the CLI device-auth initiate endpoint.
type AuthSession struct {
	SessionID       string `json:"sessionId"`
	VerificationURL string `json:"verificationUrl"`
	ExpiresIn       int    `json:"expiresIn"`
}

// AuthToken is the response of the complete/introspect endpoints.
type AuthToken struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	Subject   string `json:"subject"`
}

// AuthInitiate starts a CLI device-auth flow (spec §4.E auth endpoints).
// Real login UX (opening a browser, polling a TUI) is out of scope here —
// internal/shim defines the interface the command layer drives.
func (c *Client) AuthInitiate(ctx context.Context) (*AuthSession, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/cli/initiate", http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	var out AuthSession
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "decode auth session", err)
	}
	return &out, nil
}

// AuthComplete exchanges a completed session for a token.
func (c *Client) AuthComplete(ctx context.Context, sessionID string) (*AuthToken, error) {
	var out AuthToken
	if err := c.getJSON(ctx, "/auth/v1/cli/complete?session="+sessionID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthIntrospect validates the client's current token and returns its
// claims.
func (c *Client) AuthIntrospect(ctx context.Context) (*AuthToken, error) {
	var out AuthToken
	if err := c.getJSON(ctx, "/auth/v1/cli/introspect", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeToken deletes a token server-side by ID.
func (c *Client) RevokeToken(ctx context.Context, tokenID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/auth/v1/tokens/"+tokenID, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus(resp)
}
