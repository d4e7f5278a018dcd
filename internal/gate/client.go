package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trustcore/internal/session"
	"trustcore/internal/svcauth"
)

// Client is the cross-service Validator: it calls the session authority's
// internal RPC over HTTP. Any transport error, timeout, or non-2xx response
// surfaces as an error, which the gate treats as "authority unreachable" and
// rejects fail-closed.
type Client struct {
	baseURL     string
	serviceName string
	secret      string
	http        *http.Client
}

func NewClient(baseURL, serviceName, secret string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gate: base URL is required")
	}
	if serviceName == "" || secret == "" {
		return nil, fmt.Errorf("gate: internal caller credentials are required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		serviceName: serviceName,
		secret:      secret,
		http:        &http.Client{Timeout: timeout},
	}, nil
}

type validateRequest struct {
	SessionToken string `json:"session_token"`
}

func (c *Client) Validate(ctx context.Context, sessionToken string) (session.ValidationResult, error) {
	var res session.ValidationResult
	if err := c.post(ctx, "/internal/sessions/validate", validateRequest{SessionToken: sessionToken}, &res); err != nil {
		return session.ValidationResult{}, err
	}
	return res, nil
}

// Touch is a no-op for the remote path: the authority's validate endpoint
// refreshes activity itself on a valid result, keeping the hot path at one
// round trip.
func (c *Client) Touch(ctx context.Context, sessionToken string) error {
	return nil
}

type revokeRequest struct {
	SessionToken string `json:"session_token"`
	Reason       string `json:"reason"`
}

// Revoke terminates a session through the authority.
func (c *Client) Revoke(ctx context.Context, sessionToken, reason string) error {
	var res struct {
		Success bool `json:"success"`
	}
	return c.post(ctx, "/internal/sessions/revoke", revokeRequest{SessionToken: sessionToken, Reason: reason}, &res)
}

type revokeAllRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// RevokeAllForUser terminates every session of a user through the authority.
func (c *Client) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	var res struct {
		SessionsRevoked int `json:"sessions_revoked"`
	}
	if err := c.post(ctx, "/internal/sessions/revoke-all", revokeAllRequest{UserID: userID, Reason: reason}, &res); err != nil {
		return 0, err
	}
	return res.SessionsRevoked, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(svcauth.HeaderInternalToken, c.secret)
	req.Header.Set(svcauth.HeaderServiceName, c.serviceName)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("session authority returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
