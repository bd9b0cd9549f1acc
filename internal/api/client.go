// Package api translates business operations into authenticated HTTP
// requests against the MindSentry backend, isolating callers from transport
// concerns. Non-2xx responses map onto the shared error taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	syncerrors "github.com/mindsentry/mindsync/internal/errors"
	"github.com/mindsentry/mindsync/internal/types"
)

// TokenProvider is the external auth collaborator. Token refresh is out of
// scope here; a 401 response delegates straight to Logout.
type TokenProvider interface {
	// AccessToken returns the current bearer token, or ok=false when the
	// user is signed out.
	AccessToken() (token string, ok bool)

	// Logout clears stored credentials. Called once when the backend
	// reports the session invalid.
	Logout()
}

// Client is the thin HTTP layer: one method per business operation.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
}

// New constructs a Client. httpClient may carry a custom timeout; when nil a
// default client with an 8s timeout is used, bounding every request.
func New(baseURL string, tokens TokenProvider, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	c := &Client{baseURL: baseURL, http: httpClient, tokens: tokens}
	c.wrapTransportWithBearer()
	return c
}

// wrapTransportWithBearer installs a RoundTripper that attaches the
// Authorization header whenever the TokenProvider yields a token. The debug
// transport, when requested via environment, sits beneath the bearer
// wrapper so dumps show the request as sent.
func (c *Client) wrapTransportWithBearer() {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if debugLoggingRequested() {
		base = &debugTransport{base: base}
	}
	c.http.Transport = &bearerTransport{base: base, tokens: c.tokens}
}

type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenProvider
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok := t.tokens.AccessToken()
	if !ok || token == "" {
		return t.base.RoundTrip(req)
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(cloned)
}

// SubmitCheckIn delivers one queued check-in. idempotencyKey is the record's
// stable local id, letting the backend deduplicate at-least-once delivery.
func (c *Client) SubmitCheckIn(ctx context.Context, req types.CheckInRequest, idempotencyKey string) error {
	return c.postJSON(ctx, "submit check-in", "/api/check-in", req, idempotencyKey)
}

// SendChatMessage delivers one queued chat message.
func (c *Client) SendChatMessage(ctx context.Context, req types.ChatMessageRequest, idempotencyKey string) error {
	return c.postJSON(ctx, "send chat message", "/api/chat", req, idempotencyKey)
}

// FetchDashboard retrieves the dashboard aggregate.
func (c *Client) FetchDashboard(ctx context.Context) (*types.Dashboard, error) {
	var d types.Dashboard
	if err := c.getJSON(ctx, "fetch dashboard", "/api/dashboard", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FetchInsights retrieves the mood trend time series.
func (c *Client) FetchInsights(ctx context.Context) (*types.Insights, error) {
	var ins types.Insights
	if err := c.getJSON(ctx, "fetch insights", "/api/insights", &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any, idempotencyKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.networkError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.networkError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// networkError maps transport failures onto NetworkError, flagging timeouts.
func (c *Client) networkError(op string, err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &syncerrors.NetworkError{Op: op, Timeout: timeout, Err: err}
}

// statusError maps a non-2xx response. 401 invalidates the session: the
// sign-out side effect fires here, once, before the AuthError surfaces.
func (c *Client) statusError(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Logout()
		return &syncerrors.AuthError{Op: op}
	}
	return &syncerrors.APIError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Detail:     decodeDetail(resp.Body),
	}
}

// decodeDetail extracts the server-provided detail message. The backend
// sends either {"detail": "..."} or {"detail": [{"msg": "..."}, ...]} for
// validation errors; anything unparseable falls back to a generic message.
func decodeDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil {
		return "request failed"
	}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		return "request failed"
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	var validation []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &validation); err == nil && len(validation) > 0 {
		return validation[0].Msg
	}
	return "request failed"
}
