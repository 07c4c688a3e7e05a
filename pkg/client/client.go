// Package client provides the Relay Go SDK: tenant registration, manifest
// validation, and the seal lifecycle against a Relay gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/relay-protocol/relay/pkg/relay"
)

// Error sentinels mirrored from the gateway's status codes.
var (
	// ErrDenied is returned by ValidateStrict when policy denies the manifest.
	ErrDenied = errors.New("manifest denied by policy")
	// ErrSealSpent is returned by MarkExecuted on a replayed seal.
	ErrSealSpent = errors.New("seal already executed")
	// ErrNotFound is returned for unknown seals, manifests, or orgs.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned on 401/403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPolicyUnavailable is returned when the gateway reports 503 because
	// its policy evaluator is unreachable.
	ErrPolicyUnavailable = errors.New("policy evaluator unavailable")
)

// Client is the Relay SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// token state — guarded by mu
	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained bearer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the gateway at baseURL.
//
//	c, err := client.New("http://localhost:8000",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetBearerToken replaces the token attached to subsequent requests.
// RegisterOrganization calls this automatically with the admin token from
// the response.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// RegisterOrganization creates a new org and adopts the returned admin token
// for subsequent calls.
func (c *Client) RegisterOrganization(ctx context.Context, orgName, contactEmail string) (*relay.OrgRegisterResponse, error) {
	var out relay.OrgRegisterResponse
	err := c.do(ctx, http.MethodPost, "/v1/orgs/register", relay.OrgRegisterRequest{
		OrgName:      orgName,
		ContactEmail: contactEmail,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.SetBearerToken(out.AccessToken)
	return &out, nil
}

// RegisterAgent mints an agent under the authenticated org.
func (c *Client) RegisterAgent(ctx context.Context, agentName, description string) (*relay.AgentRegisterResponse, error) {
	var out relay.AgentRegisterResponse
	err := c.do(ctx, http.MethodPost, "/v1/agents/register", relay.AgentRegisterRequest{
		AgentName:   agentName,
		Description: description,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate submits a manifest for a policy decision. A denial is not a
// transport error: the response carries approved=false and the denial
// reason. Use ValidateStrict to turn denials into ErrDenied.
func (c *Client) Validate(ctx context.Context, m *relay.Manifest, dryRun bool) (*relay.ValidationResponse, error) {
	var out relay.ValidationResponse
	err := c.do(ctx, http.MethodPost, "/v1/manifest/validate", relay.ValidationRequest{
		Manifest: *m,
		DryRun:   dryRun,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateStrict is Validate with denials surfaced as ErrDenied.
func (c *Client) ValidateStrict(ctx context.Context, m *relay.Manifest) (*relay.ValidationResponse, error) {
	out, err := c.Validate(ctx, m, false)
	if err != nil {
		return nil, err
	}
	if !out.Approved {
		return out, fmt.Errorf("%w: %s", ErrDenied, out.DenialReason)
	}
	return out, nil
}

// VerifySeal fetches the verification report for a seal without consuming it.
func (c *Client) VerifySeal(ctx context.Context, sealID string) (*relay.VerificationResponse, error) {
	var out relay.VerificationResponse
	path := "/v1/seal/verify?seal_id=" + url.QueryEscape(sealID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkExecuted consumes the seal's one-time-use bit. A replay returns
// ErrSealSpent.
func (c *Client) MarkExecuted(ctx context.Context, sealID string) error {
	path := "/v1/seal/mark-executed?seal_id=" + url.QueryEscape(sealID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do performs one JSON request/response round trip against the gateway.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// statusError maps gateway status codes onto the package sentinels, keeping
// the server's error message attached.
func statusError(code int, raw []byte) error {
	var parsed struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		msg = parsed.Error
	}

	switch code {
	case http.StatusBadRequest:
		if strings.Contains(msg, "already executed") {
			return fmt.Errorf("%w: %s", ErrSealSpent, msg)
		}
		return fmt.Errorf("gateway rejected request: %s", msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrPolicyUnavailable, msg)
	default:
		return fmt.Errorf("gateway returned status %d: %s", code, msg)
	}
}
