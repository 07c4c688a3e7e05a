// Package policy is the HTTP client for the external policy evaluator.
// The gateway is fail-closed with respect to this dependency: any transport
// or contract failure surfaces as an EngineError and no seal is issued.
package policy

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

// EngineError marks a policy evaluator failure. Handlers translate it to 503.
type EngineError struct {
	msg string
	err error
}

func (e *EngineError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("policy engine: %s: %v", e.msg, e.err)
	}
	return "policy engine: " + e.msg
}

func (e *EngineError) Unwrap() error { return e.err }

func engineErr(msg string, err error) *EngineError {
	return &EngineError{msg: msg, err: err}
}

// Decision is the evaluator's answer for one manifest.
type Decision struct {
	Approved     bool
	DenialReason string
}

// Client queries an OPA-style evaluator over HTTP.
type Client struct {
	baseURL         string
	policyPath      string
	fallbackVersion string
	http            *http.Client
}

// NewClient creates a Client for the evaluator at baseURL.
//
//	policyPath      — document path of the decision rule, e.g. "relay/policies/main".
//	fallbackVersion — policy version reported when the metadata read fails.
//	timeout         — per-request timeout (default 5s).
func NewClient(baseURL, policyPath, fallbackVersion string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		policyPath:      strings.ReplaceAll(policyPath, ".", "/"),
		fallbackVersion: fallbackVersion,
		http:            &http.Client{Timeout: timeout},
	}
}

// Evaluate posts the policy input projection and returns the decision.
// Expected response shape: {"result": {"allow": bool, "reason": string}}.
// A missing result field, timeout, refused connection, or non-2xx status is
// an EngineError.
func (c *Client) Evaluate(ctx context.Context, input map[string]any) (*Decision, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, engineErr("marshal input", err)
	}

	url := c.baseURL + "/v1/data/" + c.policyPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, engineErr("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engineErr("query "+c.baseURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, engineErr(fmt.Sprintf("evaluator returned status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, engineErr("read response", err)
	}

	var parsed struct {
		Result *struct {
			Allow  bool   `json:"allow"`
			Reason string `json:"reason"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, engineErr("decode response", err)
	}
	if parsed.Result == nil {
		return nil, engineErr("response missing result field", nil)
	}

	d := &Decision{Approved: parsed.Result.Allow}
	if !d.Approved {
		d.DenialReason = parsed.Result.Reason
		if d.DenialReason == "" {
			d.DenialReason = "Policy violation"
		}
	}
	return d, nil
}

// HealthCheck reports whether the evaluator answers 200 on /health.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

// PolicyVersion reads the active policy version from the evaluator's
// metadata document. Best effort: any failure falls back to the configured
// default so a metadata hiccup never blocks validation.
func (c *Client) PolicyVersion(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/data/relay/metadata/version", nil)
	if err != nil {
		return c.fallbackVersion
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.fallbackVersion
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return c.fallbackVersion
	}
	var parsed struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&parsed); err != nil || parsed.Result == "" {
		return c.fallbackVersion
	}
	return parsed.Result
}
