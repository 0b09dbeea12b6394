// Package client provides a typed Go client for the recovery API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/api"
	"github.com/Mindburn-Labs/helm-recovery/pkg/recovery"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status  int
	Title   string
	Detail  string
	TraceID string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("recovery api %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("recovery api %d: %s: %s", e.Status, e.Title, e.Detail)
}

// Client is a typed client for the recovery API. Token authenticates the
// caller; the server derives the acting account from it.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var p api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&p); err == nil && p.Status != 0 {
			return &APIError{Status: resp.StatusCode, Title: p.Title, Detail: p.Detail, TraceID: p.TraceID}
		}
		return &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// SetGuardians calls PUT /api/v1/guardians.
func (c *Client) SetGuardians(ctx context.Context, guardians ...string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/guardians", map[string][]string{"guardians": guardians}, nil)
}

// Guardians is the guardian set of one account.
type Guardians struct {
	Account   string   `json:"account"`
	Guardians []string `json:"guardians"`
}

// GetGuardians calls GET /api/v1/guardians/{account}.
func (c *Client) GetGuardians(ctx context.Context, account string) (*Guardians, error) {
	var out Guardians
	if err := c.do(ctx, http.MethodGet, "/api/v1/guardians/"+url.PathEscape(account), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateRecovery calls POST /api/v1/recoveries and returns the request id.
func (c *Client) InitiateRecovery(ctx context.Context, account, newCredential string) (string, error) {
	var out struct {
		RequestID string `json:"request_id"`
	}
	body := map[string]string{"account": account, "new_credential": newCredential}
	if err := c.do(ctx, http.MethodPost, "/api/v1/recoveries", body, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// ApproveRecovery calls POST /api/v1/recoveries/{id}/approvals.
func (c *Client) ApproveRecovery(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/recoveries/"+url.PathEscape(requestID)+"/approvals", nil, nil)
}

// Execution identifies one dispatch attempt.
type Execution struct {
	RequestID string `json:"request_id"`
	AttemptID string `json:"attempt_id"`
}

// ExecuteRecovery calls POST /api/v1/recoveries/{id}/execute.
func (c *Client) ExecuteRecovery(ctx context.Context, requestID string) (*Execution, error) {
	var out Execution
	if err := c.do(ctx, http.MethodPost, "/api/v1/recoveries/"+url.PathEscape(requestID)+"/execute", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRecoveryRequest calls GET /api/v1/recoveries/{id}. A request that is
// no longer tracked returns (nil, nil).
func (c *Client) GetRecoveryRequest(ctx context.Context, requestID string) (*recovery.View, error) {
	var out recovery.View
	err := c.do(ctx, http.MethodGet, "/api/v1/recoveries/"+url.PathEscape(requestID), nil, &out)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetApprovalCount calls GET /api/v1/recoveries/{id}/approvals/count.
func (c *Client) GetApprovalCount(ctx context.Context, requestID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/recoveries/"+url.PathEscape(requestID)+"/approvals/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ReportResult calls POST /internal/v1/recoveries/{id}/result. It is what an
// external identity system uses to answer a dispatch; token is the callback
// token it received with the dispatch.
func (c *Client) ReportResult(ctx context.Context, requestID, token string, result recovery.UpdateResult) error {
	body := recovery.ResultBody{UpdateResult: result, CallbackToken: token}
	return c.do(ctx, http.MethodPost, "/internal/v1/recoveries/"+url.PathEscape(requestID)+"/result", body, nil)
}
