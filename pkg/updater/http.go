package updater

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Mindburn-Labs/helm-recovery/pkg/recovery"
)

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second
)

// HTTPConfig configures the HTTP updater.
type HTTPConfig struct {
	// URL receives one POST per dispatch.
	URL string
	// CallbackBaseURL is this service's externally reachable base URL; the
	// result route is appended to it.
	CallbackBaseURL string
	// Timeout bounds each POST. Default: 10s.
	Timeout time.Duration
}

// HTTP hands updates to a remote identity system. A 2xx answer means the
// update was accepted; the result arrives later on the callback route.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	breaker *breaker
}

// Dispatch is the body posted to the identity system.
type Dispatch struct {
	recovery.UpdateRequest
	CallbackURL string `json:"callback_url"`
}

// NewHTTP creates an HTTP updater.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid updater url %q: %w", cfg.URL, err)
	}
	if _, err := url.ParseRequestURI(cfg.CallbackBaseURL); err != nil {
		return nil, fmt.Errorf("invalid callback base url %q: %w", cfg.CallbackBaseURL, err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker(defaultBreakerThreshold, defaultBreakerReset),
	}, nil
}

// CallbackURL returns the result route for requestID.
func (u *HTTP) CallbackURL(requestID string) string {
	return strings.TrimRight(u.cfg.CallbackBaseURL, "/") + "/internal/v1/recoveries/" + url.PathEscape(requestID) + "/result"
}

func (u *HTTP) RequestUpdate(ctx context.Context, req recovery.UpdateRequest) error {
	body, err := json.Marshal(Dispatch{UpdateRequest: req, CallbackURL: u.CallbackURL(req.RequestID)})
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.AttemptID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	// Every path after allow() reports back, or a half-open probe never ends.
	if !u.breaker.allow() {
		return fmt.Errorf("updater circuit open for %s", u.cfg.URL)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		u.breaker.failure()
		return fmt.Errorf("dispatch to updater: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode >= 500 {
			u.breaker.failure()
		} else {
			u.breaker.success()
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("updater rejected dispatch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	u.breaker.success()
	return nil
}
