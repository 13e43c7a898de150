package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/circuitbreaker"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/metrics"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/retry"
)

// ErrUnavailable means the circuit to the payment platform is open after
// repeated failures; the caller should surface an internal error and let the
// admin retry later.
var ErrUnavailable = errors.New("payment platform temporarily unavailable")

// HTTPClient talks to the payment platform's REST API.
// The API key is sent as the basic-auth username with an empty password.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
}

// NewHTTPClient creates a payment platform client.
func NewHTTPClient(baseURL, username, password string) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (c *HTTPClient) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	// Reads are safe to retry; captures and refunds are not.
	var charge *Charge
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		var err error
		charge, err = c.do(ctx, "get_charge", http.MethodGet, "/v1/charges/"+url.PathEscape(chargeID), nil)
		if err == nil {
			return nil
		}
		var platformErr *Error
		if errors.Is(err, ErrChargeNotFound) || errors.Is(err, ErrUnavailable) ||
			(errors.As(err, &platformErr) && platformErr.Status < 500) {
			return retry.Permanent(err)
		}
		return err
	})
	return charge, err
}

func (c *HTTPClient) CaptureCharge(ctx context.Context, chargeID string) (*Charge, error) {
	return c.do(ctx, "capture_charge", http.MethodPost, "/v1/charges/"+url.PathEscape(chargeID)+"/capture", nil)
}

func (c *HTTPClient) RefundCharge(ctx context.Context, chargeID, reason string) (*Charge, error) {
	form := url.Values{}
	if reason != "" {
		form.Set("refund_reason", reason)
	}
	return c.do(ctx, "refund_charge", http.MethodPost, "/v1/charges/"+url.PathEscape(chargeID)+"/refund", form)
}

func (c *HTTPClient) do(ctx context.Context, operation, method, path string, form url.Values) (*Charge, error) {
	if !c.breaker.Allow(operation) {
		metrics.PlatformRequestsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, ErrUnavailable
	}

	timer := prometheus.NewTimer(metrics.PlatformRequestDuration.WithLabelValues(operation))
	charge, err := c.doRequest(ctx, method, path, form)
	timer.ObserveDuration()

	// Business rejections (4xx) do not indicate an unhealthy platform.
	var platformErr *Error
	switch {
	case err == nil, errors.Is(err, ErrChargeNotFound),
		errors.As(err, &platformErr) && platformErr.Status < 500:
		c.breaker.RecordSuccess(operation)
	default:
		c.breaker.RecordFailure(operation)
	}

	if err != nil {
		metrics.PlatformRequestsTotal.WithLabelValues(operation, "error").Inc()
	} else {
		metrics.PlatformRequestsTotal.WithLabelValues(operation, "ok").Inc()
	}
	return charge, err
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, form url.Values) (*Charge, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment platform request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read platform response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrChargeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, data)
	}

	var charge Charge
	if err := json.Unmarshal(data, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode charge: %w", err)
	}
	return &charge, nil
}

// decodeError parses the platform's error envelope. If the body is not the
// expected shape the raw status still produces a usable *Error.
func decodeError(status int, data []byte) error {
	var envelope struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		e := envelope.Error
		if e.Status == 0 {
			e.Status = status
		}
		return &e
	}
	return &Error{Status: status, Code: "unknown", Message: strings.TrimSpace(string(data))}
}

// Compile-time assertion that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
