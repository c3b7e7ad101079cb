package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyloom_relay_upstream_requests_total",
	Help: "Requests the relay forwarded upstream, by kind and status code (0 for transport errors).",
}, []string{"kind", "status"})

var upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "storyloom_relay_upstream_duration_seconds",
	Help:    "Latency of upstream requests made by the relay.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
}, []string{"kind"})

// Upstream forwards relay requests to model providers and webhook receivers.
type Upstream interface {
	ChatCompletions(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error)
	PostJSON(ctx context.Context, url string, payload any, headers map[string]string, timeout time.Duration) (int, error)
}

// UpstreamClient is the HTTP implementation of Upstream.
type UpstreamClient struct {
	httpClient *http.Client
}

var _ Upstream = (*UpstreamClient)(nil)

// NewUpstreamClient creates a client whose completion calls time out after timeout.
func NewUpstreamClient(timeout time.Duration) *UpstreamClient {
	return &UpstreamClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatCompletions POSTs payload to <baseURL>/chat/completions with a bearer key.
// Any HTTP status is returned as-is; err is set only when no response was received.
func (u *UpstreamClient) ChatCompletions(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error) {
	start := time.Now()
	defer func() { upstreamDuration.WithLabelValues("completion").Observe(time.Since(start).Seconds()) }()

	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		upstreamRequests.WithLabelValues("completion", "0").Inc()
		return 0, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamRequests.WithLabelValues("completion", "0").Inc()
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	upstreamRequests.WithLabelValues("completion", strconv.Itoa(resp.StatusCode)).Inc()
	return resp.StatusCode, body, nil
}

// PostJSON POSTs payload as JSON and returns only the status code.
func (u *UpstreamClient) PostJSON(ctx context.Context, url string, payload any, headers map[string]string, timeout time.Duration) (int, error) {
	start := time.Now()
	defer func() { upstreamDuration.WithLabelValues("webhook").Observe(time.Since(start).Seconds()) }()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	// The completion timeout does not apply here; the context carries the deadline.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		upstreamRequests.WithLabelValues("webhook", "0").Inc()
		return 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	upstreamRequests.WithLabelValues("webhook", strconv.Itoa(resp.StatusCode)).Inc()
	return resp.StatusCode, nil
}
