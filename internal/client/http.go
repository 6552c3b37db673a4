package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apiKeyHeader       = "X-API-Key"
	healthCheckTimeout = 10 * time.Second
	maxErrorBodyBytes  = 4096
)

// HTTPTransport posts payloads straight to a prediction URL.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	policy   Policy
	sleep    SleepFunc
	http     *http.Client
	logger   *zap.Logger
}

func newHTTPTransport(cfg Config, httpClient *http.Client, sleep SleepFunc, logger *zap.Logger) *HTTPTransport {
	return &HTTPTransport{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		policy:   DefaultPolicy(cfg.MaxRetries),
		sleep:    sleep,
		http:     httpClient,
		logger:   logger,
	}
}

func (t *HTTPTransport) Predict(ctx context.Context, payload *Payload) (*Artifact, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; ; attempt++ {
		t.logger.Debug("Sending prediction request",
			zap.String("endpoint", t.endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", t.policy.MaxAttempts),
		)

		artifact, err := t.post(ctx, body)
		if err == nil {
			return artifact, nil
		}

		switch d := t.policy.Decide(attempt, err).(type) {
		case GiveUp:
			return nil, d.Err
		case Retry:
			t.logger.Warn("Prediction request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", t.policy.MaxAttempts),
				zap.Duration("delay", d.Delay),
				zap.Error(err),
			)
			if err := t.sleep(ctx, d.Delay); err != nil {
				return nil, err
			}
		}
	}
}

// post performs a single attempt bounded by the per-attempt timeout.
func (t *HTTPTransport) post(ctx context.Context, body []byte) (*Artifact, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		// the caller gave up; this is not a transport fault
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "POST " + t.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "read response", Err: err}
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &UnexpectedResponseError{Detail: "response is not a JSON object", Err: err}
	}

	field, ok := result[ArtifactField]
	if !ok {
		return nil, &UnexpectedResponseError{Detail: "response has no " + ArtifactField + " field"}
	}

	var encoded string
	if err := json.Unmarshal(field, &encoded); err != nil {
		return nil, &UnexpectedResponseError{Detail: ArtifactField + " is not a string", Err: err}
	}

	return decodeArtifact(encoded)
}

// Health probes the /health sibling of the prediction URL.
func (t *HTTPTransport) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(t.endpoint), nil)
	if err != nil {
		return false
	}

	resp, err := t.http.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			t.logger.Debug("Health check failed", zap.Error(err))
		}
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func healthURL(endpoint string) string {
	return strings.ReplaceAll(endpoint, "/predict", "/health")
}
