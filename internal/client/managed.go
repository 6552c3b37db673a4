package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ManagedTransport talks to an endpoint deployed on the Vertex AI platform,
// looked up by display name.
type ManagedTransport struct {
	name      string
	projectID string
	region    string
	timeout   time.Duration
	baseURL   string
	http      *http.Client
	logger    *zap.Logger

	tokenOnce   sync.Once
	tokenSource oauth2.TokenSource
	tokenErr    error
}

func newManagedTransport(cfg Config, httpClient *http.Client, baseURL string, ts oauth2.TokenSource, logger *zap.Logger) *ManagedTransport {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", cfg.Region)
	}

	return &ManagedTransport{
		name:        cfg.Endpoint,
		projectID:   cfg.ProjectID,
		region:      cfg.Region,
		timeout:     cfg.Timeout,
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        httpClient,
		logger:      logger,
		tokenSource: ts,
	}
}

type endpointList struct {
	Endpoints []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"endpoints"`
}

type predictRequest struct {
	Instances []*Payload `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}

// Predict sends a single attempt; managed endpoints are not retried.
func (t *ManagedTransport) Predict(ctx context.Context, payload *Payload) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resource, err := t.lookup(ctx)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Sending managed prediction request",
		zap.String("endpoint", resource),
		zap.Int64("seed", payload.Seed),
	)

	var out predictResponse
	if err := t.do(ctx, http.MethodPost, t.baseURL+"/"+resource+":predict", predictRequest{Instances: []*Payload{payload}}, &out); err != nil {
		return nil, err
	}

	if len(out.Predictions) == 0 {
		return nil, &UnexpectedResponseError{Detail: "no predictions returned"}
	}

	prediction, err := decodePrediction(out.Predictions[0])
	if err != nil {
		return nil, err
	}

	return artifactFromPrediction(prediction)
}

// Health always reports true; the platform owns endpoint health.
func (t *ManagedTransport) Health(ctx context.Context) bool {
	return true
}

// lookup resolves the display name into the endpoint resource name.
func (t *ManagedTransport) lookup(ctx context.Context) (string, error) {
	if t.projectID == "" {
		return "", ErrMissingProject
	}

	query := url.Values{}
	query.Set("filter", fmt.Sprintf("display_name=%q", t.name))
	listURL := fmt.Sprintf("%s/projects/%s/locations/%s/endpoints?%s",
		t.baseURL, url.PathEscape(t.projectID), url.PathEscape(t.region), query.Encode())

	var list endpointList
	if err := t.do(ctx, http.MethodGet, listURL, nil, &list); err != nil {
		return "", err
	}

	if len(list.Endpoints) == 0 {
		return "", &EndpointNotFoundError{Name: t.name, Project: t.projectID, Region: t.region}
	}

	return list.Endpoints[0].Name, nil
}

func (t *ManagedTransport) do(ctx context.Context, method, target string, in, out any) error {
	token, err := t.token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token.SetAuthHeader(req)

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: method + " " + target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UnexpectedResponseError{Detail: "invalid JSON body", Err: err}
	}

	return nil
}

func (t *ManagedTransport) token(ctx context.Context) (*oauth2.Token, error) {
	t.tokenOnce.Do(func() {
		if t.tokenSource != nil {
			return
		}
		t.tokenSource, t.tokenErr = google.DefaultTokenSource(context.Background(), cloudPlatformScope)
	})
	if t.tokenErr != nil {
		return nil, fmt.Errorf("failed to load application default credentials: %w", t.tokenErr)
	}

	token, err := t.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	return token, nil
}
