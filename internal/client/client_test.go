package client

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imagen-apex/apex/internal/utils/imageutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var plyBytes = []byte("ply\nformat ascii 1.0\nelement vertex 0\nend_header\n")

// flakyRoundTripper fails the first n requests with a connection error.
type flakyRoundTripper struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     http.RoundTripper
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(req)
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func testImage(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	data, err := imageutil.EncodePNG(img)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "input.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func predictServer(t *testing.T, seen *Payload) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid API key"})
			return
		}
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		json.NewEncoder(w).Encode(map[string]string{
			"ply":    imageutil.EncodeBase64(plyBytes),
			"status": "success",
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindHTTP, Kind("http://localhost:8080/predict"))
	assert.Equal(t, KindHTTP, Kind("https://example.com/predict"))
	assert.Equal(t, KindManaged, Kind("sam3d-endpoint"))
	assert.Equal(t, KindManaged, Kind(""))
}

func TestGenerateHTTP(t *testing.T) {
	var seen Payload
	srv := predictServer(t, &seen)

	c := New(Config{Endpoint: srv.URL + "/predict", APIKey: "secret"})
	artifact, err := c.Generate(context.Background(), GenerateRequest{
		ImagePath: testImage(t, 640, 480),
		Seed:      7,
	})
	require.NoError(t, err)
	assert.Equal(t, plyBytes, artifact.Data)

	assert.Equal(t, int64(7), seen.Seed)

	sent, err := imageutil.DecodeBase64Image(seen.Image)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 256), sent.Bounds())

	mask, err := imageutil.DecodeBase64Mask(seen.Mask)
	require.NoError(t, err)
	assert.Equal(t, imageutil.Foreground, mask.GrayAt(128, 128).Y)
	assert.Equal(t, imageutil.Background, mask.GrayAt(0, 0).Y)
}

func TestGenerateSendsMaskFileVerbatim(t *testing.T) {
	var seen Payload
	srv := predictServer(t, &seen)

	maskImg := image.NewGray(image.Rect(0, 0, 10, 10))
	maskImg.SetGray(5, 5, color.Gray{Y: 255})
	maskData, err := imageutil.EncodePNG(maskImg)
	require.NoError(t, err)
	maskPath := filepath.Join(t.TempDir(), "mask.png")
	require.NoError(t, os.WriteFile(maskPath, maskData, 0o644))

	c := New(Config{Endpoint: srv.URL + "/predict", APIKey: "secret"})
	_, err = c.Generate(context.Background(), GenerateRequest{
		ImagePath: testImage(t, 32, 32),
		MaskPath:  maskPath,
	})
	require.NoError(t, err)
	assert.Equal(t, imageutil.EncodeBase64(maskData), seen.Mask)
}

func TestGenerateRejectsUndecodableInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	c := New(Config{Endpoint: "http://127.0.0.1:1/predict"})
	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: path})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Generate(context.Background(), GenerateRequest{ImagePath: filepath.Join(t.TempDir(), "missing.png")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGenerateRetriesTransportErrors(t *testing.T) {
	srv := predictServer(t, nil)
	rt := &flakyRoundTripper{failures: 2, next: http.DefaultTransport}
	sleeper := &recordedSleep{}

	c := New(
		Config{Endpoint: srv.URL + "/predict", APIKey: "secret", MaxRetries: 3},
		WithHTTPClient(&http.Client{Transport: rt}),
		WithSleep(sleeper.sleep),
	)

	artifact, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})
	require.NoError(t, err)
	assert.Equal(t, plyBytes, artifact.Data)
	assert.Equal(t, 3, rt.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	rt := &flakyRoundTripper{failures: 100, next: http.DefaultTransport}
	sleeper := &recordedSleep{}

	c := New(
		Config{Endpoint: "http://sam3d.invalid/predict", MaxRetries: 4},
		WithHTTPClient(&http.Client{Transport: rt}),
		WithSleep(sleeper.sleep),
	)

	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})

	var exhausted *RequestExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, 4, rt.calls)
	assert.Len(t, sleeper.delays, 3)
	assert.True(t, IsTransient(exhausted.Last))
}

func TestGenerateRetriesAttemptTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
		json.NewEncoder(w).Encode(map[string]string{"ply": imageutil.EncodeBase64(plyBytes)})
	}))
	defer srv.Close()

	sleeper := &recordedSleep{}
	c := New(
		Config{Endpoint: srv.URL + "/predict", Timeout: 50 * time.Millisecond, MaxRetries: 3},
		WithSleep(sleeper.sleep),
	)

	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})

	var exhausted *RequestExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, sleeper.delays, 2)
	assert.True(t, IsTransient(exhausted.Last))
	assert.ErrorIs(t, exhausted.Last, context.DeadlineExceeded)
}

func TestGenerateDoesNotRetryStatusErrors(t *testing.T) {
	srv := predictServer(t, nil)
	rt := &flakyRoundTripper{next: http.DefaultTransport}

	c := New(
		Config{Endpoint: srv.URL + "/predict", APIKey: "wrong", MaxRetries: 3},
		WithHTTPClient(&http.Client{Transport: rt}),
		WithSleep((&recordedSleep{}).sleep),
	)

	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "Invalid API key")
	assert.Equal(t, 1, rt.calls)
}

func TestGenerateMissingArtifactField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL + "/predict"})
	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})

	var unexpected *UnexpectedResponseError
	assert.ErrorAs(t, err, &unexpected)
}

func TestGenerateToFile(t *testing.T) {
	srv := predictServer(t, nil)
	out := filepath.Join(t.TempDir(), "nested", "dir", "model.ply")

	c := New(Config{Endpoint: srv.URL + "/predict", APIKey: "secret"})
	path, err := c.GenerateToFile(context.Background(), testImage(t, 16, 16), out, "", 42)
	require.NoError(t, err)
	assert.Equal(t, out, path)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plyBytes, data)
}

func TestHealthCheck(t *testing.T) {
	srv := predictServer(t, nil)

	assert.True(t, New(Config{Endpoint: srv.URL + "/predict"}).HealthCheck(context.Background()))

	srv.Close()
	assert.False(t, New(Config{Endpoint: srv.URL + "/predict"}).HealthCheck(context.Background()))

	assert.True(t, New(Config{Endpoint: "sam3d-endpoint", ProjectID: "p"}).HealthCheck(context.Background()))
}

func managedServer(t *testing.T, endpoints []map[string]string, prediction any) *httptest.Server {
	t.Helper()

	const resource = "projects/proj/locations/us-central1/endpoints/123"

	mux := http.NewServeMux()
	mux.HandleFunc("/projects/proj/locations/us-central1/endpoints", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, `display_name="sam3d-endpoint"`, r.URL.Query().Get("filter"))
		json.NewEncoder(w).Encode(map[string]any{"endpoints": endpoints})
	})
	mux.HandleFunc("/"+resource+":predict", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instances []Payload `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Instances, 1)
		json.NewEncoder(w).Encode(map[string]any{"predictions": []any{prediction}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func managedClient(srv *httptest.Server) *Client {
	return New(
		Config{Endpoint: "sam3d-endpoint", ProjectID: "proj", Region: "us-central1"},
		WithManagedBaseURL(srv.URL),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})),
	)
}

func TestManagedPredictions(t *testing.T) {
	found := []map[string]string{{
		"name":        "projects/proj/locations/us-central1/endpoints/123",
		"displayName": "sam3d-endpoint",
	}}
	encoded := imageutil.EncodeBase64(plyBytes)

	tests := []struct {
		name       string
		prediction any
	}{
		{name: "structured", prediction: map[string]string{"ply": encoded}},
		{name: "raw", prediction: encoded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := managedClient(managedServer(t, found, tt.prediction))
			assert.Equal(t, KindManaged, c.Kind())

			artifact, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})
			require.NoError(t, err)
			assert.Equal(t, plyBytes, artifact.Data)
		})
	}
}

func TestManagedEndpointNotFound(t *testing.T) {
	c := managedClient(managedServer(t, []map[string]string{}, nil))

	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})

	var notFound *EndpointNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "sam3d-endpoint", notFound.Name)
	assert.Equal(t, "proj", notFound.Project)
}

func TestManagedUnexpectedPrediction(t *testing.T) {
	found := []map[string]string{{"name": "projects/proj/locations/us-central1/endpoints/123"}}
	c := managedClient(managedServer(t, found, map[string]int{"points": 3}))

	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})

	var unexpected *UnexpectedResponseError
	assert.ErrorAs(t, err, &unexpected)
}

func TestManagedRequiresProject(t *testing.T) {
	c := New(Config{Endpoint: "sam3d-endpoint"},
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"})))

	_, err := c.Generate(context.Background(), GenerateRequest{ImagePath: testImage(t, 8, 8)})
	assert.ErrorIs(t, err, ErrMissingProject)
}
