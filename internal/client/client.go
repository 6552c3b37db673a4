package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"time"

	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/utils/imageutil"
	"github.com/imagen-apex/apex/internal/utils/pathutil"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Config is fixed once a Client is built.
type Config struct {
	Endpoint   string
	APIKey     string
	ProjectID  string
	Region     string
	Timeout    time.Duration
	MaxRetries int
}

// ConfigFrom extracts the client settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Endpoint:   cfg.SAM3D.Endpoint,
		APIKey:     cfg.SAM3D.APIKey,
		ProjectID:  cfg.GCP.ProjectID,
		Region:     cfg.GCP.Region,
		Timeout:    cfg.SAM3D.Timeout,
		MaxRetries: cfg.SAM3D.MaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = config.DefaultEndpoint
	}
	if c.Region == "" {
		c.Region = config.DefaultRegion
	}
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = config.DefaultMaxRetries
	}
	return c
}

type options struct {
	logger         *zap.Logger
	httpClient     *http.Client
	sleep          SleepFunc
	tokenSource    oauth2.TokenSource
	managedBaseURL string
	transport      Transport
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *options) {
		o.tokenSource = ts
	}
}

// WithManagedBaseURL overrides the regional platform API root.
func WithManagedBaseURL(baseURL string) Option {
	return func(o *options) {
		o.managedBaseURL = baseURL
	}
}

// WithTransport bypasses endpoint classification entirely.
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// Client turns an image (and optional mask) into a 3D artifact through the
// configured endpoint. It holds no mutable state and may be shared.
type Client struct {
	cfg       Config
	kind      TransportKind
	transport Transport
	logger    *zap.Logger
}

func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()

	o := &options{
		logger:     zap.NewNop(),
		httpClient: http.DefaultClient,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}

	kind := Kind(cfg.Endpoint)
	transport := o.transport
	if transport == nil {
		switch kind {
		case KindHTTP:
			transport = newHTTPTransport(cfg, o.httpClient, o.sleep, o.logger)
		default:
			transport = newManagedTransport(cfg, o.httpClient, o.managedBaseURL, o.tokenSource, o.logger)
		}
	}

	return &Client{
		cfg:       cfg,
		kind:      kind,
		transport: transport,
		logger:    o.logger,
	}
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Kind() TransportKind {
	return c.kind
}

// GenerateRequest carries the input image either as a path or decoded, and
// optionally a mask. A mask path takes precedence over a mask image.
type GenerateRequest struct {
	ImagePath string
	Image     image.Image
	MaskPath  string
	Mask      image.Image
	Seed      int64
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Artifact, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Generating 3D artifact",
		zap.String("transport", c.kind.String()),
		zap.Int64("seed", req.Seed),
	)

	start := time.Now()
	artifact, err := c.transport.Predict(ctx, payload)
	if err != nil {
		return nil, err
	}

	c.logger.Info("3D artifact received",
		zap.Int("bytes", len(artifact.Data)),
		zap.Duration("duration", time.Since(start)),
	)

	return artifact, nil
}

// GenerateToFile runs Generate and writes the artifact to outputPath,
// returning the path written.
func (c *Client) GenerateToFile(ctx context.Context, imagePath, outputPath, maskPath string, seed int64) (string, error) {
	artifact, err := c.Generate(ctx, GenerateRequest{
		ImagePath: imagePath,
		MaskPath:  maskPath,
		Seed:      seed,
	})
	if err != nil {
		return "", err
	}

	if err := pathutil.WriteFile(outputPath, artifact.Data); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	return outputPath, nil
}

// HealthCheck never fails; unreachable endpoints report false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	return c.transport.Health(ctx)
}

func (c *Client) buildPayload(req GenerateRequest) (*Payload, error) {
	img := req.Image
	if img == nil {
		if req.ImagePath == "" {
			return nil, fmt.Errorf("%w: no input image", ErrDecode)
		}

		loaded, err := imageutil.LoadImage(req.ImagePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		img = loaded
	}

	resized, err := imageutil.ResizeLanczos(img, imageutil.CanonicalSize, imageutil.CanonicalSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	imageBytes, err := imageutil.EncodePNG(resized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	maskBytes, err := buildMask(req)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Image: imageutil.EncodeBase64(imageBytes),
		Mask:  imageutil.EncodeBase64(maskBytes),
		Seed:  req.Seed,
	}, nil
}

// buildMask sends a mask file as-is after checking it decodes. Without one,
// an elliptical mask at the canonical size is synthesized.
func buildMask(req GenerateRequest) ([]byte, error) {
	switch {
	case req.MaskPath != "":
		data, err := os.ReadFile(req.MaskPath)
		if err != nil {
			return nil, err
		}
		if _, err := imageutil.DecodeMask(data); err != nil {
			return nil, fmt.Errorf("%w: mask %s: %v", ErrDecode, req.MaskPath, err)
		}
		return data, nil
	case req.Mask != nil:
		return imageutil.EncodePNG(req.Mask)
	default:
		mask := imageutil.EllipticalMask(imageutil.CanonicalSize, imageutil.CanonicalSize, imageutil.DefaultMaskCoverage)
		return imageutil.EncodePNG(mask)
	}
}
