package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const GeminiProvider = "gemini"

type GeminiConfig struct {
	APIKey    string
	Model     string
	ProjectID string
	Region    string
	// BaseURL overrides the API host, mostly for tests.
	BaseURL string
}

// GeminiGenerator renders images with the Gemini image models, through
// Vertex AI when a project is set and the Gemini API otherwise.
type GeminiGenerator struct {
	cfg        GeminiConfig
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *zap.Logger

	once   sync.Once
	client *genai.Client
	err    error
}

type GeminiOption func(*GeminiGenerator)

func WithGeminiLogger(logger *zap.Logger) GeminiOption {
	return func(g *GeminiGenerator) {
		g.logger = logger
	}
}

func WithGeminiHTTPClient(client *http.Client) GeminiOption {
	return func(g *GeminiGenerator) {
		g.httpClient = client
	}
}

func WithGeminiBackOff(fn func() backoff.BackOff) GeminiOption {
	return func(g *GeminiGenerator) {
		g.newBackOff = fn
	}
}

func NewGeminiGenerator(cfg GeminiConfig, opts ...GeminiOption) (*GeminiGenerator, error) {
	if cfg.APIKey == "" && cfg.ProjectID == "" {
		return nil, errors.New("gemini requires an API key or a GCP project")
	}

	g := &GeminiGenerator{
		cfg:        cfg,
		newBackOff: NewBackOff,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiGenerator) Name() string {
	return GeminiProvider
}

func (g *GeminiGenerator) genaiClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cc := &genai.ClientConfig{
			HTTPClient:  g.httpClient,
			HTTPOptions: genai.HTTPOptions{BaseURL: g.cfg.BaseURL},
		}

		if g.cfg.ProjectID != "" {
			cc.Backend = genai.BackendVertexAI
			cc.Project = g.cfg.ProjectID
			cc.Location = g.cfg.Region
		} else {
			cc.Backend = genai.BackendGeminiAPI
			cc.APIKey = g.cfg.APIKey
		}

		g.client, g.err = genai.NewClient(ctx, cc)
		if g.err == nil {
			g.logger.Info("gemini client ready", zap.String("backend", cc.Backend.String()), zap.String("model", g.cfg.Model))
		}
	})

	return g.client, g.err
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	client, err := g.genaiClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = DefaultAspectRatio
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig:        &genai.ImageConfig{AspectRatio: aspectRatio},
	}
	if req.Seed != nil {
		seed := int32(*req.Seed)
		config.Seed = &seed
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(req.Prompt)}, genai.RoleUser),
	}

	return withRetry(ctx, g.newBackOff(), func() (*Image, error) {
		resp, err := client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) {
				return nil, &StatusError{Provider: GeminiProvider, Code: apiErr.Code, Message: apiErr.Message}
			}
			return nil, err
		}

		return firstInlineImage(resp)
	})
}

func firstInlineImage(resp *genai.GenerateContentResponse) (*Image, error) {
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}

			mimeType := part.InlineData.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}

			return &Image{
				Data:     part.InlineData.Data,
				MimeType: mimeType,
				Provider: GeminiProvider,
			}, nil
		}
	}

	return nil, ErrNoImage
}
