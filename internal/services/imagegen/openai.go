package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/imagen-apex/apex/internal/utils/imageutil"
)

const OpenAIProvider = "openai"

type OpenAIGenerator struct {
	client        *openai.Client
	model         string
	newBackOff    func() backoff.BackOff
	clientOptions []option.RequestOption
}

type OpenAIOption func(*OpenAIGenerator)

func WithOpenAIBackOff(fn func() backoff.BackOff) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.newBackOff = fn
	}
}

// WithOpenAIRequestOptions passes extra options (base URL, HTTP client) to
// the underlying openai client.
func WithOpenAIRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(g *OpenAIGenerator) {
		g.clientOptions = append(g.clientOptions, opts...)
	}
}

func NewOpenAIGenerator(apiKey, model string, opts ...OpenAIOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	g := &OpenAIGenerator{
		model:         model,
		newBackOff:    NewBackOff,
		clientOptions: []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = openai.NewClient(g.clientOptions...)

	return g, nil
}

func (g *OpenAIGenerator) Name() string {
	return OpenAIProvider
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	params := openai.ImageGenerateParams{
		Prompt:         openai.F(req.Prompt),
		Model:          openai.F(openai.ImageModel(g.model)),
		N:              openai.F(int64(1)),
		ResponseFormat: openai.F(openai.ImageGenerateParamsResponseFormatB64JSON),
		Size:           openai.F(sizeFor(req.AspectRatio)),
	}

	return withRetry(ctx, g.newBackOff(), func() (*Image, error) {
		resp, err := g.client.Images.Generate(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return nil, &StatusError{Provider: OpenAIProvider, Code: apiErr.StatusCode, Message: apiErr.Message}
			}
			return nil, err
		}

		if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
			return nil, ErrNoImage
		}

		data, err := imageutil.DecodeBase64(resp.Data[0].B64JSON)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		return &Image{
			Data:     data,
			MimeType: "image/png",
			Provider: OpenAIProvider,
		}, nil
	})
}

// sizeFor maps an aspect ratio onto the closest size the images API accepts.
func sizeFor(aspectRatio string) openai.ImageGenerateParamsSize {
	switch aspectRatio {
	case "16:9", "3:2", "4:3", "21:9":
		return openai.ImageGenerateParamsSize1792x1024
	case "9:16", "2:3", "3:4":
		return openai.ImageGenerateParamsSize1024x1792
	default:
		return openai.ImageGenerateParamsSize1024x1024
	}
}
