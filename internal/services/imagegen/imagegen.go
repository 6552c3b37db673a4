package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/imagen-apex/apex/internal/utils/imageutil"
	"github.com/imagen-apex/apex/internal/utils/pathutil"
)

const DefaultAspectRatio = "1:1"

var (
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrNoImage      = errors.New("provider returned no image")
	ErrNoGenerators = errors.New("no image generator is configured")
)

type Request struct {
	Prompt      string
	AspectRatio string
	Seed        *int64
}

type Image struct {
	Data     []byte
	MimeType string
	Provider string
}

// Decode returns the generated image as an image.Image.
func (i *Image) Decode() (image.Image, error) {
	return imageutil.DecodeImage(i.Data)
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Image, error)
}

// StatusError is returned by providers for non-success HTTP answers.
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Message)
}

// permanent reports whether retrying the request cannot help.
func permanent(err error) bool {
	if errors.Is(err, ErrEmptyPrompt) || errors.Is(err, ErrNoImage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests
	}

	return false
}

// NewBackOff is the retry schedule used for provider calls unless a
// generator is given another one.
func NewBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}

// withRetry makes up to three attempts at fn.
func withRetry(ctx context.Context, b backoff.BackOff, fn func() (*Image, error)) (*Image, error) {
	return backoff.RetryWithData(func() (*Image, error) {
		img, err := fn()
		if err != nil && permanent(err) {
			return nil, backoff.Permanent(err)
		}
		return img, err
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
}

// Fallback tries each generator in order and returns the first image.
type Fallback struct {
	generators []Generator
	logger     *zap.Logger
}

func NewFallback(logger *zap.Logger, generators ...Generator) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fallback{generators: generators, logger: logger}
}

func (f *Fallback) Name() string {
	names := make([]string, 0, len(f.generators))
	for _, g := range f.generators {
		names = append(names, g.Name())
	}
	return strings.Join(names, ",")
}

func (f *Fallback) Generate(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if len(f.generators) == 0 {
		return nil, ErrNoGenerators
	}

	var errs []error
	for _, g := range f.generators {
		img, err := g.Generate(ctx, req)
		if err == nil {
			return img, nil
		}

		f.logger.Warn("image provider failed", zap.String("provider", g.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all image providers failed: %w", errors.Join(errs...))
}

// WriteImage stores img at path as PNG, re-encoding other formats.
func WriteImage(img *Image, path string) error {
	if img == nil || len(img.Data) == 0 {
		return ErrNoImage
	}

	data := img.Data
	if img.MimeType != "image/png" {
		decoded, err := img.Decode()
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, decoded); err != nil {
			return fmt.Errorf("failed to encode png: %w", err)
		}
		data = buf.Bytes()
	}

	return pathutil.WriteFile(path, data)
}
