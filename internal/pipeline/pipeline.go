package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/imagen-apex/apex/internal/client"
	"github.com/imagen-apex/apex/internal/services/filestorage"
	"github.com/imagen-apex/apex/internal/services/imagegen"
	"github.com/imagen-apex/apex/internal/utils/pathutil"
)

const (
	DefaultSeed       int64 = 42
	GeneratedImageName      = "generated_image.png"
)

var ErrNoInput = errors.New("either a prompt or an existing image is required")

// ProgressFunc receives a human readable stage description and a
// completion percentage between 0 and 100.
type ProgressFunc func(message string, percent int)

// Reconstructor turns a single image into a 3D artifact.
type Reconstructor interface {
	Generate(ctx context.Context, req client.GenerateRequest) (*client.Artifact, error)
}

// Screener rejects prompts that must not be rendered.
type Screener interface {
	Check(ctx context.Context, prompt string) error
}

type Request struct {
	Prompt     string
	OutputPath string
	// ImagePath skips image generation when it points at an existing file.
	ImagePath        string
	Seed             int64
	SaveIntermediate bool
	Progress         ProgressFunc
}

type Result struct {
	ImagePath    string
	ArtifactPath string
	ArtifactURL  string
}

type Pipeline struct {
	generator     imagegen.Generator
	reconstructor Reconstructor
	storage       filestorage.FileStorage
	screener      Screener
	logger        *zap.Logger
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithStorage uploads every artifact after it has been written locally.
func WithStorage(storage filestorage.FileStorage) Option {
	return func(p *Pipeline) {
		p.storage = storage
	}
}

func WithScreener(screener Screener) Option {
	return func(p *Pipeline) {
		p.screener = screener
	}
}

func New(generator imagegen.Generator, reconstructor Reconstructor, opts ...Option) *Pipeline {
	p := &Pipeline{
		generator:     generator,
		reconstructor: reconstructor,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	progress := req.Progress
	if progress == nil {
		progress = func(string, int) {}
	}

	if err := pathutil.EnsureParentDir(req.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &Result{}

	progress("Preparing image", 10)
	generated := false
	if req.ImagePath != "" && pathutil.Exists(req.ImagePath) {
		progress(fmt.Sprintf("Using existing image: %s", req.ImagePath), 20)
		result.ImagePath = req.ImagePath
	} else {
		if strings.TrimSpace(req.Prompt) == "" {
			return nil, ErrNoInput
		}

		progress(fmt.Sprintf("Generating from prompt: %s", req.Prompt), 15)
		imagePath := filepath.Join(filepath.Dir(req.OutputPath), GeneratedImageName)
		if err := p.generateImage(ctx, req.Prompt, imagePath, imagegen.DefaultAspectRatio, &req.Seed); err != nil {
			return nil, err
		}

		progress("Image generated", 40)
		result.ImagePath = imagePath
		generated = true
	}

	progress("Generating 3D model", 50)
	artifact, err := p.reconstructor.Generate(ctx, client.GenerateRequest{
		ImagePath: result.ImagePath,
		Seed:      req.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("3d reconstruction failed: %w", err)
	}

	if err := pathutil.WriteFile(req.OutputPath, artifact.Data); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	result.ArtifactPath = req.OutputPath

	if p.storage != nil {
		url, err := p.storage.Upload(ctx, filestorage.NewContentAddressedFile(artifact.Data, filepath.Ext(req.OutputPath)))
		if err != nil {
			return nil, fmt.Errorf("failed to upload artifact: %w", err)
		}
		result.ArtifactURL = url
	}

	if generated && !req.SaveIntermediate {
		if err := os.Remove(result.ImagePath); err != nil {
			p.logger.Warn("failed to remove intermediate image", zap.String("path", result.ImagePath), zap.Error(err))
		}
		result.ImagePath = ""
	}

	progress("3D model complete", 100)
	p.logger.Info("pipeline complete",
		zap.String("artifact", result.ArtifactPath),
		zap.String("url", result.ArtifactURL),
	)

	return result, nil
}

// GenerateImageOnly renders the prompt to outputPath and skips the 3D step.
func (p *Pipeline) GenerateImageOnly(ctx context.Context, prompt, outputPath, aspectRatio string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", imagegen.ErrEmptyPrompt
	}
	if aspectRatio == "" {
		aspectRatio = imagegen.DefaultAspectRatio
	}

	if err := p.generateImage(ctx, prompt, outputPath, aspectRatio, nil); err != nil {
		return "", err
	}

	return outputPath, nil
}

func (p *Pipeline) generateImage(ctx context.Context, prompt, path, aspectRatio string, seed *int64) error {
	if p.generator == nil {
		return imagegen.ErrNoGenerators
	}

	if p.screener != nil {
		if err := p.screener.Check(ctx, prompt); err != nil {
			return err
		}
	}

	img, err := p.generator.Generate(ctx, imagegen.Request{
		Prompt:      prompt,
		AspectRatio: aspectRatio,
		Seed:        seed,
	})
	if err != nil {
		return fmt.Errorf("image generation failed: %w", err)
	}

	p.logger.Info("image generated", zap.String("provider", img.Provider), zap.String("path", path))

	return imagegen.WriteImage(img, path)
}
