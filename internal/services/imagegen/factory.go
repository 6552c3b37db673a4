package imagegen

import (
	"go.uber.org/zap"

	"github.com/imagen-apex/apex/internal/config"
)

// NewFromConfig builds a Fallback over every provider that has credentials.
// Gemini goes first unless prefer_nano_banana is off.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Fallback, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var gemini, openAI Generator

	if cfg.ImageGen.GeminiAPIKey != "" || cfg.GCP.ProjectID != "" {
		g, err := NewGeminiGenerator(GeminiConfig{
			APIKey:    cfg.ImageGen.GeminiAPIKey,
			Model:     cfg.ImageGen.GeminiModel,
			ProjectID: cfg.GCP.ProjectID,
			Region:    cfg.GCP.Region,
		}, WithGeminiLogger(logger))
		if err != nil {
			return nil, err
		}
		gemini = g
	}

	if cfg.ImageGen.OpenAIAPIKey != "" {
		g, err := NewOpenAIGenerator(cfg.ImageGen.OpenAIAPIKey, cfg.ImageGen.OpenAIModel)
		if err != nil {
			return nil, err
		}
		openAI = g
	}

	ordered := []Generator{gemini, openAI}
	if !cfg.ImageGen.PreferNanoBanana {
		ordered = []Generator{openAI, gemini}
	}

	var generators []Generator
	for _, g := range ordered {
		if g != nil {
			generators = append(generators, g)
		}
	}
	if len(generators) == 0 {
		return nil, ErrNoGenerators
	}

	names := make([]string, 0, len(generators))
	for _, g := range generators {
		names = append(names, g.Name())
	}
	logger.Info("image providers configured", zap.Strings("providers", names))

	return NewFallback(logger, generators...), nil
}
