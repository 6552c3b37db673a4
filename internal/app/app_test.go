package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagen-apex/apex/internal/client"
	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Filesystem:  config.FilesystemLocal,
		AssetsDir:   t.TempDir(),
		TempDir:     t.TempDir(),
		SAM3D: config.SAM3DConfig{
			Endpoint:   "http://localhost:8080/predict",
			Timeout:    config.DefaultTimeout,
			MaxRetries: config.DefaultMaxRetries,
		},
		Server: config.ServerConfig{MaxConcurrency: 1},
		ImageGen: config.ImageGenConfig{
			PreferNanoBanana: true,
			GeminiAPIKey:     "g-key",
			GeminiModel:      config.DefaultGeminiModel,
		},
	}
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApp(cfg, WithFileStorage(), WithSafetyFilter(), WithImageGenerator())
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, cfg, a.Config())
	assert.NotNil(t, a.Logger)
	assert.Nil(t, a.Storage())
	assert.Nil(t, a.SafetyFilter)
	assert.NotNil(t, a.generator)
	assert.Equal(t, client.KindHTTP, a.Client().Kind())
	assert.NotNil(t, a.Pipeline())
	assert.Equal(t, model.Unloaded, a.ModelManager().State())
}

func TestNewAppToleratesFailingOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImageGen.SafetyFilter = true

	a, err := NewApp(cfg, WithSafetyFilter())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.SafetyFilter)
}

func TestCloseCancelsContext(t *testing.T) {
	a, err := NewApp(testConfig(t))
	require.NoError(t, err)

	a.Close()
	assert.Error(t, a.Context().Err())
}
