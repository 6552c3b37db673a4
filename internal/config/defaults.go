package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultHome       = "~/.apex"
	DefaultEndpoint   = "http://localhost:8080/predict"
	DefaultRegion     = "us-central1"
	DefaultTimeout    = 600 * time.Second
	DefaultMaxRetries = 3
	DefaultPort       = 8080

	// Used by the prediction server when SAM3D_API_KEY is unset.
	DefaultServerAPIKey = "sam3d-demo-key-2024"

	DefaultModelCommand = "python3 /app/sam3d/infer.py"
	DefaultModelRepoID  = "facebook/sam-3d-objects"
	DefaultPipelineFile = "pipeline.yaml"

	DefaultGeminiModel = "gemini-3-pro-image-preview"
	DefaultOpenAIModel = "dall-e-3"
)

var (
	ErrHomeNotSet       = errors.New("apex home directory is not set")
	ErrHomeExpandFailed = errors.New("failed to expand apex home directory")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// SetDefaults registers the lowest-precedence layer on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("home", DefaultHome)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("filesystem_type", FilesystemLocal)

	v.SetDefault("sam3d.endpoint", DefaultEndpoint)
	v.SetDefault("sam3d.api_key", "")
	v.SetDefault("sam3d.timeout", DefaultTimeout)
	v.SetDefault("sam3d.max_retries", DefaultMaxRetries)

	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.region", DefaultRegion)

	v.SetDefault("server.api_key", DefaultServerAPIKey)
	v.SetDefault("server.max_concurrency", 1)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 1)
	v.SetDefault("server.preload", true)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("model.command", DefaultModelCommand)
	v.SetDefault("model.repo_id", DefaultModelRepoID)
	v.SetDefault("model.pipeline_file", DefaultPipelineFile)

	v.SetDefault("imagegen.prefer_nano_banana", true)
	v.SetDefault("imagegen.gemini_model", DefaultGeminiModel)
	v.SetDefault("imagegen.openai_model", DefaultOpenAIModel)
	v.SetDefault("imagegen.safety_filter", false)
	v.SetDefault("imagegen.timeout", 120*time.Second)
}
