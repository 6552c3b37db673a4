package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imagen-apex/apex/internal/templates"
	"github.com/imagen-apex/apex/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	FilesystemLocal = "local"
	FilesystemS3    = "s3"
)

const EnvPrefix = "APEX"

type Config struct {
	Environment string `mapstructure:"environment"`
	Home        string `mapstructure:"home"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	AssetsDir   string `mapstructure:"assets_dir"`
	TempDir     string `mapstructure:"temp_dir"`
	Filesystem  string `mapstructure:"filesystem_type"`
	HFToken     string `mapstructure:"hf_token"`

	SAM3D    SAM3DConfig    `mapstructure:"sam3d"`
	GCP      GCPConfig      `mapstructure:"gcp"`
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	ImageGen ImageGenConfig `mapstructure:"imagegen"`
	S3       *S3Config      `mapstructure:"s3"`
}

// SAM3DConfig configures the client side of the 3D reconstruction endpoint.
type SAM3DConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type GCPConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region"`
}

type ServerConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	Preload         bool          `mapstructure:"preload"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ModelConfig struct {
	Command       string `mapstructure:"command"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	RepoID        string `mapstructure:"repo_id"`
	PipelineFile  string `mapstructure:"pipeline_file"`
}

type ImageGenConfig struct {
	PreferNanoBanana bool          `mapstructure:"prefer_nano_banana"`
	GeminiAPIKey     string        `mapstructure:"gemini_api_key"`
	GeminiModel      string        `mapstructure:"gemini_model"`
	OpenAIAPIKey     string        `mapstructure:"openai_api_key"`
	OpenAIModel      string        `mapstructure:"openai_model"`
	SafetyFilter     bool          `mapstructure:"safety_filter"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type S3Config struct {
	Folder      string `mapstructure:"folder"`
	Region      string `mapstructure:"region_name"`
	Bucket      string `mapstructure:"bucket_name"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	PublicUrl   string `mapstructure:"public_url"`
	EndpointUrl string `mapstructure:"endpoint_url"`
}

var config *Config

// BindEnvs registers every recognized environment variable on v. Internal
// settings use the APEX_ prefix; names shared with the deployment tooling
// keep their historical, unprefixed form.
func BindEnvs(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`, `-`, `_`))
	v.AutomaticEnv()

	v.BindEnv("environment")
	v.BindEnv("home")
	v.BindEnv("host")
	v.BindEnv("port", "PORT", "APEX_PORT")
	v.BindEnv("filesystem_type")

	v.BindEnv("sam3d.endpoint", "SAM3D_ENDPOINT")
	v.BindEnv("sam3d.api_key", "SAM3D_API_KEY")
	v.BindEnv("sam3d.timeout")
	v.BindEnv("sam3d.max_retries")

	v.BindEnv("gcp.project_id", "GCP_PROJECT_ID")
	v.BindEnv("gcp.region", "GCP_REGION")

	v.BindEnv("server.api_key", "SAM3D_API_KEY")
	v.BindEnv("server.max_concurrency")
	v.BindEnv("server.rate_limit")
	v.BindEnv("server.rate_burst")
	v.BindEnv("server.preload")

	v.BindEnv("model.command")
	v.BindEnv("model.checkpoint_dir")
	v.BindEnv("model.repo_id")
	v.BindEnv("hf_token", "HF_TOKEN")

	v.BindEnv("imagegen.gemini_api_key", "GEMINI_API_KEY")
	v.BindEnv("imagegen.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("imagegen.prefer_nano_banana")
	v.BindEnv("imagegen.safety_filter")

	// example: APEX_S3_ACCESS_KEY
	v.BindEnv("s3.access_key")
	v.BindEnv("s3.secret_key")
	v.BindEnv("s3.region_name")
	v.BindEnv("s3.bucket_name")
	v.BindEnv("s3.folder")
	v.BindEnv("s3.public_url")
	v.BindEnv("s3.endpoint_url")
}

// InitConfig resolves the apex home, loads the .env files into the process
// environment, makes sure a config.yaml exists and builds the process-wide
// Config from v.
func InitConfig(v *viper.Viper) (*Config, error) {
	home, err := getHome(v)
	if err != nil {
		return nil, err
	}
	v.Set("home", home)

	if err := loadEnvFiles(v.GetString("env_file"), filepath.Join(home, ".env"), ".env"); err != nil {
		return nil, err
	}

	configFile := v.GetString("config_file")
	if configFile == "" {
		configFile = filepath.Join(home, "config.yaml")
		if err := ensureConfigFile(configFile); err != nil {
			return nil, err
		}
	}

	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	cfg, err := LoadConfig(v)
	if err != nil {
		return nil, err
	}

	config = cfg
	return cfg, nil
}

// LoadConfig unmarshals v into a Config, filling derived directories and
// validating the result. It never touches the filesystem.
func LoadConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if cfg.Home == "" {
		cfg.Home = DefaultHome
	}

	home, err := pathutil.ExpandPath(cfg.Home)
	if err != nil {
		return nil, ErrHomeExpandFailed
	}
	cfg.Home = home

	if cfg.AssetsDir == "" {
		cfg.AssetsDir = filepath.Join(home, "assets")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(home, "temp")
	}
	if cfg.Model.CheckpointDir == "" {
		cfg.Model.CheckpointDir = filepath.Join(home, "checkpoints")
	}

	for _, dir := range []*string{&cfg.AssetsDir, &cfg.TempDir, &cfg.Model.CheckpointDir} {
		expanded, err := pathutil.ExpandPath(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", *dir, err)
		}
		*dir = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SAM3D.MaxRetries < 1 {
		return fmt.Errorf("%w: sam3d.max_retries must be at least 1", ErrInvalidConfig)
	}
	if c.SAM3D.Timeout <= 0 {
		return fmt.Errorf("%w: sam3d.timeout must be positive", ErrInvalidConfig)
	}
	if c.Server.MaxConcurrency < 1 {
		return fmt.Errorf("%w: server.max_concurrency must be at least 1", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Filesystem) {
	case FilesystemLocal:
	case FilesystemS3:
		if c.S3 == nil || c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket_name is required for filesystem_type s3", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: invalid filesystem type %q", ErrInvalidConfig, c.Filesystem)
	}

	return nil
}

func GetConfig() *Config {
	if config == nil {
		panic("config not loaded")
	}

	return config
}

// Returns the apex home directory path.
// It attempts to retrieve the home directory from the following sources in order:
// 1. The `home` flag or APEX_HOME, through viper.
// 2. The default home directory.
func getHome(v *viper.Viper) (string, error) {
	home := v.GetString("home")
	if home == "" {
		home = DefaultHome
	}

	home, err := pathutil.ExpandPath(home)
	if err != nil {
		return "", fmt.Errorf("failed to expand home path: %w", err)
	}

	if err := pathutil.EnsureDir(home); err != nil {
		return "", fmt.Errorf("failed to create home directory: %w", err)
	}

	return home, nil
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to stat env file: %w", err)
		}

		// godotenv.Load never overrides variables that are already set,
		// so explicit environment always wins over .env files.
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	return nil
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config.yaml file: %w", err)
		}

		if err := templates.WriteConfig(path); err != nil {
			return fmt.Errorf("failed to create config.yaml file: %w", err)
		}
	}

	return nil
}
