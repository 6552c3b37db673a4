package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/imagen-apex/apex/internal/client"
	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/model"
	"github.com/imagen-apex/apex/internal/pipeline"
	"github.com/imagen-apex/apex/internal/services/filestorage"
	"github.com/imagen-apex/apex/internal/services/imagegen"
	"github.com/imagen-apex/apex/internal/services/safetyfilter"
	"github.com/imagen-apex/apex/pkg/logger"

	"go.uber.org/zap"
)

type App struct {
	config     *config.Config
	ctx        context.Context
	cancelFunc context.CancelFunc

	storage   filestorage.FileStorage
	generator imagegen.Generator

	SafetyFilter *safetyfilter.SafetyFilter
	Logger       *zap.Logger
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

// WithFileStorage uploads artifacts to the configured remote storage. The
// local filesystem needs no upload, so it is skipped.
func WithFileStorage() OptionFunc {
	return func(app *App) error {
		if strings.ToLower(app.config.Filesystem) != config.FilesystemS3 {
			return nil
		}

		storage, err := filestorage.NewS3FileStorage(app.ctx, app.config)
		if err != nil {
			return err
		}
		app.storage = storage
		return nil
	}
}

func WithSafetyFilter() OptionFunc {
	return func(app *App) error {
		if !app.config.ImageGen.SafetyFilter {
			return nil
		}
		if app.config.ImageGen.OpenAIAPIKey == "" {
			return fmt.Errorf("openAI API-key is not set. Cannot enable safety filter")
		}

		filter, err := safetyfilter.NewSafetyFilter(app.config.ImageGen.OpenAIAPIKey, app.Logger)
		if err != nil {
			return err
		}

		app.SafetyFilter = filter
		return nil
	}
}

func WithImageGenerator() OptionFunc {
	return func(app *App) error {
		generator, err := imagegen.NewFromConfig(app.config, app.Logger)
		if err != nil {
			return err
		}

		app.generator = generator
		return nil
	}
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	logger, err := logger.InitLogger(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		Logger:     logger,
		cancelFunc: cancel,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			// Continue even if some options fail
			app.Logger.Error("failed to apply option", zap.Error(err))
		}
	}

	return app, nil
}

func (app *App) Close() {
	app.cancelFunc()
	_ = app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) Storage() filestorage.FileStorage {
	return app.storage
}

func (app *App) Client(opts ...client.Option) *client.Client {
	opts = append([]client.Option{client.WithLogger(app.Logger)}, opts...)
	return client.New(client.ConfigFrom(app.config), opts...)
}

// Pipeline wires the image generator, the 3D client and whatever optional
// services were enabled into an orchestrator.
func (app *App) Pipeline(opts ...client.Option) *pipeline.Pipeline {
	pipelineOpts := []pipeline.Option{pipeline.WithLogger(app.Logger)}
	if app.storage != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithStorage(app.storage))
	}
	if app.SafetyFilter != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithScreener(app.SafetyFilter))
	}

	return pipeline.New(app.generator, app.Client(opts...), pipelineOpts...)
}

// ModelManager returns a lifecycle manager over the configured local
// inference command.
func (app *App) ModelManager() *model.Manager {
	loader := model.NewCommandLoaderFromConfig(app.config, app.Logger)
	return model.NewManager(loader,
		model.WithManagerLogger(app.Logger),
		model.WithMaxConcurrency(app.config.Server.MaxConcurrency),
	)
}
