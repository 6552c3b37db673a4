package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/imagen-apex/apex/internal/app"
	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the 3D reconstruction prediction server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	flags := Cmd.Flags()

	flags.Int("port", config.DefaultPort, "Port to run the server on")
	flags.String("host", "0.0.0.0", "Host to run the server on")
	flags.Bool("preload", true, "Load the model in the background on startup")
	flags.Int("max-concurrency", 1, "Maximum number of concurrent predictions")
	flags.Float64("rate-limit", 0, "Prediction requests per second, 0 disables limiting")
	flags.String("model-command", config.DefaultModelCommand, "Command that runs a single reconstruction")

	config.MapFlag(flags, "preload", "server.preload")
	config.MapFlag(flags, "max-concurrency", "server.max_concurrency")
	config.MapFlag(flags, "rate-limit", "server.rate_limit")
	config.MapFlag(flags, "model-command", "model.command")
}

func runServer(cmd *cobra.Command, _ []string) error {
	app, err := app.NewApp(config.GetConfig())
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config()
	manager := app.ModelManager()

	srv, err := server.NewServer(cfg, manager, server.WithLogger(app.Logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(app.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Preload {
		go manager.Preload(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		app.Logger.Info("Shutdown signal received")
	}

	if err := srv.Stop(context.Background()); err != nil {
		app.Logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}

	return nil
}
