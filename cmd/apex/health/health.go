package cmd

import (
	"fmt"

	"github.com/imagen-apex/apex/internal/client"
	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the 3D reconstruction endpoint is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	flags := Cmd.Flags()

	flags.String("endpoint", "", "SAM 3D endpoint URL or managed endpoint name")
	flags.String("project", "", "GCP project ID")
	flags.String("region", config.DefaultRegion, "GCP region")

	config.MapFlag(flags, "endpoint", "sam3d.endpoint")
	config.MapFlag(flags, "project", "gcp.project_id")
	config.MapFlag(flags, "region", "gcp.region")
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}

	c := client.New(client.ConfigFrom(cfg), client.WithLogger(log))
	if !c.HealthCheck(cmd.Context()) {
		return fmt.Errorf("endpoint %s (%s) is not healthy", cfg.SAM3D.Endpoint, c.Kind())
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Endpoint %s (%s) is healthy\n", cfg.SAM3D.Endpoint, c.Kind())
	return nil
}
