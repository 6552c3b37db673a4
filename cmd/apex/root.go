package cmd

import (
	"fmt"
	"os"

	batch "github.com/imagen-apex/apex/cmd/apex/batch"
	generate "github.com/imagen-apex/apex/cmd/apex/generate"
	health "github.com/imagen-apex/apex/cmd/apex/health"
	serve "github.com/imagen-apex/apex/cmd/apex/serve"
	"github.com/imagen-apex/apex/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "apex",
	Short: "Imagen Apex text-to-3D CLI",
	Long:  "Generate images from text prompts, reconstruct them as 3D Gaussian splats and serve the reconstruction model over HTTP",

	SilenceUsage: true,

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		config.BindEnvs(v)

		// Flags of the running command, including the persistent ones
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}

		_, err := config.InitConfig(v)
		return err
	},
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("home", "", "Path to the apex home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")
	pflags.String("environment", "dev", "Environment configuration: dev, test or prod")

	Cmd.AddCommand(serve.Cmd, generate.Cmd, batch.Cmd, health.Cmd, apiKeyCmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
