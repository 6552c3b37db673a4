package cmd

import (
	"fmt"

	"github.com/imagen-apex/apex/internal/app"
	"github.com/imagen-apex/apex/internal/batch"
	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/utils/pathutil"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate 3D models for a list of prompts",
	Args:  cobra.NoArgs,
	RunE:  runBatch,
}

func init() {
	flags := Cmd.Flags()

	flags.StringSlice("prompts", batch.DefaultPrompts, "List of prompts")
	flags.String("output-dir", "output/batch", "Directory receiving the generated models")
	flags.Int("parallel", 1, "Number of parallel workers")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	prompts, _ := flags.GetStringSlice("prompts")
	outputDir, _ := flags.GetString("output-dir")
	parallel, _ := flags.GetInt("parallel")

	if err := pathutil.EnsureDir(outputDir); err != nil {
		return err
	}

	app, err := app.NewApp(config.GetConfig(),
		app.WithImageGenerator(),
		app.WithSafetyFilter(),
		app.WithFileStorage(),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Prompts: %d\nOutput: %s\n\n", len(prompts), outputDir)

	runner := batch.NewRunner(app.Pipeline(), parallel, app.Logger)
	runner.OnOutcome = func(o batch.Outcome) {
		if o.Succeeded() {
			fmt.Fprintf(out, "[ok]   %s -> %s\n", o.Prompt, o.Output)
			return
		}
		fmt.Fprintf(out, "[fail] %s: %s\n", o.Prompt, o.Error)
	}

	outcomes := runner.Run(cmd.Context(), prompts, outputDir)

	fmt.Fprintf(out, "\nSuccessful: %d/%d\nOutput: %s\n", batch.Successful(outcomes), len(prompts), outputDir)
	return nil
}
