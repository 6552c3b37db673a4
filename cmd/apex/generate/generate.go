package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/imagen-apex/apex/internal/app"
	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/pipeline"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a 3D model from a text prompt or an existing image",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	flags := Cmd.Flags()

	flags.String("prompt", "", "Text prompt for generation")
	flags.String("image", "", "Path to an existing image (skips image generation)")
	flags.String("output", "output/model.ply", "Output PLY path")
	flags.String("project", "", "GCP project ID")
	flags.String("region", config.DefaultRegion, "GCP region")
	flags.String("endpoint", "", "SAM 3D endpoint URL or managed endpoint name")
	flags.Int64("seed", pipeline.DefaultSeed, "Random seed")
	flags.Bool("image-only", false, "Generate the image only and skip the 3D step")
	flags.String("aspect-ratio", "1:1", "Aspect ratio of the generated image")
	flags.Bool("save-intermediate", true, "Keep the generated image next to the output")

	config.MapFlag(flags, "project", "gcp.project_id")
	config.MapFlag(flags, "region", "gcp.region")
	config.MapFlag(flags, "endpoint", "sam3d.endpoint")
}

// ImagePath is where image-only mode writes: output with its extension
// swapped for .png.
func ImagePath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".png"
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	prompt, _ := flags.GetString("prompt")
	imagePath, _ := flags.GetString("image")
	output, _ := flags.GetString("output")
	seed, _ := flags.GetInt64("seed")
	imageOnly, _ := flags.GetBool("image-only")
	aspectRatio, _ := flags.GetString("aspect-ratio")
	saveIntermediate, _ := flags.GetBool("save-intermediate")

	if prompt == "" && imagePath == "" {
		return errors.New("either --prompt or --image must be provided")
	}
	if imageOnly && prompt == "" {
		return errors.New("--image-only requires --prompt")
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

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	p := app.Pipeline()

	if imageOnly {
		path, err := p.GenerateImageOnly(ctx, prompt, ImagePath(output), aspectRatio)
		if err != nil {
			app.Logger.Error("image generation failed", zap.Error(err))
			return fmt.Errorf("pipeline failed: %w", err)
		}

		fmt.Fprintf(out, "Image saved: %s\n", path)
		return nil
	}

	progress, bar, message := newProgress(out)
	res, err := p.Generate(ctx, pipeline.Request{
		Prompt:           prompt,
		OutputPath:       output,
		ImagePath:        imagePath,
		Seed:             seed,
		SaveIntermediate: saveIntermediate,
		Progress: func(msg string, percent int) {
			message.Store(msg)
			bar.SetCurrent(int64(percent))
		},
	})
	if err != nil {
		bar.Abort(false)
		progress.Wait()
		app.Logger.Error("pipeline failed", zap.Error(err))
		return fmt.Errorf("pipeline failed: %w", err)
	}
	bar.SetTotal(100, true)
	progress.Wait()

	fmt.Fprintln(out, "Pipeline complete")
	if res.ImagePath != "" {
		fmt.Fprintf(out, "  image: %s\n", res.ImagePath)
	}
	fmt.Fprintf(out, "  ply:   %s\n", res.ArtifactPath)
	if res.ArtifactURL != "" {
		fmt.Fprintf(out, "  url:   %s\n", res.ArtifactURL)
	}
	fmt.Fprintln(out, "View with MeshLab, Blender or https://3dviewer.net")

	return nil
}

func newProgress(w io.Writer) (*mpb.Progress, *mpb.Bar, *atomic.Value) {
	var message atomic.Value
	message.Store("Starting")

	progress := mpb.New(mpb.WithOutput(w), mpb.WithWidth(40))
	bar := progress.AddBar(100,
		mpb.PrependDecorators(
			decor.Name("apex", decor.WC{W: 5, C: decor.DidentRight}),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return message.Load().(string)
			}),
		),
	)

	return progress, bar, &message
}
