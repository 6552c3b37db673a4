package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/utils/imageutil"
	"github.com/imagen-apex/apex/internal/utils/pathutil"

	"go.uber.org/zap"
)

const (
	scratchImage  = "image.png"
	scratchMask   = "mask.png"
	scratchOutput = "out.ply"
)

// CommandLoader prepares the external inference program. Loading makes sure
// checkpoints are present and the program can be found.
type CommandLoader struct {
	command      []string
	pipelineFile string
	tempDir      string
	checkpoints  *CheckpointDownloader
	logger       *zap.Logger
}

func NewCommandLoader(command, pipelineFile, tempDir string, checkpoints *CheckpointDownloader, logger *zap.Logger) *CommandLoader {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CommandLoader{
		command:      strings.Fields(command),
		pipelineFile: pipelineFile,
		tempDir:      tempDir,
		checkpoints:  checkpoints,
		logger:       logger,
	}
}

// NewCommandLoaderFromConfig wires the loader and its checkpoint downloader
// from the application config.
func NewCommandLoaderFromConfig(cfg *config.Config, logger *zap.Logger, opts ...DownloaderOption) *CommandLoader {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts = append([]DownloaderOption{WithDownloaderLogger(logger)}, opts...)
	downloader := NewCheckpointDownloader(cfg.Model.CheckpointDir, cfg.Model.RepoID, cfg.HFToken, opts...)

	return NewCommandLoader(cfg.Model.Command, cfg.Model.PipelineFile, cfg.TempDir, downloader, logger)
}

func (l *CommandLoader) Load(ctx context.Context) (Model, error) {
	if len(l.command) == 0 {
		return nil, errors.New("no inference command configured")
	}

	if err := l.checkpoints.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare checkpoints: %w", err)
	}

	configPath := filepath.Join(l.checkpoints.Dir(), l.pipelineFile)
	if !pathutil.Exists(configPath) {
		return nil, fmt.Errorf("pipeline config not found: %s", configPath)
	}

	program, err := exec.LookPath(l.command[0])
	if err != nil {
		return nil, fmt.Errorf("inference program not found: %w", err)
	}

	l.logger.Info("Inference program ready",
		zap.String("program", program),
		zap.String("config", configPath),
	)

	args := append([]string{}, l.command[1:]...)
	return &CommandModel{
		program:    program,
		args:       args,
		configPath: configPath,
		tempDir:    l.tempDir,
		logger:     l.logger,
	}, nil
}

// CommandModel runs one process per prediction, exchanging files through a
// scratch directory.
type CommandModel struct {
	program    string
	args       []string
	configPath string
	tempDir    string
	logger     *zap.Logger
}

func (m *CommandModel) Predict(ctx context.Context, img image.Image, mask *image.Gray, seed int64) (Output, error) {
	if err := pathutil.EnsureDir(m.tempDir); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(m.tempDir, "predict-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if mask == nil {
		b := img.Bounds()
		mask = imageutil.FullMask(b.Dx(), b.Dy())
	}

	imagePath := filepath.Join(scratch, scratchImage)
	maskPath := filepath.Join(scratch, scratchMask)
	outputPath := filepath.Join(scratch, scratchOutput)

	if err := writePNG(imagePath, img); err != nil {
		return nil, err
	}
	if err := writePNG(maskPath, mask); err != nil {
		return nil, err
	}

	args := append(append([]string{}, m.args...),
		"--config", m.configPath,
		"--image", imagePath,
		"--mask", maskPath,
		"--seed", strconv.FormatInt(seed, 10),
		"--output", outputPath,
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.program, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("inference failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() > 0 {
		m.logger.Debug("Inference output", zap.String("stdout", stdout.String()))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("inference produced no output: %w", err)
	}

	return PLYData(data), nil
}

// PLYData is an in-memory PLY scene.
type PLYData []byte

func (p PLYData) SavePLY(path string) error {
	return pathutil.WriteFile(path, p)
}

func writePNG(path string, img image.Image) error {
	data, err := imageutil.EncodePNG(img)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	return os.WriteFile(path, data, 0o644)
}
