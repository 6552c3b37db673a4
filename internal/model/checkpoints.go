package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imagen-apex/apex/internal/utils/pathutil"

	"github.com/cenkalti/backoff/v4"
	"github.com/cozy-creator/hf-hub/hub"
	"github.com/vbauerster/mpb/v7"
	"go.uber.org/zap"
)

const (
	huggingFaceURL = "https://huggingface.co"

	// CheckpointSubFolder is where the model repository keeps its weights.
	CheckpointSubFolder = "checkpoints"
)

// CheckpointDownloader fetches a Hugging Face model repository snapshot and
// moves its checkpoints into a local directory, once.
type CheckpointDownloader struct {
	dir      string
	repoID   string
	token    string
	endpoint string

	newBackOff func() backoff.BackOff
	output     io.Writer
	logger     *zap.Logger
}

type DownloaderOption func(*CheckpointDownloader)

func WithDownloaderLogger(logger *zap.Logger) DownloaderOption {
	return func(d *CheckpointDownloader) {
		d.logger = logger
	}
}

// WithHubURL points downloads at another Hugging Face compatible host.
func WithHubURL(endpoint string) DownloaderOption {
	return func(d *CheckpointDownloader) {
		d.endpoint = strings.TrimRight(endpoint, "/")
	}
}

func WithBackOff(fn func() backoff.BackOff) DownloaderOption {
	return func(d *CheckpointDownloader) {
		d.newBackOff = fn
	}
}

// WithProgressOutput sets where progress bars are drawn. nil hides them.
func WithProgressOutput(w io.Writer) DownloaderOption {
	return func(d *CheckpointDownloader) {
		d.output = w
	}
}

// NewCheckpointDownloader returns a downloader for repoID. An empty token
// falls back to HF_TOKEN or the token file of the huggingface CLI.
func NewCheckpointDownloader(dir, repoID, token string, opts ...DownloaderOption) *CheckpointDownloader {
	if token == "" {
		token = hub.GetToken()
	}

	d := &CheckpointDownloader{
		dir:      dir,
		repoID:   repoID,
		token:    token,
		endpoint: huggingFaceURL,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 1 * time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 5 * time.Minute
			return b
		},
		output: os.Stderr,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *CheckpointDownloader) Dir() string {
	return d.dir
}

// stagingDir is the hub cache the snapshot is downloaded into. It survives
// failed attempts so finished files are not fetched twice.
func (d *CheckpointDownloader) stagingDir() string {
	return d.dir + ".download"
}

// Ensure downloads the repository snapshot unless the checkpoint directory
// already has content. The snapshot's checkpoints folder becomes the
// checkpoint directory; a snapshot without one is used as a whole.
func (d *CheckpointDownloader) Ensure(ctx context.Context) error {
	populated, err := hasEntries(d.dir)
	if err != nil {
		return err
	}
	if populated {
		d.logger.Info("Checkpoints already exist, skipping download", zap.String("dir", d.dir))
		return nil
	}

	if d.token == "" {
		d.logger.Warn("HF_TOKEN not set, downloading anonymously")
	}

	d.logger.Info("Downloading checkpoints", zap.String("repo_id", d.repoID))

	staging := d.stagingDir()
	if err := pathutil.EnsureDir(staging); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	client := hub.NewClient(d.endpoint, d.token, staging)
	snapshot, err := backoff.RetryWithData(func() (string, error) {
		return d.download(client)
	}, backoff.WithContext(d.newBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", d.repoID, err)
	}

	src := filepath.Join(snapshot, CheckpointSubFolder)
	if !isDir(src) {
		d.logger.Warn("Snapshot has no checkpoints folder, using it as is", zap.String("snapshot", snapshot))
		src = snapshot
	}

	partial := d.dir + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return err
	}
	if err := moveResolved(src, partial); err != nil {
		return fmt.Errorf("failed to collect checkpoints: %w", err)
	}

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("failed to clear checkpoint directory: %w", err)
	}
	if err := os.Rename(partial, d.dir); err != nil {
		return fmt.Errorf("failed to move checkpoints into place: %w", err)
	}
	if err := os.RemoveAll(staging); err != nil {
		d.logger.Warn("failed to remove staging directory", zap.String("dir", staging), zap.Error(err))
	}

	d.logger.Info("Checkpoints downloaded", zap.String("dir", d.dir))
	return nil
}

// download runs one snapshot attempt with its own progress container.
func (d *CheckpointDownloader) download(client *hub.Client) (string, error) {
	// the hub adds bars on its own goroutine, so the container must outlive
	// the caller's context until the attempt returns
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := mpb.NewWithContext(ctx,
		mpb.WithOutput(d.output),
		mpb.WithWidth(60),
		mpb.WithRefreshRate(180*time.Millisecond),
	)
	client.Progress = progress

	snapshot, err := client.Download(&hub.DownloadParams{
		Repo: &hub.Repo{Id: d.repoID, Type: hub.ModelRepoType},
	})
	if err != nil {
		// unfinished bars never complete on their own
		cancel()
	}
	progress.Wait()

	if err != nil {
		d.logger.Warn("checkpoint download attempt failed", zap.Error(err))
		return "", err
	}
	return snapshot, nil
}

// moveResolved rebuilds the tree under src at dest, moving the files that
// src's entries point to. Snapshot entries are links into the hub's blob
// store, so moving the links alone would leave them dangling.
func moveResolved(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if entry.IsDir() {
			return pathutil.EnsureDir(target)
		}

		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return err
		}
		if err := pathutil.EnsureParentDir(target); err != nil {
			return err
		}
		return os.Rename(resolved, target)
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hasEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	return len(entries) > 0, nil
}
