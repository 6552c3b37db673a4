package filestorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/utils/pathutil"
)

type LocalFileStorage struct {
	assetsDir string
	tempDir   string
}

func NewLocalFileStorage(cfg *config.Config) (*LocalFileStorage, error) {
	if cfg.AssetsDir == "" {
		return nil, fmt.Errorf("assets directory is not set")
	}

	return &LocalFileStorage{
		assetsDir: cfg.AssetsDir,
		tempDir:   cfg.TempDir,
	}, nil
}

// Upload writes the file under the assets (or temp) directory and returns
// its absolute path.
func (u *LocalFileStorage) Upload(ctx context.Context, file FileInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := u.assetsDir
	if file.IsTemp {
		dir = u.tempDir
	}

	filedest := filepath.Join(dir, file.Filename())
	if err := pathutil.WriteFile(filedest, file.Content); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(filedest)
	if err != nil {
		return filedest, nil
	}

	return abs, nil
}

func (u *LocalFileStorage) UploadMultiple(ctx context.Context, files []FileInfo) ([]string, error) {
	return uploadAll(ctx, u, files)
}

func (u *LocalFileStorage) GetFile(ctx context.Context, filename string) (*FileInfo, error) {
	base := filepath.Base(filename)
	content, err := os.ReadFile(filepath.Join(u.assetsDir, base))
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(base)
	return &FileInfo{
		Name:      strings.TrimSuffix(base, ext),
		Extension: ext,
		Content:   content,
		IsTemp:    false,
	}, nil
}
