package filestorage

import (
	"context"
	"fmt"
	"strings"

	"github.com/imagen-apex/apex/internal/config"
	"github.com/imagen-apex/apex/internal/utils/hashutil"
)

type FileInfo struct {
	Name      string
	Extension string
	Content   []byte
	IsTemp    bool
}

func (f FileInfo) Filename() string {
	return f.Name + f.Extension
}

type FileStorage interface {
	Upload(ctx context.Context, file FileInfo) (string, error)
	UploadMultiple(ctx context.Context, files []FileInfo) ([]string, error)
	GetFile(ctx context.Context, filename string) (*FileInfo, error)
}

func NewFileInfo(name string, extension string, content []byte, isTemp bool) FileInfo {
	return FileInfo{
		Name:      name,
		Extension: extension,
		Content:   content,
		IsTemp:    isTemp,
	}
}

// NewContentAddressedFile names content after its blake3 digest, so the
// same artifact always maps to the same object.
func NewContentAddressedFile(content []byte, extension string) FileInfo {
	return NewFileInfo(hashutil.Blake3Hash(content), extension, content, false)
}

func NewFileStorage(cfg *config.Config) (FileStorage, error) {
	switch strings.ToLower(cfg.Filesystem) {
	case config.FilesystemLocal:
		return NewLocalFileStorage(cfg)
	case config.FilesystemS3:
		return NewS3FileStorage(context.Background(), cfg)
	}

	return nil, fmt.Errorf("invalid filesystem type %s", cfg.Filesystem)
}

func uploadAll(ctx context.Context, s FileStorage, files []FileInfo) ([]string, error) {
	var uploaded []string
	for _, file := range files {
		destination, err := s.Upload(ctx, file)
		if err != nil {
			return nil, err
		}

		uploaded = append(uploaded, destination)
	}

	return uploaded, nil
}
