package filestorage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/imagen-apex/apex/internal/config"
)

type S3FileStorage struct {
	client *s3.Client
	cfg    *config.S3Config
}

func NewS3FileStorage(ctx context.Context, cfg *config.Config) (*S3FileStorage, error) {
	if cfg.S3 == nil || cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 config is not set")
	}

	region := cfg.S3.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}
	if cfg.S3.AccessKey != "" {
		credentialsProvider := credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, "")
		opts = append(opts, awsConfig.WithCredentialsProvider(credentialsProvider))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.EndpointUrl != "" {
			o.BaseEndpoint = aws.String(cfg.S3.EndpointUrl)
			o.UsePathStyle = true
		}
	})

	return &S3FileStorage{
		client: s3Client,
		cfg:    cfg.S3,
	}, nil
}

func (u *S3FileStorage) key(file FileInfo) string {
	if file.IsTemp {
		return path.Join("temp", file.Filename())
	}

	folder := strings.Trim(u.cfg.Folder, "/")
	if folder == "" {
		return file.Filename()
	}
	return path.Join(folder, file.Filename())
}

func (u *S3FileStorage) Upload(ctx context.Context, file FileInfo) (string, error) {
	key := u.key(file)
	mtype := mimetype.Detect(file.Content).String()

	input := s3.PutObjectInput{
		Key:         aws.String(key),
		ContentType: aws.String(mtype),
		Bucket:      aws.String(u.cfg.Bucket),
		Body:        bytes.NewReader(file.Content),
	}
	if _, err := u.client.PutObject(ctx, &input); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return u.publicURL(key), nil
}

// publicURL infers where an uploaded object can be fetched from. Providers
// that cannot be inferred get an s3:// URI.
func (u *S3FileStorage) publicURL(key string) string {
	if u.cfg.PublicUrl != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(u.cfg.PublicUrl, "/"), key)
	}

	switch {
	case strings.Contains(u.cfg.EndpointUrl, "digitaloceanspaces.com"):
		return fmt.Sprintf("https://%s.%s.cdn.digitaloceanspaces.com/%s", u.cfg.Bucket, u.cfg.Region, key)
	case strings.Contains(u.cfg.EndpointUrl, "amazonaws.com"):
		endpoint := strings.TrimPrefix(u.cfg.EndpointUrl, "https://")
		endpoint = strings.TrimSuffix(endpoint, "/")
		return fmt.Sprintf("https://%s.%s/%s", u.cfg.Bucket, endpoint, key)
	case u.cfg.EndpointUrl == "" && u.cfg.Region != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
	default:
		return fmt.Sprintf("s3://%s/%s", u.cfg.Bucket, key)
	}
}

func (u *S3FileStorage) UploadMultiple(ctx context.Context, files []FileInfo) ([]string, error) {
	return uploadAll(ctx, u, files)
}

func (u *S3FileStorage) GetFile(ctx context.Context, filename string) (*FileInfo, error) {
	key := filename
	if folder := strings.Trim(u.cfg.Folder, "/"); folder != "" && !strings.HasPrefix(filename, folder+"/") {
		key = path.Join(folder, filename)
	}

	object, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer object.Body.Close()

	content, err := io.ReadAll(object.Body)
	if err != nil {
		return nil, err
	}

	base := path.Base(key)
	ext := filepath.Ext(base)
	return &FileInfo{
		Name:      strings.TrimSuffix(base, ext),
		Extension: ext,
		Content:   content,
		IsTemp:    false,
	}, nil
}
