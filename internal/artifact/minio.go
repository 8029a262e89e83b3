package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	accessKey       string
	secretAccessKey string
	region          string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: true,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// minioDownloader reads s3://bucket/key locations.
type minioDownloader struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioDownloader(opts ...MinioOpts) (*minioDownloader, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is not set")
	}

	creds := credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, "")
	if cfg.accessKey == "" {
		creds = credentials.NewEnvAWS()
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, err
	}

	return &minioDownloader{cfg: cfg, client: minioClient}, nil
}

func (s *minioDownloader) Supports(u *url.URL) bool {
	return u.Scheme == "s3"
}

func (s *minioDownloader) Get(ctx context.Context, u *url.URL, dst io.Writer) (int64, error) {
	bucket, key, err := splitS3(u)
	if err != nil {
		return 0, err
	}

	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, err
	}
	defer object.Close()

	objInfo, err := object.Stat()
	if err != nil {
		return 0, err
	}

	newCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mw := newWrapper(newCtx, dst, objInfo.Size)

	if _, err = io.Copy(mw, object); err != nil {
		return mw.downloadedBytes.Load(), err
	}
	return mw.downloadedBytes.Load(), mw.check()
}

func (s *minioDownloader) Type() string {
	return "minio"
}

func splitS3(u *url.URL) (bucket, key string, err error) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: expected s3://bucket/key", u.String())
	}
	return bucket, key, nil
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) {
		c.region = region
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
