// Package minio provides a filefield.Storer that keeps file contents in a
// MinIO or other S3-compatible bucket.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"impractical.co/filefield"
	"yall.in"
)

var _ filefield.Storer = &Storer{}

// Config holds the bucket settings.
type Config struct {
	// Endpoint is the MinIO server address (e.g., "localhost:9000")
	Endpoint string

	// Bucket is the S3 bucket name
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL enables HTTPS connections
	UseSSL bool

	// Prefix is an optional prefix for all object keys
	Prefix string

	// Client is an optional pre-configured MinIO client. If provided,
	// Endpoint/AccessKey/SecretKey are ignored.
	Client *minio.Client
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// Storer stores content as objects named after their SHA-256 hash.
type Storer struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStorer returns a Storer for the bucket in cfg.
func NewStorer(cfg Config) (*Storer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating minio client: %w", err)
		}
	}
	return &Storer{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *Storer) key(sha string) string {
	return path.Join(s.prefix, sha)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

// objectWriter streams writes into a PutObject call running in the
// background. Close waits for the upload to finish.
type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *objectWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func (s *Storer) Upload(ctx context.Context, sha string) (io.WriteCloser, error) {
	log := yall.FromContext(ctx).WithField("filefield.bucket", s.bucket)
	_, err := s.client.StatObject(ctx, s.bucket, s.key(sha), minio.StatObjectOptions{})
	if err == nil {
		return nil, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &objectWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(sha), pr, -1, minio.PutObjectOptions{})
		if err != nil {
			log.WithField("filefield.error", err.Error()).Debug("[filefield] put object failed")
		}
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (s *Storer) Download(ctx context.Context, sha string) (io.ReadCloser, error) {
	// GetObject doesn't fail for missing objects until the first read
	if _, err := s.Stat(ctx, sha); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(sha), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *Storer) Delete(ctx context.Context, sha string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(sha), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Storer) Stat(ctx context.Context, sha string) (filefield.Blob, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(sha), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return filefield.Blob{}, filefield.ErrFileNotFound
		}
		return filefield.Blob{}, err
	}
	return filefield.Blob{
		SHA256:      sha,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// Factory creates Storers in a bucket for tests, and empties the bucket
// when they're torn down.
type Factory struct {
	Config Config
}

func (f Factory) NewStorer(ctx context.Context) (filefield.Storer, error) {
	s, err := NewStorer(f.Config)
	if err != nil {
		return nil, err
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (f Factory) TeardownStorers() error {
	ctx := context.Background()
	s, err := NewStorer(f.Config)
	if err != nil {
		return err
	}
	var errs []error
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			errs = append(errs, obj.Err)
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
