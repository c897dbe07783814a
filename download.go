package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DirDownloader saves buffered recordings into a local directory, the
// headless counterpart of a browser download.
type DirDownloader struct {
	Dir string
}

// Download implements Downloader.
func (d DirDownloader) Download(ctx context.Context, filename string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(d.Dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create download: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write download: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("write download: wrote %d of %d bytes", n, size)
	}
	return nil
}

// ObjectStoreConfig configures S3-compatible storage for recordings.
type ObjectStoreConfig struct {
	Endpoint       string `toml:"endpoint"` // e.g. s3.amazonaws.com, localhost:9000
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	SessionToken   string `toml:"session_token"`
	Prefix         string `toml:"prefix"` // Object key prefix
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether enough is configured to upload.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// ObjectStoreDownloader uploads buffered recordings to S3-compatible
// storage. The bucket is created on first use when missing.
type ObjectStoreDownloader struct {
	cfg    ObjectStoreConfig
	client *minio.Client

	bucketMu    sync.Mutex
	bucketReady bool
}

// NewObjectStoreDownloader creates the storage client.
func NewObjectStoreDownloader(cfg ObjectStoreConfig) (*ObjectStoreDownloader, error) {
	if !cfg.Enabled() {
		return nil, errors.New("object store not configured")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.ForcePathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return &ObjectStoreDownloader{cfg: cfg, client: client}, nil
}

// ObjectKey returns the key a recording is stored under.
func (d *ObjectStoreDownloader) ObjectKey(filename string) string {
	name := filepath.Base(filename)
	if prefix := strings.Trim(d.cfg.Prefix, "/"); prefix != "" {
		return prefix + "/" + name
	}
	return name
}

// ensureBucket checks for the bucket, creating it when missing, until
// one check succeeds. Failures are retried on the next upload.
func (d *ObjectStoreDownloader) ensureBucket(ctx context.Context) error {
	d.bucketMu.Lock()
	defer d.bucketMu.Unlock()
	if d.bucketReady {
		return nil
	}
	exists, err := d.client.BucketExists(ctx, d.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := d.client.MakeBucket(ctx, d.cfg.Bucket, minio.MakeBucketOptions{Region: d.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	d.bucketReady = true
	return nil
}

// Download implements Downloader.
func (d *ObjectStoreDownloader) Download(ctx context.Context, filename string, r io.Reader, size int64) error {
	if err := d.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := d.client.PutObject(ctx, d.cfg.Bucket, d.ObjectKey(filename), r, size,
		minio.PutObjectOptions{ContentType: "video/webm"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	return nil
}
