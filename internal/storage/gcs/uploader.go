// Package gcs uploads run artifacts to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/hash/sha256"
)

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader copies local files to the configured bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS uploader. Authentication is left to the client (ADC by default).
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// ObjectName joins the configured prefix and name.
func (u *Uploader) ObjectName(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// UploadFile streams localPath to object (under the prefix) and returns its gs:// URI.
// The object carries the file's SHA-256 digest in its "sha256" metadata key.
func (u *Uploader) UploadFile(ctx context.Context, localPath, object, contentType string) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	digest, err := sha256.File(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	name := u.ObjectName(object)
	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.Metadata = map[string]string{"sha256": digest}
	if _, err := io.Copy(writer, f); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	uri := fmt.Sprintf("gs://%s/%s", u.bucket, name)
	u.logger.Info("uploaded artifact", zap.String("uri", uri))
	return uri, nil
}
