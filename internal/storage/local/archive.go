// Package local archives run artifacts into a directory on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/hash/sha256"
)

// Config captures the archive location.
type Config struct {
	// BaseDir is the root directory that receives artifact copies.
	BaseDir string
}

// Archive copies artifacts under BaseDir and writes a .sha256 file next to each copy.
type Archive struct {
	baseDir string
	logger  *zap.Logger
}

// New creates the archive, making BaseDir when it does not exist.
func New(cfg Config, logger *zap.Logger) (*Archive, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{baseDir: cfg.BaseDir, logger: logger}, nil
}

// UploadFile copies localPath to object under the base directory and returns a file:// URI.
func (a *Archive) UploadFile(_ context.Context, localPath, object, _ string) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	fullPath := filepath.Join(a.baseDir, object)
	cleanBase := filepath.Clean(a.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := copyFile(localPath, fullPath); err != nil {
		return "", err
	}
	digest, err := sha256.File(fullPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath+".sha256", []byte(digest+"  "+filepath.Base(fullPath)+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write checksum: %w", err)
	}
	uri := "file://" + fullPath
	a.logger.Info("archived artifact", zap.String("uri", uri), zap.String("sha256", digest))
	return uri, nil
}

func copyFile(src, dst string) error {
	// #nosec G304 -- path comes from operator configuration.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only handle

	// #nosec G304 -- destination is validated against the base directory.
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive copy: %w", err)
	}
	return nil
}
