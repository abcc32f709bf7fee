package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader publishes files into a directory served under /uploads.
type LocalUploader struct {
	publicDir string
	baseURL   string
}

var _ Uploader = (*LocalUploader)(nil)

func NewLocalUploader(publicDir, baseURL string) *LocalUploader {
	return &LocalUploader{publicDir: publicDir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (u *LocalUploader) Upload(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	name := filepath.Base(localPath)
	dest := filepath.Join(u.publicDir, name)

	same, err := samePath(localPath, dest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if !same {
		if err := os.MkdirAll(u.publicDir, 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		if err := os.Rename(localPath, dest); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
	}

	return u.baseURL + "/uploads/" + name, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
