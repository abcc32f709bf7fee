// Package upload stages profile photos on disk and hands them to an Uploader
// that turns the staged file into a public URL.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const DefaultMaxBytes int64 = 5 * 1024 * 1024

var (
	ErrInvalidFile  = errors.New("only JPG, JPEG and PNG files are allowed")
	ErrFileTooLarge = errors.New("file too large")
	ErrUploadFailed = errors.New("photo upload failed")
)

var allowedExtensions = []string{".jpg", ".jpeg", ".png"}

// Uploader publishes a local file and returns the URL clients should use.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Stager writes one incoming image to the staging directory.
type Stager struct {
	dir      string
	maxBytes int64
}

func NewStager(dir string, maxBytes int64) *Stager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Stager{dir: dir, maxBytes: maxBytes}
}

// Stage validates the file and saves it under a unique name, returning its path.
func (s *Stager) Stage(fh *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !slices.Contains(allowedExtensions, ext) {
		return "", ErrInvalidFile
	}
	if fh.Size > s.maxBytes {
		return "", ErrFileTooLarge
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	dest := filepath.Join(s.dir, uniqueName(ext))
	dst, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	defer dst.Close()

	// copy one byte past the limit so a lying Size header is still caught
	n, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if n > s.maxBytes {
		_ = os.Remove(dest)
		return "", ErrFileTooLarge
	}
	return dest, nil
}

// Photos stages a photo and then uploads it.
type Photos struct {
	stager   *Stager
	uploader Uploader
}

func NewPhotos(stager *Stager, uploader Uploader) *Photos {
	return &Photos{stager: stager, uploader: uploader}
}

func (p *Photos) Publish(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	path, err := p.stager.Stage(fh)
	if err != nil {
		return "", err
	}

	url, err := p.uploader.Upload(ctx, path)
	if err != nil {
		if errors.Is(err, ErrUploadFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return url, nil
}

// IsValidation reports whether err is the caller's fault rather than ours.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidFile) || errors.Is(err, ErrFileTooLarge)
}

func uniqueName(ext string) string {
	return fmt.Sprintf("%d-%d%s", time.Now().UnixMilli(), rand.IntN(1_000_000_000), ext)
}
