package upload

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileHeader(t *testing.T, name string, size int) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("photo", name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(bytes.Repeat([]byte{0x89}, size)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	form, err := multipart.NewReader(body, w.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["photo"][0]
}

func TestStage_AcceptsImages(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(dir, 64)

	for _, name := range []string{"a.jpg", "b.JPEG", "c.png"} {
		path, err := s.Stage(fileHeader(t, name, 10))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if filepath.Dir(path) != dir {
			t.Fatalf("expected file under %s, got %s", dir, path)
		}
		if !strings.HasSuffix(path, strings.ToLower(filepath.Ext(name))) {
			t.Fatalf("expected extension kept, got %s", path)
		}
		if info, err := os.Stat(path); err != nil || info.Size() != 10 {
			t.Fatalf("staged file missing or wrong size: %v", err)
		}
	}
}

func TestStage_Rejections(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(dir, 64)

	if _, err := s.Stage(fileHeader(t, "doc.pdf", 10)); !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("expected ErrInvalidFile, got %v", err)
	}
	if _, err := s.Stage(fileHeader(t, "big.png", 65)); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("rejected uploads must not leave files, found %d", len(entries))
	}
	if !IsValidation(ErrInvalidFile) || !IsValidation(ErrFileTooLarge) || IsValidation(ErrUploadFailed) {
		t.Fatal("unexpected IsValidation classification")
	}
}

func TestPhotos_PublishLocal(t *testing.T) {
	staging := t.TempDir()
	public := t.TempDir()
	photos := NewPhotos(NewStager(staging, DefaultMaxBytes), NewLocalUploader(public, "http://localhost:5000/"))

	url, err := photos.Publish(context.Background(), fileHeader(t, "me.png", 32))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:5000/uploads/") {
		t.Fatalf("unexpected url %s", url)
	}

	name := strings.TrimPrefix(url, "http://localhost:5000/uploads/")
	if _, err := os.Stat(filepath.Join(public, name)); err != nil {
		t.Fatalf("expected published file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staging, name)); !os.IsNotExist(err) {
		t.Fatalf("staged copy should have been moved, stat err=%v", err)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(ctx context.Context, localPath string) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestPhotos_UploaderFailureIsWrapped(t *testing.T) {
	photos := NewPhotos(NewStager(t.TempDir(), DefaultMaxBytes), failingUploader{})

	_, err := photos.Publish(context.Background(), fileHeader(t, "me.jpg", 8))
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}

func TestLocalUploader_SameDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.png")
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	url, err := NewLocalUploader(dir, "http://h").Upload(context.Background(), path)
	if err != nil || url != "http://h/uploads/x.png" {
		t.Fatalf("unexpected result %q %v", url, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should stay in place: %v", err)
	}
}
