package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrS3NotConfigured is returned by UploadToS3 when no bucket is configured.
	ErrS3NotConfigured = errors.New("storage: S3 is not configured")
	// ErrOutsideTempDir is returned when cleanup is asked to remove a file
	// that LocalStorage does not own.
	ErrOutsideTempDir = errors.New("storage: path is outside the temp directory")
)

// LocalStorage keeps reference images in one directory on local disk.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates the directory if needed. An empty dir means
// "scenechain" under os.TempDir().
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "scenechain")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	return &LocalStorage{dir: filepath.Clean(dir)}, nil
}

// TempDir returns the directory files are written to.
func (s *LocalStorage) TempDir() string {
	return s.dir
}

// SaveTemp writes data to a new file named after the hint, so
// "subject.png" lands as "subject_<random>.png".
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save temp: %w", err)
	}

	ext := filepath.Ext(name)
	base := safeName(strings.TrimSuffix(filepath.Base(name), ext))

	f, err := os.CreateTemp(s.dir, base+"_*"+safeName(ext))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	_, copyErr := io.Copy(f, data)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return path, nil
}

// CleanupTemp removes files previously returned by SaveTemp. Missing files
// are ignored; every other failure is collected and returned together.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, fmt.Errorf("cleanup: %w", err))...)
		}
		if !s.owns(p) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrOutsideTempDir, p))
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// UploadToS3 always fails with ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

func (s *LocalStorage) owns(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// safeName keeps letters, digits, '-', '_' and '.' so a name hint cannot
// introduce path separators or a CreateTemp pattern.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
