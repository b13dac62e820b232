// Package local delivers artifacts into a directory tree on the local
// filesystem, one subdirectory per recipient.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// Dir is the root directory archives are written under.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Sink writes artifacts to <Dir>/<recipient>/<filename>.
type Sink struct {
	dir string
}

// New creates the sink, creating Dir when missing and checking that it is
// writable.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.Dir, ".writable_*")
	if err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}
	return &Sink{dir: cfg.Dir}, nil
}

// Path resolves the destination of a delivery, rejecting anything that
// escapes the root directory.
func (s *Sink) Path(recipient, filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("filename is required")
	}
	parts := []string{s.dir}
	if r := strings.TrimSpace(recipient); r != "" {
		parts = append(parts, r)
	}
	parts = append(parts, filename)
	full := filepath.Clean(filepath.Join(parts...))
	root := filepath.Clean(s.dir)
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Send writes through a temporary file and renames it into place so readers
// never see a half-written archive.
func (s *Sink) Send(_ context.Context, recipient string, artifact manga.Artifact) error {
	full, err := s.Path(recipient, artifact.Filename())
	if err != nil {
		return fmt.Errorf("%w: %v", manga.ErrPermanent, err)
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: create directory: %v", manga.ErrPermanent, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial_*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", manga.ErrPermanent, err)
	}
	if _, err := io.Copy(tmp, artifact.Open()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: write archive: %v", manga.ErrPermanent, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: close archive: %v", manga.ErrPermanent, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: rename archive: %v", manga.ErrPermanent, err)
	}
	return nil
}
