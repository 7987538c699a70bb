// Package mirror copies uploaded images to secondary storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Target receives a copy of every stored image.
type Target interface {
	Name() string
	Copy(ctx context.Context, name, contentType string, data []byte) error
}

// Multi copies to every target, joining failures.
type Multi []Target

// Name implements Target.
func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, t := range m {
		names[i] = t.Name()
	}
	return strings.Join(names, ",")
}

// Copy implements Target.
func (m Multi) Copy(ctx context.Context, name, contentType string, data []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.Copy(ctx, name, contentType, data); err != nil {
			errs = append(errs, fmt.Errorf("mirror: %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Dir mirrors into a directory, typically a mounted network share.
type Dir struct {
	Path string
}

// Name implements Target.
func (d Dir) Name() string { return "dir" }

// Copy writes data to Path/name via a temp file and rename so readers of the
// share never see a partial file.
func (d Dir) Copy(ctx context.Context, name, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("mirror: create %s: %w", d.Path, err)
	}
	dst := filepath.Join(d.Path, filepath.Base(name))
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("mirror: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("mirror: rename %s: %w", dst, err)
	}
	return nil
}
