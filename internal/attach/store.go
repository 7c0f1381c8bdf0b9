// Package attach stores submission attachments on local disk.
package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Stored describes a file kept by a Store. Path is relative to the store root.
type Stored struct {
	Path string
	Mime string
	Size int64
}

// Store keeps attachment files. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, submissionID, name string, r io.Reader) (Stored, error)
	Copy(ctx context.Context, submissionID, path string) (Stored, error)
	Stat(ctx context.Context, path string) (Stored, error)
	Remove(ctx context.Context, path string) error
}

var ErrOutsideRoot = errors.New("attachment path escapes the store root")

// Local is a Store rooted at a directory, one sub-directory per submission.
type Local struct {
	Root string
}

func (l Local) Save(ctx context.Context, submissionID, name string, r io.Reader) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	rel := filepath.Join(submissionID, uuid.NewString()+"-"+cleanName(name))
	full := filepath.Join(l.Root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Stored{}, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Stored{}, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return Stored{}, fmt.Errorf("write attachment: %w", err)
	}
	mt, err := mimetype.DetectFile(full)
	if err != nil {
		_ = os.Remove(full)
		return Stored{}, err
	}
	return Stored{Path: filepath.ToSlash(rel), Mime: mt.String(), Size: n}, nil
}

// Copy duplicates an already stored file under the new submission; the source is left in place.
func (l Local) Copy(ctx context.Context, submissionID, path string) (Stored, error) {
	src, err := l.resolve(path)
	if err != nil {
		return Stored{}, err
	}
	f, err := os.Open(src)
	if err != nil {
		return Stored{}, err
	}
	defer f.Close()
	return l.Save(ctx, submissionID, originalName(src), f)
}

func (l Local) Stat(ctx context.Context, path string) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return Stored{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return Stored{}, err
	}
	if info.IsDir() {
		return Stored{}, fmt.Errorf("attachment %s is a directory", path)
	}
	mt, err := mimetype.DetectFile(full)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Path: filepath.ToSlash(filepath.Clean(path)), Mime: mt.String(), Size: info.Size()}, nil
}

func (l Local) Remove(_ context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l Local) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty attachment path")
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.Join(l.Root, clean), nil
}

func cleanName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "attachment"
	}
	return name
}

// originalName strips the uuid prefix Save puts in front of stored names.
func originalName(path string) string {
	base := filepath.Base(path)
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}
