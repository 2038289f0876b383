package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local keeps uploads on disk under Dir. Saved files get a random name with
// the uploaded file's extension and are referenced as "/uploads/<name>".
type Local struct {
	Dir string
}

const URLPrefix = "/uploads/"

func (l *Local) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(filename)))
	f, err := os.OpenFile(filepath.Join(l.Dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, readerWithContext(ctx, r)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return URLPrefix + name, nil
}

// Remove deletes a file saved by Save. Removing a missing file is not an
// error.
func (l *Local) Remove(ctx context.Context, ref string) error {
	p, ok := l.Path(ref)
	if !ok {
		return fmt.Errorf("not an upload reference: %q", ref)
	}
	err := os.Remove(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Path maps a reference back to its file on disk. Only references of the
// form "/uploads/<name>" map to anything.
func (l *Local) Path(ref string) (string, bool) {
	name, ok := strings.CutPrefix(ref, URLPrefix)
	if !ok || name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return filepath.Join(l.Dir, name), true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader { return ctxReader{ctx, r} }
