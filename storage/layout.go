package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultInputExt is assumed when an upload carries no usable extension.
const DefaultInputExt = "md"

var extPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Layout manages the on-disk areas for task files. Uploaded sources live
// under uploads/, converted results under exports/. The two areas are never
// mixed; all names inside them are keyed by task identity.
type Layout struct {
	root    string
	uploads string
	exports string
}

// NewLayout prepares the uploads and exports areas under root. An empty
// root falls back to a directory under the system temp dir.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "docconvert")
	}
	l := &Layout{
		root:    root,
		uploads: filepath.Join(root, "uploads"),
		exports: filepath.Join(root, "exports"),
	}
	for _, dir := range []string{l.uploads, l.exports} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Layout) Root() string       { return l.root }
func (l *Layout) UploadsDir() string { return l.uploads }
func (l *Layout) ExportsDir() string { return l.exports }

// InputExt extracts a safe lowercase extension from an uploaded filename.
// Anything missing or suspicious falls back to DefaultInputExt.
func InputExt(originalFilename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalFilename), "."))
	if !extPattern.MatchString(ext) {
		return DefaultInputExt
	}
	return ext
}

// SaveUpload persists an uploaded source as uploads/<id>.<ext>. A positive
// maxSize rejects oversized inputs before the task ever runs.
func (l *Layout) SaveUpload(id, ext string, r io.Reader, maxSize int64) (string, error) {
	if ext == "" {
		ext = DefaultInputExt
	}
	dest := filepath.Join(l.uploads, fmt.Sprintf("%s.%s", id, ext))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("could not create upload file: %w", err)
	}

	var copyErr error
	if maxSize > 0 {
		limited := &io.LimitedReader{R: r, N: maxSize + 1}
		written, err := io.Copy(f, limited)
		if err != nil {
			copyErr = err
		} else if written > maxSize {
			copyErr = fmt.Errorf("input exceeds size limit of %d bytes", maxSize)
		}
	} else {
		_, copyErr = io.Copy(f, r)
	}

	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return "", copyErr
	}
	return dest, nil
}

// FindInput locates the persisted source for a task, whatever extension it
// was saved with.
func (l *Layout) FindInput(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(l.uploads, id+".*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no input file for task %s", id)
	}
	return matches[0], nil
}

// RemoveTaskFiles deletes a task's stored input and, when present, its
// result file. The first error is reported but removal continues.
func (l *Layout) RemoveTaskFiles(id, resultPath string) error {
	var firstErr error
	matches, err := filepath.Glob(filepath.Join(l.uploads, id+".*"))
	if err != nil {
		firstErr = err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if resultPath != "" {
		if err := os.Remove(resultPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
