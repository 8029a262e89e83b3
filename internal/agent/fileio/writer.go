package fileio

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// Writer is a struct for writing files to the host
type Writer struct {
	// rootDir is the root directory for the writer useful for testing
	rootDir string
}

// NewWriter creates a new writer
func NewWriter() *Writer {
	return &Writer{}
}

// SetRootdir sets the root directory for the writer, useful for testing
func (w *Writer) SetRootdir(path string) {
	w.rootDir = path
}

// PathFor returns the full path for the provided file, useful for using functions
// and libraries that don't work with the fileio.Writer
func (w *Writer) PathFor(filePath string) string {
	return path.Join(w.rootDir, filePath)
}

// WriteFile writes the file at the provided path
func (w *Writer) WriteFile(filePath string, data []byte) error {
	return os.WriteFile(w.PathFor(filePath), data, 0644)
}

// WriteStream copies stream into filePath. The content goes to a temporary
// file next to the target which is renamed once the copy succeeded, so a
// failed download never leaves a truncated file behind.
func (w *Writer) WriteStream(filePath string, stream func(dst io.Writer) (int64, error)) (int64, error) {
	target := w.PathFor(filePath)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := stream(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return n, fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	return n, nil
}
