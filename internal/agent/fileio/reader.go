package fileio

import (
	"fmt"
	"os"
	"path"
)

// Reader is a struct for reading files from the host
type Reader struct {
	// rootDir is the root directory for the reader useful for testing
	rootDir string
}

// NewReader creates a new reader
func NewReader() *Reader {
	return &Reader{}
}

// SetRootdir sets the root directory for the reader, useful for testing
func (r *Reader) SetRootdir(path string) {
	r.rootDir = path
}

// PathFor returns the full path for the provided file
func (r *Reader) PathFor(filePath string) string {
	return path.Join(r.rootDir, filePath)
}

// ReadFile reads the file at the provided path
func (r *Reader) ReadFile(filePath string) ([]byte, error) {
	return os.ReadFile(r.PathFor(filePath))
}

// CheckPathExists checks if a path exists and will return an error if either
// the file does not exist or if there is an error checking the path.
func (r *Reader) CheckPathExists(filePath string) error {
	p := r.PathFor(filePath)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", p)
		}
		return fmt.Errorf("error checking path %s: %w", p, err)
	}
	return nil
}
