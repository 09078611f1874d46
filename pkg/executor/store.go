package executor

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ScreenshotStore writes screenshots below a base directory.
type ScreenshotStore struct {
	fs afero.Fs
}

// NewScreenshotStore roots a store at dir on fs. An empty dir uses fs as is.
func NewScreenshotStore(fs afero.Fs, dir string) *ScreenshotStore {
	if dir != "" {
		fs = afero.NewBasePathFs(fs, dir)
	}
	return &ScreenshotStore{fs: fs}
}

// NewMemScreenshotStore keeps screenshots in memory.
func NewMemScreenshotStore() *ScreenshotStore {
	return &ScreenshotStore{fs: afero.NewMemMapFs()}
}

// Save writes data to name and returns the cleaned relative path. A name
// without an extension gets ".png".
func (s *ScreenshotStore) Save(name string, data []byte) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(name))[1:]
	if clean == "" || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid screenshot path %q", name)
	}
	if path.Ext(clean) == "" {
		clean += ".png"
	}

	if err := s.fs.MkdirAll(path.Dir("/"+clean), 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, "/"+clean, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return clean, nil
}

// Read returns a saved screenshot.
func (s *ScreenshotStore) Read(name string) ([]byte, error) {
	return afero.ReadFile(s.fs, "/"+strings.TrimPrefix(filepath.ToSlash(name), "/"))
}
