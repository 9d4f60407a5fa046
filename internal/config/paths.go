package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains the application directories
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string
}

// GetPaths returns the application paths relative to the executable location
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	exeDir := filepath.Dir(exe)
	return &Paths{
		ExecutableDir: exeDir,
		DataDir:       filepath.Join(exeDir, "data"),
		LogsDir:       filepath.Join(exeDir, "logs"),
	}, nil
}

// Resolve anchors a relative path at the executable directory. Absolute
// paths and SQLite URIs are returned unchanged.
func (p *Paths) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || isSQLiteURI(path) {
		return path
	}
	return filepath.Join(p.ExecutableDir, path)
}

// EnsureDirectories creates the data and log directories
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureParent creates the directory holding file
func EnsureParent(file string) error {
	if file == "" || isSQLiteURI(file) {
		return nil
	}
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

func isSQLiteURI(path string) bool {
	return len(path) >= 5 && path[:5] == "file:" || path == ":memory:"
}
