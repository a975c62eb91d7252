// Package configloader reads the YAML files that drive dispatch:
// provider metadata, strategy tables, and failover tuning.
package configloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader reads YAML files relative to a base directory, with a fallback
// to the executable's directory for production builds.
type Loader struct {
	baseDir string
	cache   sync.Map
}

// NewLoader creates a loader rooted at baseDir.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir: baseDir,
	}
}

// Load reads a single YAML file and unmarshals it into target.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.ReadFileWithFallback(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}

	return nil
}

// Cached loads subPath into a fresh T, keeping the parsed value for
// subsequent calls. Concurrent first loads race benignly; the first
// stored value wins.
func Cached[T any](l *Loader, subPath string) (*T, error) {
	if cached, ok := l.cache.Load(subPath); ok {
		return cached.(*T), nil
	}

	target := new(T)
	if err := l.Load(subPath, target); err != nil {
		return nil, err
	}

	actual, _ := l.cache.LoadOrStore(subPath, target)
	return actual.(*T), nil
}

// ReadFileWithFallback tries the path relative to baseDir first, then
// relative to the executable's directory.
func (l *Loader) ReadFileWithFallback(path string) ([]byte, error) {
	absPath := filepath.Join(l.baseDir, path)
	data, err := os.ReadFile(absPath)
	if err == nil {
		return data, nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}

	execDir := filepath.Dir(execPath)
	execAbsPath := filepath.Join(execDir, l.baseDir, path)

	return os.ReadFile(execAbsPath)
}

// ClearCache drops every cached parse, forcing fresh reads.
func (l *Loader) ClearCache() {
	l.cache = sync.Map{}
}
