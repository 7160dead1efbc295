package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileVersion is the file store format version.
const FileVersion = 1

// File keeps glosses in a YAML file. The whole map lives in memory; Save
// rewrites the file with keys in sorted order, so it diffs cleanly.
type File struct {
	Version int               `yaml:"version"`
	Glosses map[string]string `yaml:"glosses"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// OpenFile reads the store at path. A missing file is an empty store; it is
// created on the first Save.
func OpenFile(path string) (*File, error) {
	f := &File{
		Version: FileVersion,
		Glosses: make(map[string]string),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Version > FileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", path, f.Version)
	}
	f.path = path

	if f.Glosses == nil {
		f.Glosses = make(map[string]string)
	}

	return f, nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Len returns the number of stored glosses.
func (f *File) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Glosses)
}

// Lookup implements Store.
func (f *File) Lookup(_ context.Context, phrases []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string)
	for _, p := range phrases {
		if g, ok := f.Glosses[p]; ok {
			out[p] = g
		}
	}
	return out, nil
}

// Save implements Store. The file is rewritten on every call.
func (f *File) Save(_ context.Context, glosses map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for p, g := range glosses {
		f.Glosses[p] = g
	}

	if f.path == "" {
		return fmt.Errorf("gloss file path not set")
	}

	// yaml.v3 emits map keys sorted.
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling glosses: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}

	return nil
}

// Close implements Store.
func (f *File) Close() error { return nil }
