package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vendordesk/model"
)

// File is a memory repository that writes its collection back to the
// fixture after every mutation. Writes replace the file atomically, so a
// crash leaves either the old or the new collection on disk.
type File struct {
	*Memory
	path string
}

// OpenFile loads the fixture at path. A missing file starts an empty
// collection that is created on the first mutation.
func OpenFile(path string) (*File, error) {
	var items []model.Item
	if _, err := os.Stat(path); err == nil {
		items, err = LoadFixture(path)
		if err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	f := &File{Memory: NewMemory(items), path: path}
	f.Memory.afterWrite = f.write
	return f, nil
}

func (f *File) write(items []model.Item) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Fixture{Items: items}); err != nil {
		return fmt.Errorf("source: encoding %s: %w", f.path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("source: encoding %s: %w", f.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("source: creating directory for %s: %w", f.path, err)
	}
	if err := atomic.WriteFile(f.path, &buf); err != nil {
		return fmt.Errorf("source: writing %s: %w", f.path, err)
	}
	return nil
}

// HealthCheck verifies the fixture's directory is still accessible.
func (f *File) HealthCheck(context.Context) error {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("source: fixture directory: %w", err)
	}
	return nil
}
