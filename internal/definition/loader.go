// Package definition loads list definitions from YAML, validates them and
// serves them from a registry swapped atomically on reload.
package definition

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vendordesk/model"
)

// LoadDirs loads the definitions under each directory, ordered by domain.
func LoadDirs(dirs []string) ([]model.DomainDefinition, error) {
	var all []model.DomainDefinition
	for _, dir := range dirs {
		defs, err := LoadFS(os.DirFS(dir), dir)
		if err != nil {
			return nil, err
		}
		all = append(all, defs...)
	}
	slices.SortStableFunc(all, func(a, b model.DomainDefinition) int {
		return cmp.Compare(a.Domain, b.Domain)
	})
	return all, nil
}

// LoadFS parses every .yaml and .yml file in fsys. Names starting with an
// underscore are skipped, directories included, so drafts and fixtures can
// live beside definitions. base prefixes the recorded SourceFile.
func LoadFS(fsys fs.FS, base string) ([]model.DomainDefinition, error) {
	var defs []model.DomainDefinition
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != "." && strings.HasPrefix(d.Name(), "_") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		def, err := Parse(data, filepath.Join(base, filepath.FromSlash(p)))
		if err != nil {
			return err
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("definition: load %s: %w", base, err)
	}
	return defs, nil
}

func isYAML(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile parses a single definition file.
func LoadFile(name string) (model.DomainDefinition, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return model.DomainDefinition{}, fmt.Errorf("definition: %w", err)
	}
	return Parse(data, name)
}

// Parse decodes one domain definition. Unknown keys are errors, so a
// misspelt option fails the load instead of silently doing nothing.
func Parse(data []byte, source string) (model.DomainDefinition, error) {
	var def model.DomainDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return def, fmt.Errorf("definition: %s is empty", source)
		}
		return def, fmt.Errorf("definition: %s: %w", source, err)
	}

	sum := sha256.Sum256(data)
	def.Checksum = hex.EncodeToString(sum[:])
	def.SourceFile = source
	for i := range def.Lists {
		withDefaults(&def.Lists[i])
	}
	return def, nil
}

// withDefaults fills the list options a definition may leave out.
func withDefaults(l *model.ListDefinition) {
	if l.Pagination == "" {
		l.Pagination = model.PagePaged
	}
	if l.Source.Driver == "" {
		l.Source.Driver = "memory"
	}
	if l.DefaultSort.Key != "" && l.DefaultSort.Direction == "" {
		l.DefaultSort.Direction = model.SortAsc
	}
	for i := range l.Fields {
		if f := &l.Fields[i]; f.Label == "" {
			f.Label = f.Name
		}
	}
}
