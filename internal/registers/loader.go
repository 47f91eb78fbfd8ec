package registers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*
var builtinProfiles embed.FS

var catalogExtensions = []string{".json", ".yaml", ".yml"}

// ProfileLoader resolves catalogs by name from the search paths, falling
// back to the profiles compiled into the binary.
type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load returns the catalog for a profile name such as "macon".
func (l *ProfileLoader) Load(profile string) (*Catalog, error) {
	if cached, ok := l.cache.Load(profile); ok {
		return cached.(*Catalog), nil
	}

	data, foundPath, err := l.find(profile)
	if err != nil {
		return nil, err
	}

	catalog, err := l.parse(data, filepath.Ext(foundPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", foundPath, err)
	}

	l.cache.Store(profile, catalog)
	return catalog, nil
}

// LoadFile reads a catalog from an explicit path.
func (l *ProfileLoader) LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	catalog, err := l.parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return catalog, nil
}

func (l *ProfileLoader) find(profile string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		for _, ext := range catalogExtensions {
			fullPath := filepath.Join(searchPath, profile+ext)
			data, err := os.ReadFile(fullPath)
			if err == nil {
				return data, fullPath, nil
			}
		}
	}

	// Eingebaute Profile
	for _, ext := range catalogExtensions {
		name := "profiles/" + profile + ext
		data, err := builtinProfiles.ReadFile(name)
		if err == nil {
			return data, name, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("failed to read builtin profile %s: %w", name, err)
		}
	}

	return nil, "", fmt.Errorf("profile not found: %s (searched in: %v and builtin profiles)", profile, l.searchPaths)
}

func (l *ProfileLoader) parse(data []byte, ext string) (*Catalog, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
		data = converted
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}

	if err := l.validator.ValidateCatalog(data); err != nil {
		return nil, err
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	return NewCatalog(def)
}

// BuiltinProfiles lists the names of the embedded catalogs.
func BuiltinProfiles() []string {
	entries, err := builtinProfiles.ReadDir("profiles")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return names
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
