// Package schemas provides the embedded default artifact schemas.
package schemas

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Embed the default artifact JSON Schemas into the binary. Steps that name
// a schema validate their artifacts against these unless the maestro home
// overrides them.
//
//go:embed artifact/*.json
var artifactSchemas embed.FS

// Names lists the embedded schema ids.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(artifactSchemas, "artifact")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name()[:len(entry.Name())-len(".json")])
	}
	return names, nil
}

// Get returns one embedded schema by id.
func Get(id string) ([]byte, error) {
	data, err := artifactSchemas.ReadFile("artifact/" + id + ".json")
	if err != nil {
		return nil, fmt.Errorf("embedded schema %s: %w", id, err)
	}
	return data, nil
}

// Install materialises the embedded schemas into dir, skipping any file
// that already exists so local overrides win.
func Install(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schema dir: %w", err)
	}
	names, err := Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		path := filepath.Join(dir, name+".json")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := Get(name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("install schema %s: %w", name, err)
		}
	}
	return nil
}
