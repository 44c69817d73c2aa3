/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// snapshot is the on-disk form of a Catalog.
type snapshot struct {
	Database      string   `yaml:"database,omitempty"`
	DefaultSchema string   `yaml:"default_schema,omitempty"`
	Objects       []Object `yaml:"objects"`
}

// Marshal encodes the catalog as a YAML snapshot.
func Marshal(c *Catalog) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("catalog is nil")
	}
	return yaml.Marshal(snapshot{Database: c.database, DefaultSchema: c.defaultSchema, Objects: c.Objects()})
}

// Unmarshal decodes a YAML snapshot into a new Catalog.
func Unmarshal(data []byte) (*Catalog, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse catalog snapshot: %w", err)
	}
	c, err := NewCatalog(snap.DefaultSchema, snap.Objects...)
	if err != nil {
		return nil, err
	}
	return c.WithDatabase(snap.Database), nil
}

// LoadFile reads a catalog snapshot written by WriteFile.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteFile writes the catalog to path as YAML.
func WriteFile(path string, c *Catalog) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}
	return nil
}
