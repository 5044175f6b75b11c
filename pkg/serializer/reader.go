// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serializer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FormatFromPath picks the format of a file from its extension. Only
// .yaml/.yml and .table/.txt are recognized; everything else is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".table", ".txt":
		return FormatTable
	default:
		return FormatJSON
	}
}

// Decode reads a single JSON or YAML document from r into v.
func Decode(format Format, r io.Reader, v any) error {
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("format %q cannot be decoded", format)
	}
	return nil
}

// DecodeFile decodes the file at path into v, choosing the format from the
// file extension.
func DecodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := Decode(FormatFromPath(path), f, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// FromFile is DecodeFile returning a new T.
func FromFile[T any](path string) (*T, error) {
	var v T
	if err := DecodeFile(path, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// JSONFromFile returns the document at path as JSON. YAML files are decoded
// and re-encoded, so parsers working on json.RawMessage accept both.
func JSONFromFile(path string) ([]byte, error) {
	if FormatFromPath(path) != FormatYAML {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	var doc any
	if err := DecodeFile(path, &doc); err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: YAML document has no JSON form: %w", path, err)
	}
	return b, nil
}
