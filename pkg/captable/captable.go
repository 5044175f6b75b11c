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

package captable

import (
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/serializer"
)

//go:embed data/capabilities.json data/fd_flags.json
var dataFS embed.FS

const (
	capabilitiesFile = "data/capabilities.json"
	fdFlagsFile      = "data/fd_flags.json"
)

// Table translates bit masks into names. It is loaded from a JSON object
// mapping each name to its bit index.
type Table struct {
	names []string
	bits  []uint
}

// Parse builds a Table from JSON.
func Parse(data []byte) (*Table, error) {
	var raw map[string]uint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeScanner, "invalid translation table", err)
	}
	return newTable(raw)
}

func newTable(raw map[string]uint) (*Table, error) {
	entries := make([]string, 0, len(raw))
	for name, bit := range raw {
		if bit > 63 {
			return nil, errors.NewWithContext(errors.ErrCodeScanner, "bit index out of range",
				map[string]any{"name": name, "bit": bit})
		}
		entries = append(entries, name)
	}
	sort.Slice(entries, func(i, j int) bool {
		if raw[entries[i]] != raw[entries[j]] {
			return raw[entries[i]] < raw[entries[j]]
		}
		return entries[i] < entries[j]
	})

	t := &Table{names: entries, bits: make([]uint, len(entries))}
	for i, name := range entries {
		t.bits[i] = raw[name]
	}
	return t, nil
}

// Load reads a JSON or YAML table from path. A missing or malformed file
// is a scanner error.
func Load(path string) (*Table, error) {
	var raw map[string]uint
	if err := serializer.DecodeFile(path, &raw); err != nil {
		msg := "invalid translation table"
		if stderrors.Is(err, fs.ErrNotExist) {
			msg = "missing translation table"
		}
		return nil, errors.WrapWithContext(errors.ErrCodeScanner, msg, err, map[string]any{"path": path})
	}
	return newTable(raw)
}

// Capabilities returns the capability table. An empty path selects the
// embedded table.
func Capabilities(path string) (*Table, error) {
	return loadOrEmbedded(path, capabilitiesFile)
}

// FDFlags returns the descriptor flag table. An empty path selects the
// embedded table.
func FDFlags(path string) (*Table, error) {
	return loadOrEmbedded(path, fdFlagsFile)
}

func loadOrEmbedded(path, embedded string) (*Table, error) {
	if path != "" {
		return Load(path)
	}
	data, err := dataFS.ReadFile(embedded)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded %s: %w", embedded, err)
	}
	return Parse(data)
}

// Names returns the names of the bits set in mask, lowest bit first.
func (t *Table) Names(mask uint64) []string {
	var out []string
	for i, bit := range t.bits {
		if mask&(1<<bit) != 0 {
			out = append(out, t.names[i])
		}
	}
	return out
}

// Bit returns the bit index of name.
func (t *Table) Bit(name string) (uint, bool) {
	for i, n := range t.names {
		if n == name {
			return t.bits[i], true
		}
	}
	return 0, false
}

// Len returns the number of names in the table.
func (t *Table) Len() int {
	return len(t.names)
}
