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

package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/serializer"
)

// Node is an item of a host list: a Host or a HostWithChildren.
type Node interface {
	// Name is the host the node describes.
	Name() string
	node()
}

// Host is a host without hosts behind it.
type Host string

func (h Host) Name() string { return string(h) }
func (Host) node()          {}

// HostWithChildren is a host that is the jump host for its children.
type HostWithChildren struct {
	Host     string
	Children []Node
}

func (h *HostWithChildren) Name() string { return h.Host }
func (*HostWithChildren) node()          {}

// Topology is an entry host and the hosts reachable through it.
type Topology struct {
	Entry string
	Nodes []Node
}

// Target is a host to collect and the jump hosts to reach it, outermost first.
type Target struct {
	Host string   `json:"host"`
	Via  []string `json:"via,omitempty"`
}

// Load reads a topology file. Files ending in .yaml or .yml are YAML,
// anything else JSON.
func Load(path string) (*Topology, error) {
	b, err := serializer.JSONFromFile(path)
	if err != nil {
		return nil, errors.WrapWithContext(errors.ErrCodeScanner, "failed to read topology file", err,
			map[string]any{"path": path})
	}
	t, err := Parse(b)
	if err != nil {
		return nil, errors.WrapWithContext(errors.ErrCodeScanner, "invalid topology file", err,
			map[string]any{"path": path})
	}
	return t, nil
}

// Parse decodes a topology document: an object with exactly one key, the
// entry host, mapping to an array of host strings or single-key objects
// {"host": [children...]}.
func Parse(b []byte) (*Topology, error) {
	entry, items, err := singleKey(b)
	if err != nil {
		return nil, err
	}
	nodes, err := parseNodes(items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry, err)
	}
	return &Topology{Entry: entry, Nodes: nodes}, nil
}

func singleKey(b []byte) (string, []json.RawMessage, error) {
	var doc map[string][]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", nil, errors.Wrap(errors.ErrCodeScanner, "expected an object of host arrays", err)
	}
	if len(doc) != 1 {
		return "", nil, errors.Newf(errors.ErrCodeScanner, "expected 1 entry node, got %d", len(doc))
	}
	var host string
	var items []json.RawMessage
	for host, items = range doc {
	}
	if host == "" {
		return "", nil, errors.New(errors.ErrCodeScanner, "empty host name")
	}
	return host, items, nil
}

func parseNodes(items []json.RawMessage) ([]Node, error) {
	nodes := make([]Node, 0, len(items))
	for i, raw := range items {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var h string
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, errors.Wrap(errors.ErrCodeScanner, fmt.Sprintf("item %d", i), err)
			}
			if h == "" {
				return nil, errors.Newf(errors.ErrCodeScanner, "item %d: empty host name", i)
			}
			nodes = append(nodes, Host(h))
			continue
		}
		if len(raw) == 0 || raw[0] != '{' {
			return nil, errors.Newf(errors.ErrCodeScanner, "item %d: expected a host string or object, got %s", i, raw)
		}
		host, children, err := singleKey(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		sub, err := parseNodes(children)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", host, err)
		}
		nodes = append(nodes, &HostWithChildren{Host: host, Children: sub})
	}
	return nodes, nil
}

// Flatten lists every host in document order, the entry first.
func (t *Topology) Flatten() []Target {
	out := []Target{{Host: t.Entry}}
	return flatten(out, t.Nodes, []string{t.Entry})
}

func flatten(out []Target, nodes []Node, via []string) []Target {
	for _, n := range nodes {
		out = append(out, Target{Host: n.Name(), Via: append([]string(nil), via...)})
		if hc, ok := n.(*HostWithChildren); ok {
			out = flatten(out, hc.Children, append(append([]string(nil), via...), hc.Host))
		}
	}
	return out
}

// MarshalJSON encodes the topology in the file format Load reads.
func (t *Topology) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{t.Entry: encodeNodes(t.Nodes)})
}

func encodeNodes(nodes []Node) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case Host:
			out = append(out, string(v))
		case *HostWithChildren:
			out = append(out, map[string]any{v.Host: encodeNodes(v.Children)})
		}
	}
	return out
}

// Save writes the topology to path, or stdout for "" and "-". The format
// follows the extension the way Load reads it.
func (t *Topology) Save(ctx context.Context, path string) error {
	format := serializer.FormatJSON
	if serializer.FormatFromPath(path) == serializer.FormatYAML {
		format = serializer.FormatYAML
	}
	w, err := serializer.NewFileWriterOrStdout(format, path)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Serialize(ctx, t); err != nil {
		return fmt.Errorf("failed to write topology: %w", err)
	}
	return w.Close()
}

// Local is the topology of a single host collected without a transport hop.
func Local(host string) *Topology {
	return &Topology{Entry: host}
}
