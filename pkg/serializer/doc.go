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

// Package serializer encodes collector documents for output and persistence.
//
// # Output Formats
//
// Writer renders any value as:
//   - JSON: indented, the format every document is defined in
//   - YAML: derived from the JSON form, so field names and custom
//     marshalers are identical (gopkg.in/yaml.v3)
//   - Table: flattened dotted keys, one per row, for terminals
//
//	w, err := serializer.NewFileWriterOrStdout(serializer.FormatYAML, path)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	return w.Serialize(ctx, summary)
//
// DecodeFile and FromFile read JSON or YAML chosen by file extension.
// JSONFromFile hands YAML documents to parsers that only speak JSON:
//
//	b, err := serializer.JSONFromFile("hosts.yaml")
//
// # Blobs
//
// EncodeBlob produces the dump store's category encoding: the magic "HAD1",
// the uncompressed length as a big-endian uint64, and gzip-compressed JSON.
// DecodeBlob rejects input whose decompressed length differs from the header.
//
// # Streams
//
// A probe writes its snapshot as a sequence of frames:
//
//	uint16 name length | name | uint64 blob length | blob
//
// StreamWriter and StreamReader implement the framing. A stream ends at a
// frame boundary; truncation inside a frame is io.ErrUnexpectedEOF.
package serializer
