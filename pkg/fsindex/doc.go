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

// Package fsindex records ownership, permission and capability metadata of a
// filesystem tree and makes it queryable.
//
// A Walker produces a Tree in pre-order with 1-based ids, so every entry's
// parent precedes it. The Tree is stored in a SQLite database (Index) with
// two tables: inodes, one row per entry, and links, the symlinks that point
// at directories. Paths are looked up after substituting those links one hop
// at a time, so "/var/run/x.sock" finds the entry recorded under "/run".
//
// The pure Go modernc.org/sqlite driver is used by default. Build with
// -tags cgo_sqlite to use github.com/mattn/go-sqlite3 instead.
//
// Queries are composed with Query:
//
//	q := fsindex.NewQuery().Type("f").SpecialBits()
//	entries, err := idx.Query(ctx, q)
package fsindex
