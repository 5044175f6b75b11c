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

// Package dump persists snapshots on disk, one directory per host.
//
// A dump directory holds:
//
//	.hostaudit.data          zero-byte marker, written first
//	header.json.gz           one blob per category
//	proc_data.json.gz
//	...
//	filesystem.db            SQLite filesystem index (when files were collected)
//	.complete                zero-byte completion file, written last
//
// Blobs use the serializer blob codec. HasCache is all or nothing: a dump
// without the completion file, missing any category, or missing the
// filesystem database although the snapshot's system data says files were
// collected, is treated as absent. A failed save removes what it wrote and
// keeps only the marker.
//
// Clear only deletes directories carrying the marker and otherwise fails with
// ErrCodeCacheMissingLockfile. Writers for the same host are serialized with
// an flock on a per-host lock file next to the dump directory.
package dump
