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

package dump

import (
	"fmt"
	"io"

	"github.com/NVIDIA/hostaudit/pkg/serializer"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
)

// WriteStream writes snap to w as frames, one per category, followed by
// the filesystem when the snapshot has one. Store.SaveStream is the reader.
func WriteStream(w io.Writer, snap *snapshotter.Snapshot) error {
	sw := serializer.NewStreamWriter(w)
	for _, c := range Categories {
		blob, err := serializer.EncodeBlob(c.get(snap))
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", c.Name, err)
		}
		if err := sw.WriteFrame(c.Name, blob); err != nil {
			return err
		}
	}
	if snap.Filesystem != nil {
		blob, err := serializer.EncodeBlob(snap.Filesystem)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", CategoryFilesystem, err)
		}
		if err := sw.WriteFrame(CategoryFilesystem, blob); err != nil {
			return err
		}
	}
	return sw.Flush()
}
