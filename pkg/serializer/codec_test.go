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
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

func TestBlobRoundTrip(t *testing.T) {
	in := map[string][]int{"1": {0}, "42": {1, 2}}
	b, err := EncodeBlob(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("HAD1"), b[:4])

	var out map[string][]int
	require.NoError(t, DecodeBlob(b, &out))
	assert.Equal(t, in, out)
}

func TestDecodeBlobRejects(t *testing.T) {
	good, err := EncodeBlob([]string{"a", "b"})
	require.NoError(t, err)

	wrongLen := bytes.Clone(good)
	binary.BigEndian.PutUint64(wrongLen[4:12], 3)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"short header", good[:6]},
		{"length mismatch", wrongLen},
		{"truncated body", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []string
			err := DecodeBlob(tt.in, &out)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest), err.Error())
		})
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	require.NoError(t, w.WriteFrame("proc_data", []byte("abc")))
	require.NoError(t, w.WriteFrame("parents", nil))
	require.NoError(t, w.Flush())

	r := NewStreamReader(&buf)
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "proc_data", f.Name)
	assert.Equal(t, []byte("abc"), f.Blob)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "parents", f.Name)
	assert.Empty(t, f.Blob)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	require.NoError(t, w.WriteFrame("systemdata", []byte("0123456789")))
	require.NoError(t, w.Flush())

	b := buf.Bytes()
	for _, cut := range []int{1, 5, len(b) - 1} {
		r := NewStreamReader(bytes.NewReader(b[:cut]))
		_, err := r.Next()
		require.Error(t, err, "cut at %d", cut)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
	}
}

func TestWriteFrameRejectsEmptyName(t *testing.T) {
	w := NewStreamWriter(io.Discard)
	assert.Error(t, w.WriteFrame("", []byte("x")))
}
