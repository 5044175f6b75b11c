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
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

// BlobMagic prefixes every encoded blob.
var BlobMagic = [4]byte{'H', 'A', 'D', '1'}

const blobHeaderLen = len(BlobMagic) + 8

// EncodeBlob encodes v as magic, the big-endian length of its JSON form,
// and the gzip-compressed JSON.
func EncodeBlob(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blob: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(blobHeaderLen + len(raw)/4)
	buf.Write(BlobMagic[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(raw)))
	buf.Write(n[:])

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress blob: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress blob: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBlob reverses EncodeBlob into v. The decompressed size must match
// the recorded length.
func DecodeBlob(b []byte, v any) error {
	if len(b) < blobHeaderLen || !bytes.Equal(b[:len(BlobMagic)], BlobMagic[:]) {
		return errors.New(errors.ErrCodeInvalidRequest, "not a hostaudit blob")
	}
	want := binary.BigEndian.Uint64(b[len(BlobMagic):blobHeaderLen])

	zr, err := gzip.NewReader(bytes.NewReader(b[blobHeaderLen:]))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRequest, "corrupt blob", err)
	}
	defer zr.Close()

	var raw bytes.Buffer
	// one extra byte detects trailing data beyond the recorded length
	n, err := io.Copy(&raw, io.LimitReader(zr, int64(min(want, math.MaxInt64-1))+1))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRequest, "corrupt blob", err)
	}
	if uint64(n) != want {
		return errors.Newf(errors.ErrCodeInvalidRequest,
			"blob length mismatch: header says %d bytes, got %d", want, n)
	}
	if err := json.Unmarshal(raw.Bytes(), v); err != nil {
		return fmt.Errorf("failed to decode blob: %w", err)
	}
	return nil
}

// Frame is one named blob of a stream.
type Frame struct {
	Name string
	Blob []byte
}

// StreamWriter writes frames: a uint16 name length, the name, a uint64 blob
// length and the blob, all big-endian.
type StreamWriter struct {
	w *bufio.Writer
}

// NewStreamWriter returns a StreamWriter over w. Flush must be called after
// the last frame.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: bufio.NewWriter(w)}
}

// WriteFrame writes one frame.
func (s *StreamWriter) WriteFrame(name string, blob []byte) error {
	if len(name) == 0 || len(name) > math.MaxUint16 {
		return errors.Newf(errors.ErrCodeInvalidRequest, "invalid frame name length %d", len(name))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(name)))
	if _, err := s.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if _, err := s.w.WriteString(name); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(blob)))
	if _, err := s.w.Write(n[:]); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if _, err := s.w.Write(blob); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Flush writes buffered frames to the underlying writer.
func (s *StreamWriter) Flush() error {
	return s.w.Flush()
}

// StreamReader reads frames written by StreamWriter.
type StreamReader struct {
	r *bufio.Reader
}

// NewStreamReader returns a StreamReader over r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReader(r)}
}

// Next returns the next frame, or io.EOF at a clean end of stream. A stream
// cut inside a frame yields io.ErrUnexpectedEOF.
func (s *StreamReader) Next() (*Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	name := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(s.r, name); err != nil {
		return nil, fmt.Errorf("failed to read frame name: %w", eofUnexpected(err))
	}
	var n [8]byte
	if _, err := io.ReadFull(s.r, n[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame %s length: %w", name, eofUnexpected(err))
	}
	size := binary.BigEndian.Uint64(n[:])
	if size > math.MaxInt64 {
		return nil, errors.Newf(errors.ErrCodeInvalidRequest, "frame %s length %d out of range", name, size)
	}

	// grow as data arrives rather than trusting the length up front
	var blob bytes.Buffer
	got, err := io.CopyN(&blob, s.r, int64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %s: got %d of %d bytes: %w", name, got, size, eofUnexpected(err))
	}
	return &Frame{Name: string(name), Blob: blob.Bytes()}, nil
}

func eofUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
