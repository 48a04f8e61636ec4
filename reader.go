// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"encoding/binary"
	"io"
)

// Reader is a cursor over an immutable instruction stream. Positions are
// offsets from the start of the method. All reads are bounds checked and
// return io.ErrUnexpectedEOF instead of panicking.
type Reader struct {
	code []byte
	pos  int
}

// NewReader creates a Reader positioned at pos.
func NewReader(code []byte, pos int) *Reader {
	return &Reader{code: code, pos: pos}
}

// Pos returns the current position.
func (r *Reader) Pos() int {
	return r.pos
}

// Size returns the length of the whole instruction stream.
func (r *Reader) Size() int {
	return len(r.code)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.code) || r.pos < 0 {
		return 0
	}
	return len(r.code) - r.pos
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.code[r.pos]
	r.pos++
	return b, nil
}

// ReadInt16 reads a big-endian two's complement 16 bit integer.
func (r *Reader) ReadInt16() (int16, error) {
	if r.Remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	v := int16(binary.BigEndian.Uint16(r.code[r.pos:]))
	r.pos += 2
	return v, nil
}

// ReadInt32 reads a big-endian two's complement 32 bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	if r.Remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := int32(binary.BigEndian.Uint32(r.code[r.pos:]))
	r.pos += 4
	return v, nil
}
