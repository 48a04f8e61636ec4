// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/ozanh/branchvm"
)

// Program signature and version are written to the header of encoded Program.
// Program is encoded with current ProgramVersion and its format.
const (
	ProgramSignature uint32 = 0x42564D
	ProgramVersion   uint16 = 1
)

// Types implementing encoding.BinaryMarshaler encoding.BinaryUnmarshaler.
type (
	Program branchvm.Program
	Method  branchvm.Method
)

var (
	errVarintTooSmall = errors.New("read varint error: buf too small")
	errVarintOverflow = errors.New("read varint error: value larger than 64 bits (overflow)")
)

// IsEncoded reports whether data starts with the program signature.
func IsEncoded(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data) == ProgramSignature
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *Program) MarshalBinary() (data []byte, err error) {
	switch ProgramVersion {
	case 1:
		var buf bytes.Buffer
		if err = p.programV1Encoder(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		panic("invalid Program version:" + strconv.Itoa(int(ProgramVersion)))
	}
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *Program) UnmarshalBinary(data []byte) error {
	if len(data) < 6 {
		return &branchvm.Error{
			Name:    "encoder.Program.UnmarshalBinary",
			Message: "invalid data",
		}
	}

	if !IsEncoded(data) {
		return &branchvm.Error{
			Name:    "encoder.Program.UnmarshalBinary",
			Message: "signature mismatch",
		}
	}

	version := binary.BigEndian.Uint16(data[4:6])
	switch version {
	case ProgramVersion:
		return p.programV1Decoder(bytes.NewBuffer(data[6:]))
	default:
		return &branchvm.Error{
			Name:    "encoder.Program.UnmarshalBinary",
			Message: "unsupported version:" + strconv.Itoa(int(version)),
		}
	}
}

func putProgramHeader(w *bytes.Buffer) {
	var hdr [6]byte
	binary.BigEndian.PutUint32(hdr[:], ProgramSignature)
	binary.BigEndian.PutUint16(hdr[4:], ProgramVersion)
	_, _ = w.Write(hdr[:])
}

func (p *Program) programV1Encoder(w *bytes.Buffer) error {
	putProgramHeader(w)
	writeUvarint(w, uint64(len(p.Methods)))
	for i, m := range p.Methods {
		if m == nil {
			return fmt.Errorf("method #%d is nil", i)
		}
		data, err := (*Method)(m).MarshalBinary()
		if err != nil {
			return fmt.Errorf("method #%d: %w", i, err)
		}
		_, _ = w.Write(data)
	}
	return nil
}

func (p *Program) programV1Decoder(r *bytes.Buffer) error {
	n, err := readUvarint(r)
	if err != nil {
		return err
	}
	// each method takes at least 3 length bytes and a checksum
	if n > uint64(r.Len()/(3+blake2b.Size256)) {
		return fmt.Errorf("method count %d exceeds data size", n)
	}
	methods := make([]*branchvm.Method, 0, n)
	for i := uint64(0); i < n; i++ {
		var m Method
		if err = m.decode(r); err != nil {
			return fmt.Errorf("method #%d: %w", i, err)
		}
		methods = append(methods, (*branchvm.Method)(&m))
	}
	if r.Len() > 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}
	p.Methods = methods
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler. The code is followed by
// its blake2b-256 checksum.
func (m *Method) MarshalBinary() ([]byte, error) {
	if m.NumLocals < 0 {
		return nil, fmt.Errorf("negative locals %d", m.NumLocals)
	}
	var buf bytes.Buffer
	writeBytes(&buf, []byte(m.Name))
	writeUvarint(&buf, uint64(m.NumLocals))
	writeBytes(&buf, m.Code)
	sum := (*branchvm.Method)(m).Sum()
	_, _ = buf.Write(sum[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (m *Method) UnmarshalBinary(data []byte) error {
	r := bytes.NewBuffer(data)
	if err := m.decode(r); err != nil {
		return err
	}
	if r.Len() > 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}
	return nil
}

func (m *Method) decode(r *bytes.Buffer) error {
	name, err := readBytes(r)
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	locals, err := readUvarint(r)
	if err != nil {
		return fmt.Errorf("locals: %w", err)
	}
	if locals > 1<<16 {
		return fmt.Errorf("locals %d out of range", locals)
	}
	code, err := readBytes(r)
	if err != nil {
		return fmt.Errorf("code: %w", err)
	}
	var sum [blake2b.Size256]byte
	if _, err = io.ReadFull(r, sum[:]); err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	if blake2b.Sum256(code) != sum {
		return fmt.Errorf("method %q checksum mismatch", name)
	}
	*m = Method{Name: string(name), NumLocals: int(locals), Code: code}
	return nil
}

func writeUvarint(w *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	_, _ = w.Write(tmp[:n])
}

func writeBytes(w *bytes.Buffer, b []byte) {
	writeUvarint(w, uint64(len(b)))
	_, _ = w.Write(b)
}

func readUvarint(r *bytes.Buffer) (uint64, error) {
	v, n := binary.Uvarint(r.Bytes())
	if n == 0 {
		return 0, errVarintTooSmall
	}
	if n < 0 {
		return 0, errVarintOverflow
	}
	r.Next(n)
	return v, nil
}

func readBytes(r *bytes.Buffer) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	copy(b, r.Next(int(n)))
	return b, nil
}
