// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
)

// SwitchKind tags the two SwitchDescriptor variants.
type SwitchKind uint8

// Switch kinds.
const (
	DenseSwitch  SwitchKind = iota + 1 // tableswitch
	SparseSwitch                       // lookupswitch
)

func (k SwitchKind) String() string {
	switch k {
	case DenseSwitch:
		return "dense"
	case SparseSwitch:
		return "sparse"
	}
	return "SwitchKind(" + strconv.Itoa(int(k)) + ")"
}

// Opcode returns the opcode which encodes the kind.
func (k SwitchKind) Opcode() Opcode {
	if k == SparseSwitch {
		return OpLookupSwitch
	}
	return OpTableSwitch
}

// SwitchCase is a single key and its jump offset relative to the switch
// opcode.
type SwitchCase struct {
	Key    int32
	Offset int32
}

// SwitchDescriptor is the decoded form of a tableswitch or lookupswitch
// instruction. It is never modified after construction and can be shared by
// goroutines.
type SwitchDescriptor struct {
	kind SwitchKind
	ip   int
	def  int32
	// dense only
	low  int32
	high int32
	// sparse only, ascending
	keys []int32
	// dense: indexed by selector-low, sparse: parallel to keys
	offsets []int32
}

// NewDenseSwitch creates a tableswitch descriptor for the instruction at ip.
// len(offsets) must be high-low+1. An empty range (high == low-1) is allowed
// and always dispatches to the default.
func NewDenseSwitch(ip int, def, low, high int32, offsets []int32) (*SwitchDescriptor, error) {
	count := int64(high) - int64(low) + 1
	if count < 0 {
		return nil, switchErrorf(OpTableSwitch, ip,
			"invalid range low=%d high=%d", low, high)
	}
	if int64(len(offsets)) != count {
		return nil, switchErrorf(OpTableSwitch, ip,
			"expected %d offsets, got %d", count, len(offsets))
	}
	return &SwitchDescriptor{
		kind:    DenseSwitch,
		ip:      ip,
		def:     def,
		low:     low,
		high:    high,
		offsets: slices.Clone(offsets),
	}, nil
}

// NewSparseSwitch creates a lookupswitch descriptor for the instruction at
// ip. Case keys must be strictly ascending.
func NewSparseSwitch(ip int, def int32, cases []SwitchCase) (*SwitchDescriptor, error) {
	d := &SwitchDescriptor{
		kind:    SparseSwitch,
		ip:      ip,
		def:     def,
		keys:    make([]int32, len(cases)),
		offsets: make([]int32, len(cases)),
	}
	for i, c := range cases {
		if i > 0 && c.Key <= cases[i-1].Key {
			return nil, switchErrorf(OpLookupSwitch, ip,
				"key %d at pair %d is not greater than previous key %d",
				c.Key, i, cases[i-1].Key)
		}
		d.keys[i] = c.Key
		d.offsets[i] = c.Offset
	}
	return d, nil
}

// Kind returns the variant of the descriptor.
func (d *SwitchDescriptor) Kind() SwitchKind { return d.kind }

// IP returns the position of the switch opcode, the base of all offsets.
func (d *SwitchDescriptor) IP() int { return d.ip }

// Default returns the default jump offset.
func (d *SwitchDescriptor) Default() int32 { return d.def }

// Low returns the lower bound of a dense switch.
func (d *SwitchDescriptor) Low() int32 { return d.low }

// High returns the upper bound of a dense switch.
func (d *SwitchDescriptor) High() int32 { return d.high }

// NumCases returns the number of jump table entries or key/offset pairs.
func (d *SwitchDescriptor) NumCases() int { return len(d.offsets) }

// Case returns the i'th case. Keys of dense cases are low+i.
func (d *SwitchDescriptor) Case(i int) SwitchCase {
	if d.kind == DenseSwitch {
		return SwitchCase{Key: d.low + int32(i), Offset: d.offsets[i]}
	}
	return SwitchCase{Key: d.keys[i], Offset: d.offsets[i]}
}

// Cases returns a copy of all cases ordered by key.
func (d *SwitchDescriptor) Cases() []SwitchCase {
	out := make([]SwitchCase, len(d.offsets))
	for i := range out {
		out[i] = d.Case(i)
	}
	return out
}

// Padding returns the number of bytes between the switch opcode at ip and
// its 4-byte aligned operand block.
func Padding(ip int) int {
	return (4 - (ip+1)%4) % 4
}

// Size returns the length in bytes of the encoded instruction, including the
// opcode and padding.
func (d *SwitchDescriptor) Size() int {
	n := 1 + Padding(d.ip) + 4
	if d.kind == DenseSwitch {
		return n + 8 + 4*len(d.offsets)
	}
	return n + 4 + 8*len(d.keys)
}

// Targets calls fn with the absolute target of the default and every case,
// default first.
func (d *SwitchDescriptor) Targets(fn func(target int)) {
	fn(d.ip + int(d.def))
	for _, off := range d.offsets {
		fn(d.ip + int(off))
	}
}

// Equal reports whether both descriptors decode the same instruction.
func (d *SwitchDescriptor) Equal(o *SwitchDescriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.kind == o.kind && d.ip == o.ip && d.def == o.def &&
		d.low == o.low && d.high == o.high &&
		slices.Equal(d.keys, o.keys) && slices.Equal(d.offsets, o.offsets)
}

// Resolve returns the address the switch branches to for selector. Selectors
// matching no case take the default; Resolve never fails and does not check
// the address against the method bounds.
func (d *SwitchDescriptor) Resolve(selector int32) int {
	switch d.kind {
	case DenseSwitch:
		if selector >= d.low && selector <= d.high {
			return d.ip + int(d.offsets[int64(selector)-int64(d.low)])
		}
	case SparseSwitch:
		if i, ok := slices.BinarySearch(d.keys, selector); ok {
			return d.ip + int(d.offsets[i])
		}
	}
	return d.ip + int(d.def)
}

// AppendTo appends the encoded instruction to dst. The instruction is
// written at len(dst) which must equal IP() since padding depends on the
// absolute position. Padding bytes are zero.
func (d *SwitchDescriptor) AppendTo(dst []byte) ([]byte, error) {
	if len(dst) != d.ip {
		return dst, ErrEncode.NewError(fmt.Sprintf(
			"%s for ip %d appended at %d",
			OpcodeNames[d.kind.Opcode()], d.ip, len(dst)))
	}
	dst = append(dst, d.kind.Opcode())
	for i := Padding(d.ip); i > 0; i-- {
		dst = append(dst, 0)
	}
	dst = appendInt32(dst, d.def)
	switch d.kind {
	case DenseSwitch:
		dst = appendInt32(dst, d.low)
		dst = appendInt32(dst, d.high)
		for _, off := range d.offsets {
			dst = appendInt32(dst, off)
		}
	case SparseSwitch:
		dst = appendInt32(dst, int32(len(d.keys)))
		for i, key := range d.keys {
			dst = appendInt32(dst, key)
			dst = appendInt32(dst, d.offsets[i])
		}
	}
	return dst, nil
}

func appendInt32(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v))
}
