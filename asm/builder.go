// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package asm builds branchvm methods from labels and mnemonics.
package asm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ozanh/branchvm"
)

// Label is a position in the method which may be referenced before it is
// bound.
type Label int

const unbound = -1

type fixup struct {
	at    int // position of the offset field
	width int // 2 or 4
	base  int // position of the branch opcode
	label Label
}

// Builder appends instructions to a method body and patches label
// references when the method is built. The first error is kept and
// reported by Method.
type Builder struct {
	code   []byte
	labels []int
	fixups []fixup
	err    error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Pos returns the position of the next instruction.
func (b *Builder) Pos() int {
	return len(b.code)
}

// Err returns the first error.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// NewLabel creates an unbound label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, unbound)
	return Label(len(b.labels) - 1)
}

// Bind binds l to the current position.
func (b *Builder) Bind(l Label) {
	if !b.validLabel(l) {
		return
	}
	if b.labels[l] != unbound {
		b.setErr(branchvm.ErrEncode.NewError(
			fmt.Sprintf("label %d bound twice", l)))
		return
	}
	b.labels[l] = len(b.code)
}

func (b *Builder) validLabel(l Label) bool {
	if l < 0 || int(l) >= len(b.labels) {
		b.setErr(branchvm.ErrEncode.NewError(fmt.Sprintf("unknown label %d", l)))
		return false
	}
	return true
}

// Emit appends a fixed width instruction and returns its position.
func (b *Builder) Emit(op branchvm.Opcode, operands ...int) int {
	pos := len(b.code)
	inst, err := branchvm.MakeInstruction(op, operands...)
	if err != nil {
		b.setErr(err)
		return pos
	}
	b.code = append(b.code, inst...)
	return pos
}

// Jump appends a GOTO, GOTO_W or conditional branch to l.
func (b *Builder) Jump(op branchvm.Opcode, l Label) int {
	pos := len(b.code)
	if !branchvm.IsBranch(op) || !branchvm.IsValidOpcode(op) {
		b.setErr(branchvm.ErrEncode.NewError(
			fmt.Sprintf("opcode 0x%02X is not a branch", op)))
		return pos
	}
	if !b.validLabel(l) {
		return pos
	}
	width := branchvm.OpcodeOperands[op][0]
	b.Emit(op, 0)
	b.fixups = append(b.fixups, fixup{at: pos + 1, width: width, base: pos, label: l})
	return pos
}

// TableSwitch appends a tableswitch whose i'th case key is low+i.
func (b *Builder) TableSwitch(low int32, def Label, cases ...Label) int {
	pos := len(b.code)
	high := int64(low) + int64(len(cases)) - 1
	if high > math.MaxInt32 {
		b.setErr(branchvm.ErrEncode.NewError(
			fmt.Sprintf("tableswitch range %d..%d overflows", low, high)))
		return pos
	}
	if high < math.MinInt32 {
		b.setErr(branchvm.ErrEncode.NewError("empty tableswitch at minimum key"))
		return pos
	}
	d, err := branchvm.NewDenseSwitch(pos, 0, low, int32(high), make([]int32, len(cases)))
	if err != nil {
		b.setErr(err)
		return pos
	}
	if !b.appendSwitch(d) {
		return pos
	}
	field := pos + 1 + branchvm.Padding(pos)
	b.addSwitchFixup(field, pos, def)
	for i, l := range cases {
		b.addSwitchFixup(field+12+4*i, pos, l)
	}
	return pos
}

// LookupSwitch appends a lookupswitch. Keys are sorted.
func (b *Builder) LookupSwitch(def Label, cases map[int32]Label) int {
	pos := len(b.code)
	keys := make([]int32, 0, len(cases))
	for k := range cases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	pairs := make([]branchvm.SwitchCase, len(keys))
	for i, k := range keys {
		pairs[i].Key = k
	}
	d, err := branchvm.NewSparseSwitch(pos, 0, pairs)
	if err != nil {
		b.setErr(err)
		return pos
	}
	if !b.appendSwitch(d) {
		return pos
	}
	field := pos + 1 + branchvm.Padding(pos)
	b.addSwitchFixup(field, pos, def)
	for i, k := range keys {
		b.addSwitchFixup(field+8+8*i+4, pos, cases[k])
	}
	return pos
}

func (b *Builder) appendSwitch(d *branchvm.SwitchDescriptor) bool {
	code, err := d.AppendTo(b.code)
	if err != nil {
		b.setErr(err)
		return false
	}
	b.code = code
	return true
}

func (b *Builder) addSwitchFixup(at, base int, l Label) {
	if b.validLabel(l) {
		b.fixups = append(b.fixups, fixup{at: at, width: 4, base: base, label: l})
	}
}

// Method patches all label references and returns the method. The builder
// may continue to be used afterwards.
func (b *Builder) Method(name string, numLocals int) (*branchvm.Method, error) {
	if b.err != nil {
		return nil, b.err
	}
	code := make([]byte, len(b.code))
	copy(code, b.code)
	for _, f := range b.fixups {
		target := b.labels[f.label]
		if target == unbound {
			return nil, branchvm.ErrEncode.NewError(
				fmt.Sprintf("label %d referenced at %04d is not bound", f.label, f.base))
		}
		off := target - f.base
		switch f.width {
		case 2:
			if off < math.MinInt16 || off > math.MaxInt16 {
				return nil, branchvm.ErrEncode.NewError(fmt.Sprintf(
					"branch at %04d to %04d does not fit 16 bits", f.base, target))
			}
			binary.BigEndian.PutUint16(code[f.at:], uint16(int16(off)))
		case 4:
			binary.BigEndian.PutUint32(code[f.at:], uint32(int32(off)))
		}
	}
	return &branchvm.Method{Name: name, NumLocals: numLocals, Code: code}, nil
}
