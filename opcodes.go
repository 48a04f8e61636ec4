// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"fmt"
)

// Opcode represents a single byte operation code.
type Opcode = byte

// List of opcodes. Values are compatible with the JVM instruction set.
const (
	OpNop          Opcode = 0x00
	OpIconstM1     Opcode = 0x02
	OpIconst0      Opcode = 0x03
	OpIconst1      Opcode = 0x04
	OpIconst2      Opcode = 0x05
	OpIconst3      Opcode = 0x06
	OpIconst4      Opcode = 0x07
	OpIconst5      Opcode = 0x08
	OpBipush       Opcode = 0x10
	OpSipush       Opcode = 0x11
	OpIload        Opcode = 0x15
	OpIload0       Opcode = 0x1A
	OpIload1       Opcode = 0x1B
	OpIload2       Opcode = 0x1C
	OpIload3       Opcode = 0x1D
	OpIstore       Opcode = 0x36
	OpIstore0      Opcode = 0x3B
	OpIstore1      Opcode = 0x3C
	OpIstore2      Opcode = 0x3D
	OpIstore3      Opcode = 0x3E
	OpPop          Opcode = 0x57
	OpDup          Opcode = 0x59
	OpIadd         Opcode = 0x60
	OpIsub         Opcode = 0x64
	OpImul         Opcode = 0x68
	OpIneg         Opcode = 0x74
	OpIfeq         Opcode = 0x99
	OpIfne         Opcode = 0x9A
	OpIflt         Opcode = 0x9B
	OpIfge         Opcode = 0x9C
	OpIfgt         Opcode = 0x9D
	OpIfle         Opcode = 0x9E
	OpIfIcmpeq     Opcode = 0x9F
	OpIfIcmpne     Opcode = 0xA0
	OpIfIcmplt     Opcode = 0xA1
	OpIfIcmpge     Opcode = 0xA2
	OpIfIcmpgt     Opcode = 0xA3
	OpIfIcmple     Opcode = 0xA4
	OpGoto         Opcode = 0xA7
	OpTableSwitch  Opcode = 0xAA
	OpLookupSwitch Opcode = 0xAB
	OpIreturn      Opcode = 0xAC
	OpReturn       Opcode = 0xB1
	OpGotoW        Opcode = 0xC8
)

// OpcodeNames are string representation of opcodes. Unknown opcodes have
// empty names.
var OpcodeNames = [256]string{
	OpNop:          "NOP",
	OpIconstM1:     "ICONST_M1",
	OpIconst0:      "ICONST_0",
	OpIconst1:      "ICONST_1",
	OpIconst2:      "ICONST_2",
	OpIconst3:      "ICONST_3",
	OpIconst4:      "ICONST_4",
	OpIconst5:      "ICONST_5",
	OpBipush:       "BIPUSH",
	OpSipush:       "SIPUSH",
	OpIload:        "ILOAD",
	OpIload0:       "ILOAD_0",
	OpIload1:       "ILOAD_1",
	OpIload2:       "ILOAD_2",
	OpIload3:       "ILOAD_3",
	OpIstore:       "ISTORE",
	OpIstore0:      "ISTORE_0",
	OpIstore1:      "ISTORE_1",
	OpIstore2:      "ISTORE_2",
	OpIstore3:      "ISTORE_3",
	OpPop:          "POP",
	OpDup:          "DUP",
	OpIadd:         "IADD",
	OpIsub:         "ISUB",
	OpImul:         "IMUL",
	OpIneg:         "INEG",
	OpIfeq:         "IFEQ",
	OpIfne:         "IFNE",
	OpIflt:         "IFLT",
	OpIfge:         "IFGE",
	OpIfgt:         "IFGT",
	OpIfle:         "IFLE",
	OpIfIcmpeq:     "IF_ICMPEQ",
	OpIfIcmpne:     "IF_ICMPNE",
	OpIfIcmplt:     "IF_ICMPLT",
	OpIfIcmpge:     "IF_ICMPGE",
	OpIfIcmpgt:     "IF_ICMPGT",
	OpIfIcmple:     "IF_ICMPLE",
	OpGoto:         "GOTO",
	OpTableSwitch:  "TABLESWITCH",
	OpLookupSwitch: "LOOKUPSWITCH",
	OpIreturn:      "IRETURN",
	OpReturn:       "RETURN",
	OpGotoW:        "GOTO_W",
}

// OpcodeOperands is the byte width of each operand. Switch opcodes have a
// variable length and are sized with InstructionLen.
var OpcodeOperands = [256][]int{
	OpNop:          {},
	OpIconstM1:     {},
	OpIconst0:      {},
	OpIconst1:      {},
	OpIconst2:      {},
	OpIconst3:      {},
	OpIconst4:      {},
	OpIconst5:      {},
	OpBipush:       {1}, // value
	OpSipush:       {2}, // value
	OpIload:        {1}, // local variable index
	OpIload0:       {},
	OpIload1:       {},
	OpIload2:       {},
	OpIload3:       {},
	OpIstore:       {1}, // local variable index
	OpIstore0:      {},
	OpIstore1:      {},
	OpIstore2:      {},
	OpIstore3:      {},
	OpPop:          {},
	OpDup:          {},
	OpIadd:         {},
	OpIsub:         {},
	OpImul:         {},
	OpIneg:         {},
	OpIfeq:         {2}, // relative offset
	OpIfne:         {2}, // relative offset
	OpIflt:         {2}, // relative offset
	OpIfge:         {2}, // relative offset
	OpIfgt:         {2}, // relative offset
	OpIfle:         {2}, // relative offset
	OpIfIcmpeq:     {2}, // relative offset
	OpIfIcmpne:     {2}, // relative offset
	OpIfIcmplt:     {2}, // relative offset
	OpIfIcmpge:     {2}, // relative offset
	OpIfIcmpgt:     {2}, // relative offset
	OpIfIcmple:     {2}, // relative offset
	OpGoto:         {2}, // relative offset
	OpTableSwitch:  nil,
	OpLookupSwitch: nil,
	OpIreturn:      {},
	OpReturn:       {},
	OpGotoW:        {4}, // relative offset
}

// IsValidOpcode reports whether op is part of the instruction set.
func IsValidOpcode(op Opcode) bool {
	return OpcodeNames[op] != ""
}

// IsSwitch reports whether op is one of the multi-way branch opcodes.
func IsSwitch(op Opcode) bool {
	return op == OpTableSwitch || op == OpLookupSwitch
}

// IsBranch reports whether op is a fixed width branch with a relative offset
// operand.
func IsBranch(op Opcode) bool {
	return (op >= OpIfeq && op <= OpGoto) || op == OpGotoW
}

// ReadOperands reads operands from the bytecode. Given operands slice is used to
// fill operands and is returned to allocate less. Operands are big-endian and
// sign extended, except local variable indexes which are unsigned.
func ReadOperands(op Opcode, ins []byte, operands []int) ([]int, int) {
	operands = operands[:0]
	var offset int
	for _, width := range OpcodeOperands[op] {
		switch width {
		case 1:
			if op == OpIload || op == OpIstore {
				operands = append(operands, int(ins[offset]))
			} else {
				operands = append(operands, int(int8(ins[offset])))
			}
		case 2:
			operands = append(operands,
				int(int16(uint16(ins[offset])<<8|uint16(ins[offset+1]))))
		case 4:
			operands = append(operands, int(int32(
				uint32(ins[offset])<<24|uint32(ins[offset+1])<<16|
					uint32(ins[offset+2])<<8|uint32(ins[offset+3]))))
		}
		offset += width
	}
	return operands, offset
}

// MakeInstruction returns the bytes of a fixed width instruction. Switch
// instructions are built with SwitchDescriptor.AppendTo.
func MakeInstruction(op Opcode, args ...int) ([]byte, error) {
	if !IsValidOpcode(op) || IsSwitch(op) {
		return nil, ErrEncode.NewError(fmt.Sprintf(
			"MakeInstruction: invalid opcode 0x%02X", op))
	}
	widths := OpcodeOperands[op]
	if len(widths) != len(args) {
		return nil, ErrEncode.NewError(fmt.Sprintf(
			"MakeInstruction: %s expected %d operands, but got %d",
			OpcodeNames[op], len(widths), len(args)))
	}
	inst := make([]byte, 1, 5)
	inst[0] = op
	for i, width := range widths {
		v := args[i]
		lo, hi := -1<<(8*width-1), 1<<(8*width-1)-1
		if op == OpIload || op == OpIstore {
			lo, hi = 0, 255
		}
		if v < lo || v > hi {
			return nil, ErrEncode.NewError(fmt.Sprintf(
				"MakeInstruction: %s operand %d out of range [%d, %d]",
				OpcodeNames[op], v, lo, hi))
		}
		for shift := 8 * (width - 1); shift >= 0; shift -= 8 {
			inst = append(inst, byte(v>>shift))
		}
	}
	return inst, nil
}
