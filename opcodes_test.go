package branchvm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/branchvm"
)

func TestMakeInstruction(t *testing.T) {
	testCases := []struct {
		op       Opcode
		operands []int
		want     []byte
	}{
		{OpNop, nil, []byte{OpNop}},
		{OpBipush, []int{-1}, []byte{OpBipush, 0xFF}},
		{OpSipush, []int{-300}, []byte{OpSipush, 0xFE, 0xD4}},
		{OpIload, []int{200}, []byte{OpIload, 200}},
		{OpGoto, []int{-3}, []byte{OpGoto, 0xFF, 0xFD}},
		{OpGotoW, []int{70000}, []byte{OpGotoW, 0, 1, 0x11, 0x70}},
	}
	for _, tC := range testCases {
		inst, err := MakeInstruction(tC.op, tC.operands...)
		require.NoError(t, err, OpcodeNames[tC.op])
		require.Equal(t, tC.want, inst)

		operands, n := ReadOperands(tC.op, inst[1:], nil)
		require.Equal(t, len(inst)-1, n)
		if len(tC.operands) > 0 {
			require.Equal(t, tC.operands, operands)
		} else {
			require.Empty(t, operands)
		}
	}

	_, err := MakeInstruction(OpBipush, 128)
	require.ErrorIs(t, err, ErrEncode)
	_, err = MakeInstruction(OpIload, -1)
	require.ErrorIs(t, err, ErrEncode)
	_, err = MakeInstruction(OpGoto)
	require.ErrorIs(t, err, ErrEncode)
	_, err = MakeInstruction(OpTableSwitch)
	require.ErrorIs(t, err, ErrEncode)
	_, err = MakeInstruction(0xFE)
	require.ErrorIs(t, err, ErrEncode)
}

func TestOpcodeClasses(t *testing.T) {
	require.True(t, IsSwitch(OpTableSwitch))
	require.True(t, IsSwitch(OpLookupSwitch))
	require.False(t, IsSwitch(OpGoto))
	require.True(t, IsBranch(OpGoto))
	require.True(t, IsBranch(OpGotoW))
	require.True(t, IsBranch(OpIfIcmple))
	require.False(t, IsBranch(OpTableSwitch))
	require.False(t, IsValidOpcode(0xFE))
	require.Equal(t, "TABLESWITCH", OpcodeNames[0xAA])
	require.Equal(t, "LOOKUPSWITCH", OpcodeNames[0xAB])
}
