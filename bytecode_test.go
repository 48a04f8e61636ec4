package branchvm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/ozanh/branchvm/tests"

	. "github.com/ozanh/branchvm"
)

func TestMethod_Fprint(t *testing.T) {
	m := tests.MustMethod(fixture, "dense")
	out := m.String()
	require.True(t, strings.HasPrefix(out, "Method:dense Locals:1 Size:40\n"), out)

	lines := FormatInstructions(m.Code)
	require.Equal(t, []string{
		"0000 ILOAD_0     ",
		"0001 TABLESWITCH  0..2",
		"               0: 27    -> 0028",
		"               1: 30    -> 0031",
		"               2: 33    -> 0034",
		"         default: 36    -> 0037",
	}, lines[:6])
	require.Equal(t, "0028 BIPUSH       10   ", lines[6])
	require.Len(t, lines, 14)
}

func TestFormatInstructions_branches(t *testing.T) {
	lines := FormatInstructions(tests.MustMethod(fixture, "loop").Code)
	var found bool
	for _, line := range lines {
		if strings.Contains(line, "IF_ICMPGT") {
			require.Contains(t, line, "->")
			found = true
		}
	}
	require.True(t, found)

	lines = FormatInstructions([]byte{OpNop, 0xFE})
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "!!!!"), lines[1])
}

func TestInstructionLen(t *testing.T) {
	m := tests.MustMethod(fixture, "sparse")
	n, err := InstructionLen(m.Code, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = InstructionLen(m.Code, 1)
	require.NoError(t, err)
	require.Equal(t, 1+2+8+3*8, n)

	_, err = InstructionLen(m.Code, len(m.Code))
	require.ErrorIs(t, err, ErrTruncated)
	_, err = InstructionLen([]byte{OpGotoW, 0, 0}, 0)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestProgram_Method(t *testing.T) {
	m, err := fixture.Method("loop")
	require.NoError(t, err)
	require.Equal(t, "loop", m.Name)
	require.Equal(t, 2, m.NumLocals)

	_, err = fixture.Method("missing")
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestMethod_Sum(t *testing.T) {
	m := tests.MustMethod(fixture, "sparse")
	require.Equal(t, blake2b.Sum256(m.Code), m.Sum())
	require.NotEqual(t, m.Sum(), tests.MustMethod(fixture, "dense").Sum())
}
