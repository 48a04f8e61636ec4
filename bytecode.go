// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Program is a set of methods.
type Program struct {
	Methods []*Method
}

// Method returns the method with given name.
func (p *Program) Method(name string) (*Method, error) {
	for _, m := range p.Methods {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, ErrMethodNotFound.NewError(strconv.Quote(name))
}

// Fprint writes all methods to given Writer in a human readable form.
func (p *Program) Fprint(w io.Writer) {
	for i, m := range p.Methods {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		m.Fprint(w)
	}
}

// Method holds the instructions of a single method. Code must not be
// modified once the method is executed.
type Method struct {
	Name string
	// number of int32 local variables, arguments are stored first
	NumLocals int
	Code      []byte

	sumOnce sync.Once
	sum     [blake2b.Size256]byte
}

// Sum returns the blake2b-256 digest of Code. It is computed once.
func (m *Method) Sum() [blake2b.Size256]byte {
	m.sumOnce.Do(func() {
		m.sum = blake2b.Sum256(m.Code)
	})
	return m.sum
}

// Fprint writes instructions to given Writer in a human readable form.
func (m *Method) Fprint(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Method:%s Locals:%d Size:%d\n",
		m.Name, m.NumLocals, len(m.Code))
	_, _ = fmt.Fprintf(w, "Instructions:\n")
	for _, line := range FormatInstructions(m.Code) {
		_, _ = fmt.Fprintln(w, line)
	}
}

func (m *Method) String() string {
	var buf bytes.Buffer
	m.Fprint(&buf)
	return buf.String()
}

// InstructionLen returns the length in bytes of the instruction at ip.
func InstructionLen(code []byte, ip int) (int, error) {
	if ip < 0 || ip >= len(code) {
		return 0, ErrTruncated.NewError("instruction pointer", strconv.Itoa(ip),
			"outside method of", strconv.Itoa(len(code)), "bytes")
	}
	op := code[ip]
	if IsSwitch(op) {
		d, err := DecodeSwitch(code, ip)
		if err != nil {
			return 0, err
		}
		return d.Size(), nil
	}
	if !IsValidOpcode(op) {
		return 0, ErrInvalidOpcode.NewError(fmt.Sprintf("0x%02X at %04d", op, ip))
	}
	n := 1
	for _, width := range OpcodeOperands[op] {
		n += width
	}
	if ip+n > len(code) {
		return 0, ErrTruncated.NewError(OpcodeNames[op], "at", strconv.Itoa(ip))
	}
	return n, nil
}

// IterateInstructions iterate instructions and call given function for each
// instruction. code must be a whole method since switch padding depends on
// the position. Iteration stops at the first undecodable instruction and its
// error is returned.
// Note: Do not use operands slice in callback, it is reused for less allocation.
func IterateInstructions(code []byte,
	fn func(ip int, op Opcode, operands []int, sw *SwitchDescriptor) bool) error {

	operands := make([]int, 0, 2)
	for ip := 0; ip < len(code); {
		var (
			op  = code[ip]
			sw  *SwitchDescriptor
			n   int
			err error
		)
		if IsSwitch(op) {
			if sw, err = DecodeSwitch(code, ip); err != nil {
				return err
			}
			n = sw.Size()
			operands = operands[:0]
		} else {
			if n, err = InstructionLen(code, ip); err != nil {
				return err
			}
			operands, _ = ReadOperands(op, code[ip+1:], operands)
		}
		if !fn(ip, op, operands, sw) {
			return nil
		}
		ip += n
	}
	return nil
}

// FormatInstructions returns string representation of the instructions of a
// whole method. Branch offsets are followed by their absolute targets.
func FormatInstructions(code []byte) []string {
	var out []string
	err := IterateInstructions(code,
		func(ip int, op Opcode, operands []int, sw *SwitchDescriptor) bool {
			switch {
			case sw != nil:
				out = append(out, formatSwitch(sw)...)
			case IsBranch(op):
				out = append(out, fmt.Sprintf("%04d %-12s %-5d -> %04d",
					ip, OpcodeNames[op], operands[0], ip+operands[0]))
			case len(operands) == 1:
				out = append(out, fmt.Sprintf("%04d %-12s %-5d",
					ip, OpcodeNames[op], operands[0]))
			default:
				out = append(out, fmt.Sprintf("%04d %-12s", ip, OpcodeNames[op]))
			}
			return true
		})
	if err != nil {
		out = append(out, fmt.Sprintf("!!!! %v", err))
	}
	return out
}

func formatSwitch(d *SwitchDescriptor) []string {
	out := make([]string, 0, d.NumCases()+2)
	if d.Kind() == DenseSwitch {
		out = append(out, fmt.Sprintf("%04d %-12s %d..%d",
			d.IP(), OpcodeNames[OpTableSwitch], d.Low(), d.High()))
	} else {
		out = append(out, fmt.Sprintf("%04d %-12s %d",
			d.IP(), OpcodeNames[OpLookupSwitch], d.NumCases()))
	}
	for i := 0; i < d.NumCases(); i++ {
		c := d.Case(i)
		out = append(out, fmt.Sprintf("     %11d: %-5d -> %04d",
			c.Key, c.Offset, d.IP()+int(c.Offset)))
	}
	out = append(out, fmt.Sprintf("     %11s: %-5d -> %04d",
		"default", d.Default(), d.IP()+int(d.Default())))
	return out
}
