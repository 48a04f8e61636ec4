// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"fmt"
)

// Verify checks that every instruction of m decodes and that every branch
// target, including each switch case and default, is the start of an
// instruction inside m.
func Verify(m *Method) error {
	if len(m.Code) == 0 {
		return ErrTruncated.NewError("empty method", m.Name)
	}

	starts := make([]bool, len(m.Code))
	type branch struct {
		ip, target int
	}
	var branches []branch

	err := IterateInstructions(m.Code,
		func(ip int, op Opcode, operands []int, sw *SwitchDescriptor) bool {
			starts[ip] = true
			switch {
			case sw != nil:
				sw.Targets(func(target int) {
					branches = append(branches, branch{ip: ip, target: target})
				})
			case IsBranch(op):
				branches = append(branches, branch{ip: ip, target: ip + operands[0]})
			}
			return true
		})
	if err != nil {
		return &RuntimeError{Method: m.Name, IP: failedIP(m.Code, starts), Err: err}
	}

	for _, b := range branches {
		if b.target < 0 || b.target >= len(m.Code) || !starts[b.target] {
			return &RuntimeError{
				Method: m.Name,
				IP:     b.ip,
				Err: ErrInvalidJump.NewError(fmt.Sprintf(
					"%s target %d is not an instruction boundary",
					OpcodeNames[m.Code[b.ip]], b.target)),
			}
		}
	}
	return nil
}

// failedIP returns the position after the last decoded instruction.
func failedIP(code []byte, starts []bool) int {
	for ip := len(starts) - 1; ip >= 0; ip-- {
		if starts[ip] {
			n, _ := InstructionLen(code, ip)
			return ip + n
		}
	}
	return 0
}
