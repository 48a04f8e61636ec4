// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"fmt"
	"strings"
)

var (
	// ErrMalformedSwitch represents a switch instruction that cannot be
	// decoded. Errors returned by the decoder unwrap to this value.
	ErrMalformedSwitch = &Error{
		Name:    "MalformedSwitchInstruction",
		Message: "malformed switch instruction",
	}

	// ErrInvalidJump represents a branch target outside of the method or not
	// on an instruction boundary.
	ErrInvalidJump = &Error{Name: "InvalidJumpError"}

	// ErrInvalidOpcode represents an opcode which is not part of the
	// instruction set.
	ErrInvalidOpcode = &Error{Name: "InvalidOpcodeError"}

	// ErrTruncated represents an instruction whose operands run past the end
	// of the method.
	ErrTruncated = &Error{Name: "TruncatedInstructionError"}

	// ErrStackOverflow represents a stack overflow error.
	ErrStackOverflow = &Error{Name: "StackOverflowError"}

	// ErrStackUnderflow represents a pop from an empty operand stack.
	ErrStackUnderflow = &Error{Name: "StackUnderflowError"}

	// ErrInvalidLocal represents an access to a local variable index which is
	// out of range.
	ErrInvalidLocal = &Error{Name: "InvalidLocalError"}

	// ErrVMAborted represents a VM aborted error.
	ErrVMAborted = &Error{Name: "VMAbortedError"}

	// ErrStepLimit is returned when the VM executes more instructions than
	// Options.MaxSteps allows.
	ErrStepLimit = &Error{Name: "StepLimitError"}

	// ErrEncode represents an error while building an instruction.
	ErrEncode = &Error{Name: "EncodeError"}

	// ErrMethodNotFound is returned when a program has no method with the
	// requested name.
	ErrMethodNotFound = &Error{Name: "MethodNotFoundError"}
)

// Error represents an error with a name and a message. Derived errors keep
// their parent as Cause so errors.Is matches the sentinel values above.
type Error struct {
	Name    string
	Message string
	Cause   error
}

func (o *Error) Unwrap() error {
	return o.Cause
}

// Error implements error interface.
func (o *Error) Error() string {
	name := o.Name
	if name == "" {
		name = "error"
	}
	return fmt.Sprintf("%s: %s", name, o.Message)
}

// NewError creates a new Error and sets original Error as its cause which can be unwrapped.
func (o *Error) NewError(messages ...string) *Error {
	return &Error{
		Name:    o.Name,
		Message: strings.Join(messages, " "),
		Cause:   o,
	}
}

// SwitchError is returned by the decoder for a malformed tableswitch or
// lookupswitch instruction.
type SwitchError struct {
	Op    Opcode
	IP    int
	Cause string
}

func (e *SwitchError) Error() string {
	name := "SWITCH"
	if IsSwitch(e.Op) {
		name = OpcodeNames[e.Op]
	}
	return fmt.Sprintf("%s: %s at %04d: %s",
		ErrMalformedSwitch.Name, name, e.IP, e.Cause)
}

func (e *SwitchError) Unwrap() error {
	return ErrMalformedSwitch
}

func switchErrorf(op Opcode, ip int, format string, args ...interface{}) error {
	return &SwitchError{Op: op, IP: ip, Cause: fmt.Sprintf(format, args...)}
}

// RuntimeError aborts a method invocation. It identifies the method and the
// instruction pointer of the failing instruction.
type RuntimeError struct {
	Method string
	IP     int
	Err    error
}

func (o *RuntimeError) Unwrap() error {
	return o.Err
}

// Error implements error interface.
func (o *RuntimeError) Error() string {
	return fmt.Sprintf("%s at %04d: %v", o.Method, o.IP, o.Err)
}
