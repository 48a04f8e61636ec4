// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultStackSize = 256

// Options configures a VM.
type Options struct {
	// Logger overrides the package logger if not nil.
	Logger *zap.Logger
	// Cache is used to look up switch descriptors. A new cache is created if
	// nil and NoCache is false. A cache can be shared by VMs.
	Cache *DescriptorCache
	// NoCache decodes switch instructions on every visit.
	NoCache bool
	// Verify runs Verify on the method before execution.
	Verify bool
	// MaxSteps limits the number of executed instructions, 0 is unlimited.
	MaxSteps int
	// StackSize is the operand stack capacity, defaults to 256.
	StackSize int
}

// VM executes the instructions of a single method.
type VM struct {
	abort  int64
	opts   Options
	log    *zap.Logger
	cache  *DescriptorCache
	method *Method
	ip     int
	sp     int
	stack  []int32
	locals []int32
	steps  int
	mu     sync.Mutex
}

// NewVM creates a VM object.
func NewVM(opts Options) *VM {
	if opts.StackSize <= 0 {
		opts.StackSize = defaultStackSize
	}
	vm := &VM{
		opts:  opts,
		log:   opts.Logger,
		stack: make([]int32, opts.StackSize),
	}
	if vm.log == nil {
		vm.log = Logger()
	}
	if !opts.NoCache {
		vm.cache = opts.Cache
		if vm.cache == nil {
			vm.cache = NewDescriptorCache()
		}
	}
	return vm
}

// Cache returns the descriptor cache of the VM, nil if caching is disabled.
func (vm *VM) Cache() *DescriptorCache {
	return vm.cache
}

// Abort aborts the VM execution.
func (vm *VM) Abort() {
	atomic.StoreInt64(&vm.abort, 1)
}

// Run executes m with args stored in the first local variables until an
// IRETURN or RETURN instruction. RETURN yields 0. Any failure is returned as
// a *RuntimeError.
func (vm *VM) Run(m *Method, args ...int32) (ret int32, err error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if m == nil || len(m.Code) == 0 {
		return 0, errors.New("invalid method")
	}
	if len(args) > m.NumLocals {
		return 0, &RuntimeError{Method: m.Name, Err: ErrInvalidLocal.NewError(
			fmt.Sprintf("%d arguments for %d locals", len(args), m.NumLocals))}
	}
	if vm.opts.Verify {
		if err = Verify(m); err != nil {
			return 0, err
		}
	}

	atomic.StoreInt64(&vm.abort, 0)
	vm.method = m
	vm.ip = 0
	vm.sp = 0
	vm.steps = 0
	vm.locals = make([]int32, m.NumLocals)
	copy(vm.locals, args)

	ret, err = vm.run()
	if err != nil {
		err = &RuntimeError{Method: m.Name, IP: vm.ip, Err: err}
		vm.log.Warn("invocation aborted",
			zap.String("method", m.Name), zap.Int("ip", vm.ip), zap.Error(err))
	}
	return ret, err
}

func (vm *VM) run() (int32, error) {
	code := vm.method.Code
	var operands []int
	for atomic.LoadInt64(&vm.abort) == 0 {
		if vm.ip < 0 || vm.ip >= len(code) {
			return 0, ErrInvalidJump.NewError("instruction pointer",
				strconv.Itoa(vm.ip), "outside method")
		}
		if vm.opts.MaxSteps > 0 {
			if vm.steps >= vm.opts.MaxSteps {
				return 0, ErrStepLimit.NewError(strconv.Itoa(vm.opts.MaxSteps))
			}
			vm.steps++
		}

		op := code[vm.ip]
		if IsSwitch(op) {
			if err := vm.dispatchSwitch(); err != nil {
				return 0, err
			}
			continue
		}

		n, err := InstructionLen(code, vm.ip)
		if err != nil {
			return 0, err
		}
		operands, _ = ReadOperands(op, code[vm.ip+1:], operands)
		next := vm.ip + n

		switch op {
		case OpNop:
		case OpIconstM1, OpIconst0, OpIconst1, OpIconst2,
			OpIconst3, OpIconst4, OpIconst5:
			err = vm.push(int32(op) - int32(OpIconst0))
		case OpBipush, OpSipush:
			err = vm.push(int32(operands[0]))
		case OpIload:
			err = vm.load(operands[0])
		case OpIload0, OpIload1, OpIload2, OpIload3:
			err = vm.load(int(op - OpIload0))
		case OpIstore:
			err = vm.store(operands[0])
		case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
			err = vm.store(int(op - OpIstore0))
		case OpPop:
			_, err = vm.pop()
		case OpDup:
			var v int32
			if v, err = vm.pop(); err == nil {
				_ = vm.push(v)
				err = vm.push(v)
			}
		case OpIadd, OpIsub, OpImul:
			err = vm.binaryOp(op)
		case OpIneg:
			var v int32
			if v, err = vm.pop(); err == nil {
				err = vm.push(-v)
			}
		case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
			var v int32
			if v, err = vm.pop(); err == nil && compare(op-OpIfeq, v, 0) {
				next = vm.ip + operands[0]
			}
		case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
			var a, b int32
			if b, err = vm.pop(); err == nil {
				if a, err = vm.pop(); err == nil && compare(op-OpIfIcmpeq, a, b) {
					next = vm.ip + operands[0]
				}
			}
		case OpGoto, OpGotoW:
			next = vm.ip + operands[0]
		case OpIreturn:
			return vm.pop()
		case OpReturn:
			return 0, nil
		default:
			err = ErrInvalidOpcode.NewError(fmt.Sprintf("0x%02X", op))
		}
		if err != nil {
			return 0, err
		}
		vm.ip = next
	}
	return 0, ErrVMAborted
}

// dispatchSwitch pops the selector and continues at the resolved target.
func (vm *VM) dispatchSwitch() error {
	var (
		d   *SwitchDescriptor
		err error
	)
	if vm.cache != nil {
		d, err = vm.cache.Load(vm.method, vm.ip)
	} else {
		d, err = DecodeSwitch(vm.method.Code, vm.ip)
	}
	if err != nil {
		return err
	}
	selector, err := vm.pop()
	if err != nil {
		return err
	}
	target := d.Resolve(selector)
	if ce := vm.log.Check(zap.DebugLevel, "switch dispatch"); ce != nil {
		ce.Write(
			zap.String("method", vm.method.Name),
			zap.Int("ip", vm.ip),
			zap.Stringer("kind", d.Kind()),
			zap.Int32("selector", selector),
			zap.Int("target", target),
		)
	}
	if target < 0 || target >= len(vm.method.Code) {
		return ErrInvalidJump.NewError(fmt.Sprintf(
			"selector %d resolved to %d outside method of %d bytes",
			selector, target, len(vm.method.Code)))
	}
	vm.ip = target
	return nil
}

// compare evaluates the condition of IFEQ..IFLE and IF_ICMPEQ..IF_ICMPLE,
// cond is the opcode distance from the first opcode of the group.
func compare(cond Opcode, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func (vm *VM) binaryOp(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	switch op {
	case OpIadd:
		return vm.push(a + b)
	case OpIsub:
		return vm.push(a - b)
	default:
		return vm.push(a * b)
	}
}

func (vm *VM) push(v int32) error {
	if vm.sp >= len(vm.stack) {
		return ErrStackOverflow
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() (int32, error) {
	if vm.sp == 0 {
		return 0, ErrStackUnderflow
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

func (vm *VM) load(idx int) error {
	if idx >= len(vm.locals) {
		return ErrInvalidLocal.NewError(strconv.Itoa(idx))
	}
	return vm.push(vm.locals[idx])
}

func (vm *VM) store(idx int) error {
	if idx >= len(vm.locals) {
		return ErrInvalidLocal.NewError(strconv.Itoa(idx))
	}
	v, err := vm.pop()
	if err != nil {
		return err
	}
	vm.locals[idx] = v
	return nil
}
