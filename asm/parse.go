// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package asm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/ozanh/branchvm"
)

// ErrSyntax is the parent of all Parse errors.
var ErrSyntax = &branchvm.Error{Name: "SyntaxError"}

var mnemonics = func() map[string]branchvm.Opcode {
	m := make(map[string]branchvm.Opcode)
	for op, name := range branchvm.OpcodeNames {
		if name != "" {
			m[strings.ToLower(name)] = branchvm.Opcode(op)
		}
	}
	return m
}()

type methodState struct {
	name      string
	numLocals int
	line      int
	b         *Builder
	labels    map[string]Label
	bound     map[string]bool
}

func (s *methodState) label(name string) Label {
	if l, ok := s.labels[name]; ok {
		return l
	}
	l := s.b.NewLabel()
	s.labels[name] = l
	return l
}

type parser struct {
	prog *branchvm.Program
	cur  *methodState
	line int
}

// Parse assembles src into a program. Each method starts with
// ".method NAME [locals=N]". A line holds an optional "label:" followed by an
// instruction; ';' starts a comment. Switches are written as
//
//	tableswitch LOW default=LABEL LABEL...
//	lookupswitch default=LABEL KEY:LABEL...
func Parse(src string) (*branchvm.Program, error) {
	p := &parser{prog: &branchvm.Program{}}
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	if len(p.prog.Methods) == 0 {
		return nil, ErrSyntax.NewError("no methods")
	}
	return p.prog, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return ErrSyntax.NewError(fmt.Sprintf("line %d: ", p.line) +
		fmt.Sprintf(format, args...))
}

func (p *parser) parseLine(line string) error {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	if fields[0] == ".method" {
		return p.startMethod(fields[1:])
	}
	if p.cur == nil {
		return p.errorf("instruction outside of a method")
	}
	if strings.HasSuffix(fields[0], ":") {
		name := strings.TrimSuffix(fields[0], ":")
		if name == "" {
			return p.errorf("empty label")
		}
		if p.cur.bound[name] {
			return p.errorf("label %q redefined", name)
		}
		p.cur.bound[name] = true
		p.cur.b.Bind(p.cur.label(name))
		fields = fields[1:]
		if len(fields) == 0 {
			return nil
		}
	}
	return p.parseInstruction(fields)
}

func (p *parser) startMethod(args []string) error {
	if err := p.finish(); err != nil {
		return err
	}
	if len(args) == 0 {
		return p.errorf("method name expected")
	}
	s := &methodState{
		name:   args[0],
		line:   p.line,
		b:      NewBuilder(),
		labels: make(map[string]Label),
		bound:  make(map[string]bool),
	}
	for _, arg := range args[1:] {
		v, ok := strings.CutPrefix(arg, "locals=")
		if !ok {
			return p.errorf("unknown method attribute %q", arg)
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p.errorf("invalid locals %q", v)
		}
		s.numLocals = n
	}
	for _, m := range p.prog.Methods {
		if m.Name == s.name {
			return p.errorf("method %q redefined", s.name)
		}
	}
	p.cur = s
	return nil
}

func (p *parser) finish() error {
	s := p.cur
	if s == nil {
		return nil
	}
	p.cur = nil
	for name := range s.labels {
		if !s.bound[name] {
			return ErrSyntax.NewError(fmt.Sprintf(
				"method %s: undefined label %q", s.name, name))
		}
	}
	m, err := s.b.Method(s.name, s.numLocals)
	if err != nil {
		return ErrSyntax.NewError(fmt.Sprintf(
			"method %s at line %d: %v", s.name, s.line, err))
	}
	p.prog.Methods = append(p.prog.Methods, m)
	return nil
}

func (p *parser) parseInstruction(fields []string) error {
	op, ok := mnemonics[strings.ToLower(fields[0])]
	if !ok {
		return p.errorf("unknown instruction %q", fields[0])
	}
	args := fields[1:]
	b := p.cur.b
	switch {
	case op == branchvm.OpTableSwitch:
		return p.parseTableSwitch(args)
	case op == branchvm.OpLookupSwitch:
		return p.parseLookupSwitch(args)
	case branchvm.IsBranch(op):
		if len(args) != 1 {
			return p.errorf("%s expects a label", fields[0])
		}
		b.Jump(op, p.cur.label(args[0]))
	default:
		operands := make([]int, len(args))
		for i, a := range args {
			v, err := parseInt32(a)
			if err != nil {
				return p.errorf("%s: %v", fields[0], err)
			}
			operands[i] = int(v)
		}
		b.Emit(op, operands...)
	}
	if err := b.Err(); err != nil {
		return p.errorf("%v", err)
	}
	return nil
}

func (p *parser) parseDefault(arg string) (Label, error) {
	name, ok := strings.CutPrefix(arg, "default=")
	if !ok || name == "" {
		return 0, p.errorf("default=LABEL expected, found %q", arg)
	}
	return p.cur.label(name), nil
}

func (p *parser) parseTableSwitch(args []string) error {
	if len(args) < 2 {
		return p.errorf("tableswitch LOW default=LABEL LABEL... expected")
	}
	low, err := parseInt32(args[0])
	if err != nil {
		return p.errorf("tableswitch low: %v", err)
	}
	def, err := p.parseDefault(args[1])
	if err != nil {
		return err
	}
	cases := make([]Label, 0, len(args)-2)
	for _, name := range args[2:] {
		cases = append(cases, p.cur.label(name))
	}
	p.cur.b.TableSwitch(low, def, cases...)
	if err := p.cur.b.Err(); err != nil {
		return p.errorf("%v", err)
	}
	return nil
}

func (p *parser) parseLookupSwitch(args []string) error {
	if len(args) < 1 {
		return p.errorf("lookupswitch default=LABEL KEY:LABEL... expected")
	}
	def, err := p.parseDefault(args[0])
	if err != nil {
		return err
	}
	cases := make(map[int32]Label, len(args)-1)
	for _, arg := range args[1:] {
		k, name, ok := strings.Cut(arg, ":")
		if !ok || name == "" {
			return p.errorf("KEY:LABEL expected, found %q", arg)
		}
		key, err := parseInt32(k)
		if err != nil {
			return p.errorf("lookupswitch key: %v", err)
		}
		if _, dup := cases[key]; dup {
			return p.errorf("duplicate lookupswitch key %d", key)
		}
		cases[key] = p.cur.label(name)
	}
	p.cur.b.LookupSwitch(def, cases)
	if err := p.cur.b.Err(); err != nil {
		return p.errorf("%v", err)
	}
	return nil
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
