// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

//go:build !js
// +build !js

package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ozanh/branchvm"
	"github.com/ozanh/branchvm/asm"
	"github.com/ozanh/branchvm/encoder"
)

const (
	title        = "branchvm"
	promptPrefix = ">>> "
)

// Sentinel errors for repl.
var errExit = errors.New("exit")

type config struct {
	disasm  bool
	method  string
	args    []int32
	output  string
	trace   bool
	noCache bool
	verify  bool
}

func (c *config) options(log *zap.Logger) branchvm.Options {
	return branchvm.Options{
		Logger:  log,
		NoCache: c.noCache,
		Verify:  c.verify,
	}
}

type suggest struct {
	text        string
	description string
}

var suggestions = []suggest{
	{text: ".commands", description: "Print REPL commands"},
	{text: ".load", description: "Load a program: .load FILE"},
	{text: ".methods", description: "Print method names"},
	{text: ".dis", description: "Disassemble methods: .dis [NAME]"},
	{text: ".run", description: "Run a method: .run NAME [ARG...]"},
	{text: ".resolve", description: "Resolve a selector: .resolve NAME IP SELECTOR"},
	{text: ".cache", description: "Print descriptor cache stats"},
	{text: ".exit", description: "Exit"},
}

type repl struct {
	out      io.Writer
	cfg      config
	prog     *branchvm.Program
	vm       *branchvm.VM
	commands map[string]func([]string) error
}

func newREPL(stdout io.Writer, cfg config, prog *branchvm.Program,
	log *zap.Logger) *repl {

	if stdout == nil {
		stdout = os.Stdout
	}
	if prog == nil {
		prog = &branchvm.Program{}
	}
	r := &repl{
		out:  stdout,
		cfg:  cfg,
		prog: prog,
		vm:   branchvm.NewVM(cfg.options(log)),
	}
	r.commands = map[string]func([]string) error{
		".commands": r.cmdCommands,
		".load":     r.cmdLoad,
		".methods":  r.cmdMethods,
		".dis":      r.cmdDis,
		".run":      r.cmdRun,
		".resolve":  r.cmdResolve,
		".cache":    r.cmdCache,
		".exit":     func([]string) error { return errExit },
	}
	return r
}

func (r *repl) cmdCommands(_ []string) error {
	var pad int
	for _, s := range suggestions {
		if pad < len(s.text) {
			pad = len(s.text)
		}
	}
	for _, s := range suggestions {
		_, _ = fmt.Fprintf(r.out, "%-*s\t%s\n", pad, s.text, s.description)
	}
	return nil
}

func (r *repl) cmdLoad(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .load FILE")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	prog, err := loadProgram(data, r.cfg.verify)
	if err != nil {
		return err
	}
	r.prog = prog
	if c := r.vm.Cache(); c != nil {
		c.Clear()
	}
	_, _ = fmt.Fprintf(r.out, "loaded %d methods\n", len(prog.Methods))
	return nil
}

func (r *repl) cmdMethods(_ []string) error {
	names := make([]string, 0, len(r.prog.Methods))
	for _, m := range r.prog.Methods {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintln(r.out, name)
	}
	return nil
}

func (r *repl) cmdDis(args []string) error {
	if len(args) == 0 {
		r.prog.Fprint(r.out)
		return nil
	}
	for _, name := range args {
		m, err := r.prog.Method(name)
		if err != nil {
			return err
		}
		m.Fprint(r.out)
	}
	return nil
}

func (r *repl) cmdRun(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: .run NAME [ARG...]")
	}
	m, err := r.prog.Method(args[0])
	if err != nil {
		return err
	}
	vals := make([]int32, 0, len(args)-1)
	for _, s := range args[1:] {
		v, err := parseInt32(s)
		if err != nil {
			return err
		}
		vals = append(vals, v)
	}
	ret, err := r.vm.Run(m, vals...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(r.out, "⇦   %d\n", ret)
	return nil
}

func (r *repl) cmdResolve(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: .resolve NAME IP SELECTOR")
	}
	m, err := r.prog.Method(args[0])
	if err != nil {
		return err
	}
	ip, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	selector, err := parseInt32(args[2])
	if err != nil {
		return err
	}
	var d *branchvm.SwitchDescriptor
	if c := r.vm.Cache(); c != nil {
		d, err = c.Load(m, ip)
	} else {
		d, err = branchvm.DecodeSwitch(m.Code, ip)
	}
	if err != nil {
		return err
	}
	target := d.Resolve(selector)
	_, _ = fmt.Fprintf(r.out, "%s %d -> %04d\n", d.Kind(), selector, target)
	return nil
}

func (r *repl) cmdCache(_ []string) error {
	c := r.vm.Cache()
	if c == nil {
		_, _ = fmt.Fprintln(r.out, "cache disabled")
		return nil
	}
	hits, misses := c.Stats()
	_, _ = fmt.Fprintf(r.out, "entries:%d hits:%d misses:%d\n",
		c.Len(), hits, misses)
	return nil
}

func (r *repl) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	fn, ok := r.commands[fields[0]]
	if !ok {
		r.writeError(fmt.Errorf("unknown command %q, "+
			"write .commands to list available commands", fields[0]))
		return nil
	}
	if err := fn(fields[1:]); err != nil {
		if err == errExit {
			return err
		}
		r.writeError(err)
	}
	return nil
}

func (r *repl) writeError(err error) {
	_, _ = fmt.Fprintf(r.out, "!   %v\n", err)
}

func (r *repl) printInfo() {
	_, _ = fmt.Fprintln(r.out, "Copyright (c) 2020-2023 Ozan Hacıbekiroğlu")
	_, _ = fmt.Fprintln(r.out, "https://github.com/ozanh/branchvm License: MIT",
		"Build:", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintln(r.out, "Write .commands to list available commands")
	_, _ = fmt.Fprintln(r.out, "Press Ctrl+D or write .exit command to exit")
	_, _ = fmt.Fprintln(r.out)
}

func (r *repl) run() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCompleter(complete)
	r.printInfo()

	for {
		str, err := line.Prompt(promptPrefix)
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				return nil
			}
			return &branchvm.Error{Message: "prompt error", Cause: err}
		}
		if err = r.execute(str); err != nil {
			if err == errExit {
				return nil
			}
			return err
		}
		if v := strings.TrimSpace(str); len(v) > 0 {
			line.AppendHistory(v)
		}
	}
}

func complete(line string) (completions []string) {
	for _, v := range suggestions {
		if strings.HasPrefix(v.text, line) {
			completions = append(completions, v.text)
		}
	}
	return
}

// loadProgram decodes an encoded program or parses assembly text.
func loadProgram(data []byte, verify bool) (*branchvm.Program, error) {
	if encoder.IsEncoded(data) {
		return encoder.DecodeProgramFrom(bytes.NewReader(data), verify)
	}
	prog, err := asm.Parse(string(data))
	if err != nil {
		return nil, err
	}
	if verify {
		for _, m := range prog.Methods {
			if err = branchvm.Verify(m); err != nil {
				return nil, err
			}
		}
	}
	return prog, nil
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func parseArgs(s string) ([]int32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	args := make([]int32, 0, len(parts))
	for _, p := range parts {
		v, err := parseInt32(p)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", p, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func parseFlags(
	flagset *flag.FlagSet,
	args []string,
) (cfg config, filePath string, err error) {

	var callArgs string
	flagset.BoolVar(&cfg.disasm, "d", false, "Disassemble the program and exit")
	flagset.StringVar(&cfg.method, "m", "main", "Method to run")
	flagset.StringVar(&callArgs, "args", "",
		"Comma separated int32 arguments of the method: -args 1,2")
	flagset.StringVar(&cfg.output, "o", "",
		"Write the encoded program to the file and exit")
	flagset.BoolVar(&cfg.trace, "trace", false, "Log switch dispatches")
	flagset.BoolVar(&cfg.noCache, "nocache", false,
		"Decode switch instructions on every visit")
	flagset.BoolVar(&cfg.verify, "verify", false,
		"Verify methods before execution")

	flagset.Usage = func() {
		_, _ = fmt.Fprint(flagset.Output(),
			"Usage: bvm [flags] [program file]\n\n",
			"Program file is an assembly text or an encoded program.\n",
			"If program file is not provided, REPL terminal application is started\n",
			"Use - to read from stdin\n\n",
			"\nFlags:\n",
		)
		flagset.PrintDefaults()
	}

	if err = flagset.Parse(args); err != nil {
		return
	}
	if cfg.args, err = parseArgs(callArgs); err != nil {
		return
	}

	if flagset.NArg() != 1 {
		return
	}

	filePath = flagset.Arg(0)
	if filePath == "-" {
		return
	}
	_, err = os.Stat(filePath)
	return
}

func newLogger(trace bool) (*zap.Logger, error) {
	if !trace {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// executeProgram writes, disassembles or runs prog according to cfg.
func executeProgram(cfg config, prog *branchvm.Program, log *zap.Logger,
	out io.Writer) error {

	switch {
	case cfg.output != "":
		f, err := os.Create(cfg.output)
		if err != nil {
			return err
		}
		if err = encoder.EncodeProgramTo(prog, f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case cfg.disasm:
		prog.Fprint(out)
		return nil
	}

	m, err := prog.Method(cfg.method)
	if err != nil {
		return err
	}
	ret, err := branchvm.NewVM(cfg.options(log)).Run(m, cfg.args...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, ret)
	return err
}

func main() {
	cfg, filePath, err := parseFlags(flag.CommandLine, os.Args[1:])
	checkErr(err, nil)

	log, err := newLogger(cfg.trace)
	checkErr(err, nil)
	defer func() { _ = log.Sync() }()
	branchvm.SetLogger(log)

	isTerminal := term.IsTerminal(int(os.Stdin.Fd()))
	if len(filePath) == 0 && !isTerminal {
		filePath = "-"
	}

	if len(filePath) > 0 {
		var data []byte
		if filePath == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(filePath)
		}
		checkErr(err, log)

		prog, err := loadProgram(data, cfg.verify)
		checkErr(err, log)
		checkErr(executeProgram(cfg, prog, log, os.Stdout), log)
		return
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		_, _ = fmt.Fprintln(os.Stderr, "not a terminal")
		os.Exit(1)
	}

	setTerminalTitle(title)
	checkErr(newREPL(os.Stdout, cfg, nil, log).run(), log)
}

func setTerminalTitle(title string) {
	if runtime.GOOS == "windows" {
		return
	}

	titleBytes := bytes.ReplaceAll([]byte(title), []byte{0x13}, []byte{})
	titleBytes = bytes.ReplaceAll(titleBytes, []byte{0x07}, []byte{})

	_, _ = os.Stdout.Write([]byte{0x1b, ']', '2', ';'})
	_, _ = os.Stdout.Write(titleBytes)
	_, _ = os.Stdout.Write([]byte{0x07})
}

func checkErr(err error, log *zap.Logger) {
	if err == nil {
		return
	}

	defer os.Exit(1)
	_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
	if log != nil {
		_ = log.Sync()
	}
}
