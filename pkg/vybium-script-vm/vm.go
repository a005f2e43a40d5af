package vybiumscriptvm

import (
	"context"
	"fmt"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/compiler"
	vctx "github.com/vybium/vybium-script-vm/internal/vybium-script-vm/context"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/diag"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/fnptr"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/index"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/vm"
)

// NativeFunc is a function an embedder installs into a Runtime so
// scripts can call out to the host. It receives the arguments the call
// site passed (see RegisterFn) and returns the single value left on
// the script's stack.
type NativeFunc func(args []Value) (Value, error)

// Runtime is the embedder's registry of native functions, constants
// and type names, shared across every Script linked and VM run against
// it.
type Runtime struct {
	ctx *vctx.Context
}

// NewRuntime creates an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{ctx: vctx.New()}
}

// RegisterFn installs a native function at the given dotted path. The
// number of arguments it receives is determined by each call site, not
// by registration — the handler simply reads however many values the
// calling convention popped for it.
func (r *Runtime) RegisterFn(path string, fn NativeFunc) error {
	handler := func(stack vctx.Stack, args int) error {
		vals, err := stack.PopSequence(args)
		if err != nil {
			return err
		}
		result, err := fn(vals)
		if err != nil {
			return err
		}
		stack.Push(result)
		return nil
	}
	if err := r.ctx.RegisterFn(item.Of(path), handler); err != nil {
		return &VMError{Code: ErrInvalidConfig, Message: fmt.Sprintf("registering native function %q", path), Cause: err}
	}
	return nil
}

// RegisterConstant installs a constant value at the given dotted path.
func (r *Runtime) RegisterConstant(path string, v Value) {
	r.ctx.RegisterConstant(item.Of(path), v)
}

// RegisterType declares a struct or enum path as known to the
// runtime, independent of any constructor function.
func (r *Runtime) RegisterType(path string) {
	r.ctx.RegisterType(item.Of(path))
}

// Script is a compiled and linked collection of source files, ready to
// be run against the Runtime it was built with.
type Script struct {
	unit     *unit.Unit
	cfg      *Config
	warnings *diag.Warnings
}

// Warnings returns the non-fatal diagnostics collected while indexing
// and compiling the script (unused bindings, let patterns that might
// panic, removable tuple-call parens), in emission order.
func (s *Script) Warnings() []diag.Warning { return s.warnings.All() }

// Build indexes, compiles and links a set of already-parsed source
// files into a runnable Script. Parsing source text into files is the
// embedder's responsibility; this package starts downstream of an AST.
func Build(cfg *Config, rt *Runtime, files []*ast.File) (*Script, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := item.Empty()
	if cfg.RootModule != "" {
		root = item.Of(cfg.RootModule)
	}

	ix := index.New()
	for _, f := range files {
		if err := ix.IndexFile(root, f); err != nil {
			return nil, &VMError{Code: ErrIndexing, Message: "indexing source file", Cause: err}
		}
	}

	var u *unit.Unit
	if cfg.Prelude {
		u = unit.NewWithDefaultPrelude()
	} else {
		u = unit.New()
	}

	declared := make([]item.Item, 0, len(ix.Query().InOrder()))
	for _, e := range ix.Query().InOrder() {
		declared = append(declared, e.Path)
	}
	if err := u.ResolveImports(ix.PendingImports(), rt.ctx.IterNames(), declared); err != nil {
		return nil, &VMError{Code: ErrIndexing, Message: "resolving imports", Cause: err}
	}

	c := compiler.New(ix.Query(), u)
	if err := c.CompileAll(); err != nil {
		return nil, &VMError{Code: ErrCompilation, Message: "compiling source files", Cause: err}
	}

	linker := unit.NewLinker()
	if ok := u.Link(rt.ctx.Contains, linker); !ok {
		return nil, &VMError{Code: ErrLinking, Message: fmt.Sprintf("linking script: %v", linker.Errors())}
	}

	warnings := diag.New()
	warnings.Append(ix.Warnings())
	warnings.Append(c.Warnings())

	return &Script{unit: u, cfg: cfg, warnings: warnings}, nil
}

// VM is a single run of a Script's entry function against a Runtime.
type VM interface {
	// Run starts execution and runs until the script
	// returns a value, yields, or awaits.
	Run() (Value, *SuspendReason, error)

	// Resume continues a VM previously suspended by Run or Resume,
	// feeding input back in as the suspended expression's result.
	Resume(input Value) (Value, *SuspendReason, error)

	// RunToCompletion drives the VM to a final value, automatically
	// resolving any StopCallVM/StopAwait suspension along the way. It
	// errors if the entry function itself yields: a generator's yield
	// is only ever meaningful to a caller driving it with Run/Resume,
	// never to a top-level completion driver.
	RunToCompletion(ctx context.Context) (Value, error)
}

type vmImpl struct {
	m *vm.VM
}

// NewVM looks up entry within script and returns a VM positioned at
// its start, ready for Run.
func NewVM(rt *Runtime, script *Script, entry string) (VM, error) {
	info, ok := script.unit.Lookup(item.Function(item.Of(entry)))
	if !ok {
		return nil, &VMError{Code: ErrInvalidInput, Message: fmt.Sprintf("entry function %q not found", entry)}
	}
	m := vm.New(rt.ctx, script.unit)
	m.SetIP(info.Offset)
	if script.cfg != nil {
		m.SetMaxCycles(script.cfg.MaxCycles)
		m.SetMaxDepth(script.cfg.MaxCallDepth)
	}
	return &vmImpl{m: m}, nil
}

func stopToSuspend(reason *fnptr.StopReason) *SuspendReason {
	if reason == nil {
		return nil
	}
	return &SuspendReason{Kind: reason.Kind, Value: reason.Value}
}

func (v *vmImpl) Run() (Value, *SuspendReason, error) {
	result, reason, err := v.m.Run()
	if err != nil {
		return Value{}, nil, &VMError{Code: ErrExecution, Message: "running script", Cause: err}
	}
	return result, stopToSuspend(reason), nil
}

func (v *vmImpl) Resume(input Value) (Value, *SuspendReason, error) {
	result, reason, err := v.m.Resume(input)
	if err != nil {
		return Value{}, nil, &VMError{Code: ErrExecution, Message: "resuming script", Cause: err}
	}
	return result, stopToSuspend(reason), nil
}

func (v *vmImpl) RunToCompletion(ctx context.Context) (Value, error) {
	result, err := v.m.RunWithContext(ctx)
	if err != nil {
		return Value{}, &VMError{Code: ErrExecution, Message: "running script to completion", Cause: err}
	}
	return result, nil
}
