// Package vybiumscriptvm provides an embeddable dynamic scripting
// language core: the pipeline that turns parsed source files into an
// executable bytecode unit, plus the virtual machine that runs it.
//
// The language offers functions, closures, generators, async functions
// and futures, structs, enums with variants, pattern matching, modules
// and imports, and an expression-oriented surface. Tokenizing and
// parsing source text into an AST are the embedder's responsibility;
// this package starts downstream of parsing.
//
// # Features
//
// - Indexing and compiling ASTs to a linked, runnable Unit
// - A stack-based VM with call frames, pattern-match dispatch and
//   generator/async suspend points
// - A Runtime registry for embedder-supplied native functions,
//   constants and type declarations
// - Suspend/resume driving for generators (yield) and a synchronous
//   await-resolution driver for futures
//
// # Quick Start
//
// Registering a native function, building a script, and running it:
//
//	rt := vybiumscriptvm.NewRuntime()
//	rt.RegisterFn("double", func(args []vybiumscriptvm.Value) (vybiumscriptvm.Value, error) {
//		n, _ := args[0].AsInteger()
//		return vybiumscriptvm.Integer(n * 2), nil
//	})
//
//	script, err := vybiumscriptvm.Build(vybiumscriptvm.DefaultConfig(), rt, files)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	machine, err := vybiumscriptvm.NewVM(rt, script, "main")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, suspend, err := machine.Run()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if suspend != nil {
//		// entry function yielded or is awaiting; drive with Resume or
//		// RunToCompletion depending on what the script is expected to do.
//	}
//
// Driving a script whose entry function awaits a future to a single
// final result:
//
//	result, err := machine.RunToCompletion(context.Background())
//
// # Architecture
//
// vybium-script-vm uses a hybrid public/private architecture:
//
// - pkg/vybium-script-vm/: Public API (this package)
// - internal/vybium-script-vm/: Private implementation (not importable)
//
// The public API provides stable interfaces for:
// - Building a Script from parsed source files
// - Registering native functions, constants and types on a Runtime
// - Running and resuming a VM
// - Inspecting and constructing Values
//
// Implementation details in internal/ can be refactored without
// breaking the public API.
//
// # Implementation Features
//
// - Locals addressed as stack-relative slots off each call frame, no
//   separate locals array
// - A single Value tagged union for every runtime kind, with a
//   reference-counted Shared cell for interior mutation
// - One bytecode Unit per linked program: interned statics, a function
//   table, import resolution and per-instruction debug spans
// - Two call-dispatch entry points per callable (standalone, in-VM) so
//   native functions, bytecode functions, closures and tuple/variant
//   constructors share one calling convention
//
// # References
//
// - Rune language & VM: https://rune-rs.github.io/
//
// # License
//
// See LICENSE file in the repository root.
package vybiumscriptvm
