// Package compiler translates the indexer's discovered declarations
// (internal/vybium-script-vm/query.Query) into bytecode: one
// unit.Assembly per function, closure and async-block body, following
// spec §4.5's lowering rules (labeled control flow, pattern-match jump
// trees, closure-environment capture, generator/async suspension via
// the VM's existing Yield/Await opcodes).
//
// There is no compiler.rs/codegen.rs in the retrieval pack's
// original_source — this package is grounded directly on spec §4.5/§4.6
// and on the idioms already established by internal/vybium-script-vm/unit
// (label-based Assembly, hash-keyed function table) and
// internal/vybium-script-vm/index (item-path/scope bookkeeping,
// IndexedEntry lookup table), following the same Error/errAt shape as
// the indexer.
package compiler

import (
	"fmt"
	"sort"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/diag"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/fnptr"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/query"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/vm"
)

// Error is the compiler's error taxonomy.
type Error struct {
	Span item.Span
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func errAt(span item.Span, format string, args ...interface{}) error {
	return &Error{Span: span, Msg: fmt.Sprintf("%s (at %s)", fmt.Sprintf(format, args...), span)}
}

// Compiler lowers every not-yet-compiled entry in a Query into the
// Unit it is building.
type Compiler struct {
	query *query.Query
	unit  *unit.Unit

	// byDecl maps a closure's or async block's *ast.FnDecl back to its
	// IndexedEntry, built once up front so ClosureExpr/AsyncBlockExpr
	// compile sites can recover the path/captures/convention the
	// indexer already assigned it.
	byDecl map[*ast.FnDecl]*query.IndexedEntry

	warnings *diag.Warnings
}

// New constructs a Compiler over an already-indexed Query, emitting
// into u.
func New(q *query.Query, u *unit.Unit) *Compiler {
	c := &Compiler{query: q, unit: u, byDecl: map[*ast.FnDecl]*query.IndexedEntry{}, warnings: diag.New()}
	for _, e := range q.InOrder() {
		if e.Fn != nil {
			c.byDecl[e.Fn] = e
		}
	}
	return c
}

// Warnings returns the diagnostics collected while compiling.
func (c *Compiler) Warnings() *diag.Warnings { return c.warnings }

// CompileAll compiles every not-yet-compiled function, closure and
// async-block body discovered by the indexer. Struct/enum declarations
// need no bytecode of their own: their tuple constructors are lowered
// inline, at each call site that references them (see compileCall),
// as MakeTypedTuple/MakeVariant instructions rather than a registered
// native handler.
func (c *Compiler) CompileAll() error {
	for _, e := range c.query.InOrder() {
		switch e.Kind {
		case query.IndexedFn, query.IndexedClosure, query.IndexedAsyncBlock:
			if e.Compiled {
				continue
			}
			if err := c.compileFn(e); err != nil {
				return err
			}
			e.Compiled = true
		}
	}
	return nil
}

// localScope is a stack of block-scoped name-to-frame-slot maps.
// Lookup searches innermost-first, so an inner let shadows an outer
// one with the same name.
type localScope struct {
	blocks []map[string]int
}

func newLocalScope() *localScope {
	return &localScope{blocks: []map[string]int{{}}}
}

func (s *localScope) pushBlock() { s.blocks = append(s.blocks, map[string]int{}) }
func (s *localScope) popBlock()  { s.blocks = s.blocks[:len(s.blocks)-1] }

func (s *localScope) declare(name string, idx int) {
	s.blocks[len(s.blocks)-1][name] = idx
}

func (s *localScope) lookup(name string) (int, bool) {
	for i := len(s.blocks) - 1; i >= 0; i-- {
		if idx, ok := s.blocks[i][name]; ok {
			return idx, true
		}
	}
	return 0, false
}

// loopCtx records a while/loop's jump targets and the frame slot its
// result value (written by break, or left at its initial Unit by a
// normal exit) is threaded through.
type loopCtx struct {
	begin, end unit.Label
	exitSlot   int
}

// funcCtx holds one function body's compilation state: its assembly,
// local-variable scope, next free frame slot, and enclosing loop
// stack (for break/continue resolution).
type funcCtx struct {
	asm       *unit.Assembly
	scope     *localScope
	nextLocal int
	loops     []loopCtx
}

func (fc *funcCtx) emit(i vm.Instruction, span item.Span) {
	fc.asm.Push(vm.Raw(i), span)
}

// compileFn builds one function/closure/async-block body's Assembly
// and registers it in the unit under its indexer-assigned path. A
// closure's or async block's captured environment arrives as the
// final call argument (a tuple, per fnptr.FnPtr's ClosureOffset shape)
// and is unpacked into fresh locals before the body proper compiles,
// so the body addresses captures exactly like any other local.
func (c *Compiler) compileFn(e *query.IndexedEntry) error {
	fn := e.Fn
	asm := c.unit.NewAssembly()
	fc := &funcCtx{asm: asm, scope: newLocalScope()}

	for i, a := range fn.Args {
		fc.scope.declare(a.Name, i)
	}
	fc.nextLocal = len(fn.Args)

	if len(e.Captures) > 0 {
		envIdx := fc.nextLocal
		fc.nextLocal++
		for i, name := range e.Captures {
			fc.emit(vm.Instruction{Op: vm.LoadLocal, N: envIdx}, fn.Span())
			fc.emit(vm.Instruction{Op: vm.TupleGet, N: i}, fn.Span())
			fc.scope.declare(name, fc.nextLocal)
			fc.nextLocal++
		}
	}

	if err := c.compileBlock(fc, fn.Body); err != nil {
		return err
	}
	fc.emit(vm.Instruction{Op: vm.Return}, fn.Body.Span())

	return c.unit.NewFunction(e.Path, len(fn.Args), asm)
}

func (c *Compiler) compileBlock(fc *funcCtx, b *ast.Block) error {
	fc.scope.pushBlock()
	defer fc.scope.popBlock()

	for _, stmt := range b.Stmts {
		if err := c.compileStmt(fc, stmt); err != nil {
			return err
		}
	}
	if b.Tail != nil {
		return c.compileExpr(fc, b.Tail)
	}
	fc.emit(vm.Instruction{Op: vm.PushUnit}, b.Span())
	return nil
}

func (c *Compiler) compileStmt(fc *funcCtx, stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		if err := c.compileExpr(fc, s.Value); err != nil {
			return err
		}
		return c.bindLetPattern(fc, s.Pattern)
	case *ast.ExprStmt:
		if err := c.compileExpr(fc, s.Value); err != nil {
			return err
		}
		fc.emit(vm.Instruction{Op: vm.Pop}, s.Span())
		return nil
	case *ast.ItemStmt:
		// Nested fn/struct/enum/use declarations are compiled once, by
		// CompileAll's top-level walk over every indexed entry — not
		// here, where they would be re-entered once per containing
		// block execution.
		return nil
	default:
		return errAt(stmt.Span(), "unsupported statement")
	}
}

// bindLetPattern supports only a plain binding or a wildcard. Any other
// pattern (tuple, literal, typed tuple, variant, object) in a let
// binding is rejected here —
// match is this compiler's only refutable-pattern construct; the
// indexer already emits a LetPatternMightPanic warning for these, but
// lowering one into a jump tree that falls through to nothing on
// mismatch has no sound semantics in a core VM with no panic opcode.
func (c *Compiler) bindLetPattern(fc *funcCtx, p ast.Pattern) error {
	switch pt := p.(type) {
	case *ast.PatBinding:
		fc.scope.declare(pt.Name, fc.nextLocal)
		fc.nextLocal++
		return nil
	case *ast.PatIgnore:
		fc.emit(vm.Instruction{Op: vm.Pop}, pt.Span())
		return nil
	default:
		return errAt(p.Span(), "unsupported refutable pattern in let binding; use match instead")
	}
}

func (c *Compiler) compileExpr(fc *funcCtx, e ast.Expr) error {
	switch v := e.(type) {
	case *ast.LitExpr:
		return c.emitLit(fc, v)
	case *ast.PathExpr:
		return c.compilePath(fc, v)
	case *ast.BinaryExpr:
		return c.compileBinary(fc, v)
	case *ast.CallExpr:
		return c.compileCall(fc, v)
	case *ast.IfExpr:
		return c.compileIf(fc, v)
	case *ast.WhileExpr:
		return c.compileWhile(fc, v)
	case *ast.LoopExpr:
		return c.compileLoop(fc, v)
	case *ast.BreakExpr:
		return c.compileBreak(fc, v)
	case *ast.ReturnExpr:
		return c.compileReturn(fc, v)
	case *ast.ClosureExpr:
		return c.compileClosure(fc, v)
	case *ast.AsyncBlockExpr:
		return c.compileAsyncBlock(fc, v)
	case *ast.AwaitExpr:
		if v.Value != nil {
			if err := c.compileExpr(fc, v.Value); err != nil {
				return err
			}
		} else {
			fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
		}
		fc.emit(vm.Instruction{Op: vm.Await}, v.Span())
		return nil
	case *ast.YieldExpr:
		if v.Value != nil {
			if err := c.compileExpr(fc, v.Value); err != nil {
				return err
			}
		} else {
			fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
		}
		fc.emit(vm.Instruction{Op: vm.Yield}, v.Span())
		return nil
	case *ast.SelectExpr:
		return c.compileSelect(fc, v)
	case *ast.MatchExpr:
		return c.compileMatch(fc, v)
	case *ast.VecExpr:
		for _, el := range v.Elems {
			if err := c.compileExpr(fc, el); err != nil {
				return err
			}
		}
		fc.emit(vm.Instruction{Op: vm.NewVec, N: len(v.Elems)}, v.Span())
		return nil
	case *ast.TupleExpr:
		for _, el := range v.Elems {
			if err := c.compileExpr(fc, el); err != nil {
				return err
			}
		}
		fc.emit(vm.Instruction{Op: vm.NewTuple, N: len(v.Elems)}, v.Span())
		return nil
	case *ast.ObjectExpr:
		return c.compileObject(fc, v)
	case *ast.BlockExpr:
		return c.compileBlock(fc, v.Body)
	default:
		return errAt(e.Span(), "unsupported expression")
	}
}

func (c *Compiler) emitLit(fc *funcCtx, lit *ast.LitExpr) error {
	switch lit.Kind {
	case ast.LitUnit:
		fc.emit(vm.Instruction{Op: vm.PushUnit}, lit.Span())
	case ast.LitBool:
		fc.emit(vm.Instruction{Op: vm.PushBool, Bool: lit.Bool}, lit.Span())
	case ast.LitInt:
		fc.emit(vm.Instruction{Op: vm.PushInt, Int: lit.Int}, lit.Span())
	case ast.LitFloat:
		fc.emit(vm.Instruction{Op: vm.PushFloat, Float: lit.Float}, lit.Span())
	case ast.LitChar:
		// The minimal AST has no dedicated rune field for LitChar; the
		// scalar value rides in Int, the same slot LitInt uses.
		fc.emit(vm.Instruction{Op: vm.PushChar, Int: lit.Int}, lit.Span())
	case ast.LitStr:
		slot, err := c.unit.NewStaticString(lit.Str)
		if err != nil {
			return err
		}
		fc.emit(vm.Instruction{Op: vm.PushStr, Slot: slot}, lit.Span())
	case ast.LitByteStr:
		slot, err := c.unit.NewStaticString(lit.Str)
		if err != nil {
			return err
		}
		fc.emit(vm.Instruction{Op: vm.PushBytes, Slot: slot}, lit.Span())
	default:
		return errAt(lit.Span(), "unsupported literal kind")
	}
	return nil
}

func (c *Compiler) compilePath(fc *funcCtx, v *ast.PathExpr) error {
	if idx, ok := fc.scope.lookup(v.Name); ok {
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: idx}, v.Span())
		return nil
	}
	target, ok := c.resolvePath(v.Name)
	if !ok || target.kind != callFn {
		return errAt(v.Span(), "unresolved name %q", v.Name)
	}
	fc.emit(vm.Instruction{Op: vm.MakeFn, Hash: target.hash, Convention: target.convention, Args: target.args}, v.Span())
	return nil
}

var binaryOps = map[ast.BinaryOp]vm.InstOp{
	ast.OpAdd: vm.Add, ast.OpSub: vm.Sub, ast.OpMul: vm.Mul, ast.OpDiv: vm.Div,
	ast.OpEq: vm.Eq, ast.OpNeq: vm.Neq, ast.OpLt: vm.Lt, ast.OpLte: vm.Lte,
	ast.OpGt: vm.Gt, ast.OpGte: vm.Gte,
}

func (c *Compiler) compileBinary(fc *funcCtx, v *ast.BinaryExpr) error {
	if v.Op == ast.OpAnd || v.Op == ast.OpOr {
		if err := c.compileExpr(fc, v.Left); err != nil {
			return err
		}
		shortCircuit := fc.asm.NewLabel("logic_short")
		end := fc.asm.NewLabel("logic_end")
		fc.emit(vm.Instruction{Op: vm.Dup}, v.Span())
		if v.Op == ast.OpAnd {
			fc.asm.JumpIfNot(shortCircuit, v.Span())
		} else {
			fc.asm.JumpIf(shortCircuit, v.Span())
		}
		fc.emit(vm.Instruction{Op: vm.Pop}, v.Span())
		if err := c.compileExpr(fc, v.Right); err != nil {
			return err
		}
		fc.asm.Jump(end, v.Span())
		if _, err := fc.asm.Label(shortCircuit); err != nil {
			return err
		}
		if _, err := fc.asm.Label(end); err != nil {
			return err
		}
		return nil
	}

	if err := c.compileExpr(fc, v.Left); err != nil {
		return err
	}
	if err := c.compileExpr(fc, v.Right); err != nil {
		return err
	}
	op, ok := binaryOps[v.Op]
	if !ok {
		return errAt(v.Span(), "unsupported binary operator")
	}
	fc.emit(vm.Instruction{Op: op}, v.Span())
	return nil
}

// compileCall compiles a call whose bare-path target resolves
// statically (a known function, tuple-struct constructor, or
// tuple-variant constructor) directly into that target's dedicated
// instruction — never allocating a FnPtr Value for the common case.
// Anything else (a closure, or any expression in callee position)
// compiles its arguments followed by the callee expression, then
// dispatches through CallDynamic.
func (c *Compiler) compileCall(fc *funcCtx, v *ast.CallExpr) error {
	if bare, ok := v.Target.(*ast.PathExpr); ok {
		if _, isLocal := fc.scope.lookup(bare.Name); !isLocal {
			if target, ok := c.resolvePath(bare.Name); ok {
				switch target.kind {
				case callFn:
					for _, a := range v.Args {
						if err := c.compileExpr(fc, a); err != nil {
							return err
						}
					}
					fc.asm.Push(unit.Inst{Op: unit.OpCall, Hash: target.hash, Args: len(v.Args)}, v.Span())
					return nil
				case callStruct:
					if len(v.Args) != target.args {
						return errAt(v.Span(), "%s", fnptr.ArgumentCountMismatch(target.args, len(v.Args)))
					}
					for _, a := range v.Args {
						if err := c.compileExpr(fc, a); err != nil {
							return err
						}
					}
					fc.emit(vm.Instruction{Op: vm.MakeTypedTuple, Hash: target.hash, N: len(v.Args)}, v.Span())
					return nil
				case callVariant:
					if len(v.Args) != target.args {
						return errAt(v.Span(), "%s", fnptr.ArgumentCountMismatch(target.args, len(v.Args)))
					}
					if target.args == 0 {
						c.warnings.RemoveTupleCallParens(v.Span(), bare.Span(), v.Span(), true)
					}
					for _, a := range v.Args {
						if err := c.compileExpr(fc, a); err != nil {
							return err
						}
					}
					fc.emit(vm.Instruction{Op: vm.MakeVariant, Hash: target.hash, Hash2: target.enumHash, N: len(v.Args)}, v.Span())
					return nil
				}
			}
		}
	}

	for _, a := range v.Args {
		if err := c.compileExpr(fc, a); err != nil {
			return err
		}
	}
	if err := c.compileExpr(fc, v.Target); err != nil {
		return err
	}
	fc.emit(vm.Instruction{Op: vm.CallDynamic, N: len(v.Args)}, v.Span())
	return nil
}

func (c *Compiler) compileIf(fc *funcCtx, v *ast.IfExpr) error {
	if err := c.compileExpr(fc, v.Cond); err != nil {
		return err
	}
	elseLabel := fc.asm.NewLabel("if_else")
	end := fc.asm.NewLabel("if_end")
	fc.asm.JumpIfNot(elseLabel, v.Span())

	if err := c.compileBlock(fc, v.Then); err != nil {
		return err
	}
	fc.asm.Jump(end, v.Span())

	if _, err := fc.asm.Label(elseLabel); err != nil {
		return err
	}
	if v.Else != nil {
		if err := c.compileBlock(fc, v.Else); err != nil {
			return err
		}
	} else {
		fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
	}
	if _, err := fc.asm.Label(end); err != nil {
		return err
	}
	return nil
}

// compileWhile and compileLoop thread their result value through a
// dedicated frame slot (exitSlot) rather than converging break/normal-
// exit control flow directly at the end label: break's value and the
// loop's own "nothing broke" Unit are written to the same slot from
// different code paths, which a plain stack-merge can't express
// without knowing in advance which path was taken.
func (c *Compiler) compileWhile(fc *funcCtx, v *ast.WhileExpr) error {
	exitSlot := fc.nextLocal
	fc.nextLocal++
	fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())

	begin := fc.asm.NewLabel("while_begin")
	end := fc.asm.NewLabel("while_end")
	fc.loops = append(fc.loops, loopCtx{begin: begin, end: end, exitSlot: exitSlot})

	if _, err := fc.asm.Label(begin); err != nil {
		return err
	}
	if err := c.compileExpr(fc, v.Cond); err != nil {
		return err
	}
	fc.asm.JumpIfNot(end, v.Span())
	if err := c.compileBlock(fc, v.Body); err != nil {
		return err
	}
	fc.emit(vm.Instruction{Op: vm.Pop}, v.Span())
	fc.asm.Jump(begin, v.Span())
	if _, err := fc.asm.Label(end); err != nil {
		return err
	}

	fc.loops = fc.loops[:len(fc.loops)-1]
	fc.emit(vm.Instruction{Op: vm.LoadLocal, N: exitSlot}, v.Span())
	return nil
}

func (c *Compiler) compileLoop(fc *funcCtx, v *ast.LoopExpr) error {
	exitSlot := fc.nextLocal
	fc.nextLocal++
	fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())

	begin := fc.asm.NewLabel("loop_begin")
	end := fc.asm.NewLabel("loop_end")
	fc.loops = append(fc.loops, loopCtx{begin: begin, end: end, exitSlot: exitSlot})

	if _, err := fc.asm.Label(begin); err != nil {
		return err
	}
	if err := c.compileBlock(fc, v.Body); err != nil {
		return err
	}
	fc.emit(vm.Instruction{Op: vm.Pop}, v.Span())
	fc.asm.Jump(begin, v.Span())
	if _, err := fc.asm.Label(end); err != nil {
		return err
	}

	fc.loops = fc.loops[:len(fc.loops)-1]
	fc.emit(vm.Instruction{Op: vm.LoadLocal, N: exitSlot}, v.Span())
	return nil
}

func (c *Compiler) compileBreak(fc *funcCtx, v *ast.BreakExpr) error {
	if len(fc.loops) == 0 {
		return errAt(v.Span(), "break outside of a loop")
	}
	top := fc.loops[len(fc.loops)-1]
	if v.Value != nil {
		if err := c.compileExpr(fc, v.Value); err != nil {
			return err
		}
	} else {
		fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
	}
	fc.emit(vm.Instruction{Op: vm.StoreLocal, N: top.exitSlot}, v.Span())
	fc.asm.Jump(top.end, v.Span())
	// Unreachable, but keeps the "every expression leaves one value"
	// contract intact for whatever (never executed) code statically
	// follows a break in the same block.
	fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
	return nil
}

func (c *Compiler) compileReturn(fc *funcCtx, v *ast.ReturnExpr) error {
	if v.Value != nil {
		if err := c.compileExpr(fc, v.Value); err != nil {
			return err
		}
	} else {
		fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
	}
	fc.emit(vm.Instruction{Op: vm.Return}, v.Span())
	fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
	return nil
}

func (c *Compiler) compileClosure(fc *funcCtx, v *ast.ClosureExpr) error {
	entry, ok := c.byDecl[v.Fn]
	if !ok {
		return errAt(v.Span(), "closure body was not indexed")
	}
	for _, name := range entry.Captures {
		idx, ok := fc.scope.lookup(name)
		if !ok {
			return errAt(v.Span(), "closure capture %q not found in enclosing scope", name)
		}
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: idx}, v.Span())
	}
	fc.emit(vm.Instruction{
		Op: vm.MakeClosure, Hash: item.Function(entry.Path),
		Convention: entry.Convention, Args: len(v.Fn.Args), N: len(entry.Captures),
	}, v.Span())
	return nil
}

// compileAsyncBlock differs from a plain closure by invoking itself
// immediately: the construction site produces a ready-to-await Future
// value, not a callable.
func (c *Compiler) compileAsyncBlock(fc *funcCtx, v *ast.AsyncBlockExpr) error {
	entry, ok := c.byDecl[v.Fn]
	if !ok {
		return errAt(v.Span(), "async block body was not indexed")
	}
	for _, name := range entry.Captures {
		idx, ok := fc.scope.lookup(name)
		if !ok {
			return errAt(v.Span(), "async block capture %q not found in enclosing scope", name)
		}
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: idx}, v.Span())
	}
	fc.emit(vm.Instruction{
		Op: vm.MakeClosure, Hash: item.Function(entry.Path),
		Convention: entry.Convention, Args: 0, N: len(entry.Captures),
	}, v.Span())
	fc.emit(vm.Instruction{Op: vm.CallDynamic, N: 0}, v.Span())
	return nil
}

// compileSelect implements the decided tie-break (DESIGN.md Open
// Question 2) under this VM's synchronous suspension model: since
// awaiting a future here always runs it to completion rather than
// polling concurrently (no cross-VM concurrency, per spec §5), every
// arm is equally "ready" the instant it is tried — so compiling only
// the first arm in source order is a faithful, not merely expedient,
// implementation of "first ready in source order".
func (c *Compiler) compileSelect(fc *funcCtx, v *ast.SelectExpr) error {
	if len(v.Arms) == 0 {
		fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
		return nil
	}
	arm := v.Arms[0]
	if err := c.compileExpr(fc, arm.Future); err != nil {
		return err
	}
	fc.emit(vm.Instruction{Op: vm.Await}, v.Span())

	resolvedIdx := fc.nextLocal
	fc.nextLocal++
	if pat, ok := arm.Pattern.(*ast.PatBinding); ok {
		fc.scope.declare(pat.Name, resolvedIdx)
	}
	return c.compileBlock(fc, arm.Body)
}

func (c *Compiler) compileObject(fc *funcCtx, v *ast.ObjectExpr) error {
	type kv struct {
		key   string
		value ast.Expr
	}
	pairs := make([]kv, len(v.Keys))
	for i := range v.Keys {
		pairs[i] = kv{v.Keys[i], v.Values[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	keys := make([]string, len(pairs))
	for i, p := range pairs {
		if err := c.compileExpr(fc, p.value); err != nil {
			return err
		}
		keys[i] = p.key
	}
	slot, err := c.unit.NewStaticObjectKeys(keys)
	if err != nil {
		return err
	}
	fc.emit(vm.Instruction{Op: vm.MakeObject, Slot: slot}, v.Span())
	return nil
}

// compileMatch compiles the scrutinee once into a dedicated frame
// slot, then tries each arm's pattern in order against it. An
// irrefutable arm always binds and runs; a refutable arm tests first
// and falls through to the next arm's label on mismatch. A match with
// no matching arm pushes Unit: this core VM has no panic/abort
// instruction to express a genuinely exhaustive-match violation.
func (c *Compiler) compileMatch(fc *funcCtx, v *ast.MatchExpr) error {
	if err := c.compileExpr(fc, v.Value); err != nil {
		return err
	}
	scrutineeIdx := fc.nextLocal
	fc.nextLocal++

	end := fc.asm.NewLabel("match_end")
	for _, arm := range v.Arms {
		nextArm := fc.asm.NewLabel("match_arm")
		if ast.IsIrrefutable(arm.Pattern) {
			if err := c.bindMatchPattern(fc, arm.Pattern, scrutineeIdx); err != nil {
				return err
			}
		} else if err := c.testAndBindMatchPattern(fc, arm.Pattern, scrutineeIdx, nextArm); err != nil {
			return err
		}

		if arm.Guard != nil {
			if err := c.compileExpr(fc, arm.Guard); err != nil {
				return err
			}
			fc.asm.JumpIfNot(nextArm, arm.Guard.Span())
		}

		if err := c.compileExpr(fc, arm.Body); err != nil {
			return err
		}
		fc.asm.Jump(end, arm.Body.Span())

		if _, err := fc.asm.Label(nextArm); err != nil {
			return err
		}
	}
	fc.emit(vm.Instruction{Op: vm.PushUnit}, v.Span())
	if _, err := fc.asm.Label(end); err != nil {
		return err
	}
	return nil
}

// bindMatchPattern handles the only two kinds ast.IsIrrefutable
// reports true for.
func (c *Compiler) bindMatchPattern(fc *funcCtx, p ast.Pattern, scrutineeIdx int) error {
	switch pt := p.(type) {
	case *ast.PatBinding:
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: scrutineeIdx}, pt.Span())
		fc.scope.declare(pt.Name, fc.nextLocal)
		fc.nextLocal++
	case *ast.PatIgnore:
		// Matches unconditionally, binds nothing.
	}
	return nil
}

// testAndBindMatchPattern compiles a refutable pattern's test-and-bind
// jump tree. PatTuple/PatVariant elements are restricted to plain
// bindings, wildcards and literals — one level of structural matching,
// not arbitrarily nested sub-patterns — a deliberate scope cut given
// the bookkeeping a fully general nested-pattern compiler would need
// (see DESIGN.md). PatObject is treated as always matching: its fields
// are bound directly by name, with no tag to test against.
func (c *Compiler) testAndBindMatchPattern(fc *funcCtx, p ast.Pattern, scrutineeIdx int, failLabel unit.Label) error {
	switch pt := p.(type) {
	case *ast.PatLit:
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: scrutineeIdx}, pt.Span())
		if err := c.emitLit(fc, pt.Lit); err != nil {
			return err
		}
		fc.emit(vm.Instruction{Op: vm.Eq}, pt.Span())
		fc.asm.JumpIfNot(failLabel, pt.Span())
		return nil

	case *ast.PatObject:
		names := make([]string, 0, len(pt.Fields))
		for name := range pt.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sub := pt.Fields[name]
			bindName, ok := sub.(*ast.PatBinding)
			if !ok {
				return errAt(pt.Span(), "unsupported nested pattern for object field %q", name)
			}
			slot, err := c.unit.NewStaticString(name)
			if err != nil {
				return err
			}
			fc.emit(vm.Instruction{Op: vm.LoadLocal, N: scrutineeIdx}, pt.Span())
			fc.emit(vm.Instruction{Op: vm.ObjectGetField, Slot: slot}, pt.Span())
			fc.scope.declare(bindName.Name, fc.nextLocal)
			fc.nextLocal++
		}
		return nil

	case *ast.PatTuple:
		if !pt.HasType {
			return c.testAndBindElems(fc, pt.Elems, scrutineeIdx, false, 0, 0, failLabel, pt.Span())
		}
		target, ok := c.lookupTarget(pt.TypePath)
		if !ok || target.kind != callStruct {
			return errAt(pt.Span(), "unresolved struct type %q in pattern", pt.TypePath)
		}
		return c.testAndBindElems(fc, pt.Elems, scrutineeIdx, true, vm.CheckTypedTuple, target.hash, failLabel, pt.Span())

	case *ast.PatVariant:
		target, ok := c.lookupTarget(pt.EnumPath.Join(pt.VariantName))
		if !ok || target.kind != callVariant {
			return errAt(pt.Span(), "unresolved enum variant %q in pattern", pt.VariantName)
		}
		return c.testAndBindElems(fc, pt.Elems, scrutineeIdx, true, vm.CheckVariant, target.hash, failLabel, pt.Span())

	default:
		return errAt(p.Span(), "unsupported pattern")
	}
}

// testAndBindElems compiles a tag check (if hasTag), followed by any
// literal-element tests, followed by binding every PatBinding element.
// Every LoadLocal re-reads the named scrutineeIdx local directly
// rather than threading a duplicated value through the tests, since a
// Value is a small, cheaply-copied handle (composites carry a shared
// pointer) — so no Dup/Pop bookkeeping is needed for the
// (self-balancing) literal-element tests. The tag check alone peeks
// rather than pops, so it alone needs an explicit cleanup pop on both
// its pass and fail paths.
func (c *Compiler) testAndBindElems(fc *funcCtx, elems []ast.Pattern, scrutineeIdx int, hasTag bool, checkOp vm.InstOp, tagHash item.Hash, failLabel unit.Label, span item.Span) error {
	if hasTag {
		tagFail := fc.asm.NewLabel("pattern_tag_fail")
		tagOk := fc.asm.NewLabel("pattern_tag_ok")
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: scrutineeIdx}, span)
		fc.emit(vm.Instruction{Op: checkOp, Hash: tagHash}, span)
		fc.asm.JumpIfNot(tagFail, span)
		fc.emit(vm.Instruction{Op: vm.Pop}, span)
		fc.asm.Jump(tagOk, span)
		if _, err := fc.asm.Label(tagFail); err != nil {
			return err
		}
		fc.emit(vm.Instruction{Op: vm.Pop}, span)
		fc.asm.Jump(failLabel, span)
		if _, err := fc.asm.Label(tagOk); err != nil {
			return err
		}
	}

	for idx, el := range elems {
		lit, ok := el.(*ast.PatLit)
		if !ok {
			continue
		}
		fc.emit(vm.Instruction{Op: vm.LoadLocal, N: scrutineeIdx}, span)
		fc.emit(vm.Instruction{Op: vm.TupleGet, N: idx}, span)
		if err := c.emitLit(fc, lit.Lit); err != nil {
			return err
		}
		fc.emit(vm.Instruction{Op: vm.Eq}, span)
		fc.asm.JumpIfNot(failLabel, span)
	}

	for idx, el := range elems {
		switch p := el.(type) {
		case *ast.PatBinding:
			fc.emit(vm.Instruction{Op: vm.LoadLocal, N: scrutineeIdx}, span)
			fc.emit(vm.Instruction{Op: vm.TupleGet, N: idx}, span)
			fc.scope.declare(p.Name, fc.nextLocal)
			fc.nextLocal++
		case *ast.PatIgnore, *ast.PatLit:
			// Nothing to bind.
		default:
			return errAt(p.Span(), "unsupported nested pattern")
		}
	}
	return nil
}

// callTargetKind distinguishes the three shapes a resolved bare name
// can compile to.
type callTargetKind int

const (
	callFn callTargetKind = iota
	callStruct
	callVariant
)

// callTarget is what resolvePath/lookupTarget produce: enough to emit
// either a static OpCall (callFn), a MakeTypedTuple (callStruct), or a
// MakeVariant (callVariant) at a call site, or a MakeFn when the name
// is referenced as a value rather than called.
type callTarget struct {
	kind       callTargetKind
	hash       item.Hash
	enumHash   item.Hash
	convention query.CallingConvention
	args       int
}

// resolvePath resolves a bare name against the unit's import table,
// then (for names not explicitly imported) against every entry the
// indexer discovered, matching on the entry's own path's final
// component. This is a deliberate simplification in place of a real
// name-resolution pass — out of scope given the minimal AST has no
// resolved-reference node of its own — but is sufficient for a single
// unit with no shadowing of top-level declarations by import aliases.
func (c *Compiler) resolvePath(name string) (callTarget, bool) {
	if target, ok := c.unit.LookupImportByName(name); ok {
		if t, ok2 := c.lookupTarget(target); ok2 {
			return t, true
		}
		// Imported but not found in this unit's own query: assume it
		// names a context-registered native function. The linker, not
		// the compiler, is responsible for catching a genuinely missing
		// target.
		return callTarget{kind: callFn, hash: item.Function(target), convention: query.Immediate}, true
	}

	for _, e := range c.query.InOrder() {
		last, ok := e.Path.Last()
		if !ok || last != name {
			continue
		}
		if t, ok := c.targetForEntry(e); ok {
			return t, true
		}
	}
	return callTarget{}, false
}

// lookupTarget resolves a fully-qualified path directly, used where
// the pattern already names its target precisely (a typed tuple
// pattern's type path, a variant pattern's enum+variant path) and a
// bare-name scan would risk matching the wrong declaration.
func (c *Compiler) lookupTarget(path item.Item) (callTarget, bool) {
	e, ok := c.query.Lookup(path)
	if !ok {
		return callTarget{}, false
	}
	return c.targetForEntry(e)
}

func (c *Compiler) targetForEntry(e *query.IndexedEntry) (callTarget, bool) {
	switch e.Kind {
	case query.IndexedFn:
		return callTarget{kind: callFn, hash: item.Function(e.Path), convention: e.Convention, args: len(e.Fn.Args)}, true
	case query.IndexedStruct:
		if e.Struct != nil && e.Struct.IsTuple {
			return callTarget{kind: callStruct, hash: item.Function(e.Path), args: len(e.Struct.Fields)}, true
		}
		return callTarget{}, false
	case query.IndexedEnum:
		if e.Enum == nil {
			return callTarget{}, false
		}
		last, _ := e.Path.Last()
		for _, variant := range e.Enum.Variants {
			if variant.Name == last && variant.IsTuple {
				comps := e.Path.Components()
				enumPath := item.Of(comps[:len(comps)-1]...)
				return callTarget{kind: callVariant, hash: item.Function(e.Path), enumHash: item.Type(enumPath), args: len(variant.Fields)}, true
			}
		}
		return callTarget{}, false
	default:
		return callTarget{}, false
	}
}
