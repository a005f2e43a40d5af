package compiler

import (
	"context"
	"testing"

	vctx "github.com/vybium/vybium-script-vm/internal/vybium-script-vm/context"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/diag"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/index"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/vm"
)

// compileFile runs the full index -> compile -> link pipeline over a
// hand-built file AST and returns the linked unit, ready to run.
func compileFile(t *testing.T, f *ast.File) *unit.Unit {
	t.Helper()

	ix := index.New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	u := unit.New()
	c := New(ix.Query(), u)
	if err := c.CompileAll(); err != nil {
		t.Fatalf("CompileAll() failed: %v", err)
	}

	linker := unit.NewLinker()
	if ok := u.Link(func(item.Hash) bool { return false }, linker); !ok {
		t.Fatalf("Link() failed: %v", linker.Errors())
	}
	return u
}

func runMain(t *testing.T, u *unit.Unit) (int64, bool) {
	t.Helper()
	info, ok := u.Lookup(item.Function(item.Of("main")))
	if !ok {
		t.Fatal("expected main to be registered")
	}
	m := vm.New(vctx.New(), u)
	m.SetIP(info.Offset)
	result, reason, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if reason != nil {
		t.Fatalf("expected no suspension, got %+v", reason)
	}
	return result.AsInteger()
}

// runMainCtx drives main through RunWithContext rather than Run, which
// (unlike Run) resolves any StopAwait/StopCallVm suspension inline —
// needed for bodies that await a future, since awaiting always
// suspends the raw dispatch loop once before the top-level driver
// resumes it with the resolved value.
func runMainCtx(t *testing.T, u *unit.Unit) (int64, bool) {
	t.Helper()
	info, ok := u.Lookup(item.Function(item.Of("main")))
	if !ok {
		t.Fatal("expected main to be registered")
	}
	m := vm.New(vctx.New(), u)
	m.SetIP(info.Offset)
	result, err := m.RunWithContext(context.Background())
	if err != nil {
		t.Fatalf("RunWithContext() failed: %v", err)
	}
	return result.AsInteger()
}

func lit(n int64) *ast.LitExpr {
	return &ast.LitExpr{Kind: ast.LitInt, Int: n}
}

func path(name string) *ast.PathExpr {
	return &ast.PathExpr{Name: name}
}

func mainFile(body *ast.Block) *ast.File {
	return &ast.File{Decls: []ast.Decl{
		&ast.FnDecl{Name: "main", Body: body},
	}}
}

func TestCompileArithmetic(t *testing.T) {
	body := &ast.Block{
		Tail: &ast.BinaryExpr{Op: ast.OpAdd, Left: lit(2), Right: lit(3)},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMain(t, u)
	if !ok || got != 5 {
		t.Errorf("result = %v, want integer 5", got)
	}
}

func TestCompileIfElse(t *testing.T) {
	body := &ast.Block{
		Tail: &ast.IfExpr{
			Cond: &ast.LitExpr{Kind: ast.LitBool, Bool: false},
			Then: &ast.Block{Tail: lit(1)},
			Else: &ast.Block{Tail: lit(2)},
		},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMain(t, u)
	if !ok || got != 2 {
		t.Errorf("result = %v, want integer 2 (else branch)", got)
	}
}

// TestCompileWhileLoopBreak runs a while loop whose body breaks on its
// first iteration, then breaks out of an unconditional loop with an explicit result value, exercising
// both constructs' exit-slot threading in one function.
func TestCompileWhileLoopBreak(t *testing.T) {
	body := &ast.Block{
		Stmts: []ast.Stmt{
			&ast.LetStmt{Pattern: &ast.PatBinding{Name: "i"}, Value: lit(0)},
			&ast.LetStmt{Pattern: &ast.PatBinding{Name: "sum"}, Value: lit(0)},
			&ast.ExprStmt{Value: &ast.WhileExpr{
				Cond: &ast.BinaryExpr{Op: ast.OpLt, Left: path("i"), Right: lit(4)},
				Body: &ast.Block{
					Stmts: []ast.Stmt{
						&ast.ExprStmt{Value: &ast.BreakExpr{}},
					},
					Tail: nil,
				},
			}},
		},
		Tail: &ast.LoopExpr{
			Body: &ast.Block{
				Tail: &ast.BreakExpr{Value: lit(42)},
			},
		},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMain(t, u)
	if !ok || got != 42 {
		t.Errorf("result = %v, want integer 42", got)
	}
}

// TestCompileRecursiveCall exercises a static call to another declared
// function, including a forward self-reference resolved by hash at
// link time rather than by two-pass offset reservation.
func TestCompileRecursiveCall(t *testing.T) {
	// fn fib(n) { if n < 2 { n } else { fib(n-1) + fib(n-2) } }
	// fn main() { fib(6) }
	fib := &ast.FnDecl{
		Name: "fib",
		Args: []ast.FnArg{{Name: "n"}},
		Body: &ast.Block{
			Tail: &ast.IfExpr{
				Cond: &ast.BinaryExpr{Op: ast.OpLt, Left: path("n"), Right: lit(2)},
				Then: &ast.Block{Tail: path("n")},
				Else: &ast.Block{Tail: &ast.BinaryExpr{
					Op: ast.OpAdd,
					Left: &ast.CallExpr{Target: path("fib"), Args: []ast.Expr{
						&ast.BinaryExpr{Op: ast.OpSub, Left: path("n"), Right: lit(1)},
					}},
					Right: &ast.CallExpr{Target: path("fib"), Args: []ast.Expr{
						&ast.BinaryExpr{Op: ast.OpSub, Left: path("n"), Right: lit(2)},
					}},
				}},
			},
		},
	}
	main := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{
			Tail: &ast.CallExpr{Target: path("fib"), Args: []ast.Expr{lit(6)}},
		},
	}
	f := &ast.File{Decls: []ast.Decl{fib, main}}
	u := compileFile(t, f)

	got, ok := runMain(t, u)
	if !ok || got != 8 {
		t.Errorf("result = %v, want integer 8 (fib(6))", got)
	}
}

// TestCompileClosureCapture builds a closure over an outer local and
// calls it via CallDynamic.
func TestCompileClosureCapture(t *testing.T) {
	closureFn := &ast.FnDecl{
		IsClosure: true,
		Args:      []ast.FnArg{{Name: "x"}},
		Body: &ast.Block{
			Tail: &ast.BinaryExpr{Op: ast.OpAdd, Left: path("x"), Right: path("offset")},
		},
	}
	body := &ast.Block{
		Stmts: []ast.Stmt{
			&ast.LetStmt{Pattern: &ast.PatBinding{Name: "offset"}, Value: lit(10)},
			&ast.LetStmt{Pattern: &ast.PatBinding{Name: "addOffset"}, Value: &ast.ClosureExpr{Fn: closureFn}},
		},
		Tail: &ast.CallExpr{Target: path("addOffset"), Args: []ast.Expr{lit(5)}},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMain(t, u)
	if !ok || got != 15 {
		t.Errorf("result = %v, want integer 15 (5 + captured 10)", got)
	}
}

// TestCompileStructConstructorAndTuplePatternMatch builds a tuple
// struct, constructs one via a call expression, then destructures it
// with a typed-tuple match pattern.
func TestCompileStructConstructorAndTuplePatternMatch(t *testing.T) {
	pointStruct := &ast.StructDecl{Name: "Point", Fields: []string{"0", "1"}, IsTuple: true}
	main := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.LetStmt{
					Pattern: &ast.PatBinding{Name: "p"},
					Value: &ast.CallExpr{
						Target: path("Point"),
						Args:   []ast.Expr{lit(3), lit(4)},
					},
				},
			},
			Tail: &ast.MatchExpr{
				Value: path("p"),
				Arms: []ast.MatchArm{
					{
						Pattern: &ast.PatTuple{
							TypePath: item.Of("Point"),
							HasType:  true,
							Elems: []ast.Pattern{
								&ast.PatBinding{Name: "x"},
								&ast.PatBinding{Name: "y"},
							},
						},
						Body: &ast.BinaryExpr{Op: ast.OpAdd, Left: path("x"), Right: path("y")},
					},
				},
			},
		},
	}
	f := &ast.File{Decls: []ast.Decl{pointStruct, main}}
	u := compileFile(t, f)

	got, ok := runMain(t, u)
	if !ok || got != 7 {
		t.Errorf("result = %v, want integer 7 (3 + 4 via destructured Point)", got)
	}
}

// TestCompileEnumVariantMatchWithGuard builds an enum with a tuple
// variant, constructs it, and matches it with a guard clause that
// rejects the first arm.
func TestCompileEnumVariantMatchWithGuard(t *testing.T) {
	option := &ast.EnumDecl{Name: "Option", Variants: []ast.EnumVariant{
		{Name: "Some", Fields: []string{"0"}, IsTuple: true},
	}}
	main := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.LetStmt{
					Pattern: &ast.PatBinding{Name: "v"},
					Value: &ast.CallExpr{
						Target: &ast.PathExpr{Name: "Some"},
						Args:   []ast.Expr{lit(9)},
					},
				},
			},
			Tail: &ast.MatchExpr{
				Value: path("v"),
				Arms: []ast.MatchArm{
					{
						Pattern: &ast.PatVariant{
							EnumPath:    item.Of("Option"),
							VariantName: "Some",
							Elems:       []ast.Pattern{&ast.PatBinding{Name: "n"}},
						},
						Guard: &ast.BinaryExpr{Op: ast.OpGt, Left: path("n"), Right: lit(100)},
						Body:  lit(0),
					},
					{
						Pattern: &ast.PatVariant{
							EnumPath:    item.Of("Option"),
							VariantName: "Some",
							Elems:       []ast.Pattern{&ast.PatBinding{Name: "n"}},
						},
						Body: &ast.BinaryExpr{Op: ast.OpMul, Left: path("n"), Right: lit(2)},
					},
				},
			},
		},
	}
	f := &ast.File{Decls: []ast.Decl{option, main}}
	u := compileFile(t, f)

	got, ok := runMain(t, u)
	if !ok || got != 18 {
		t.Errorf("result = %v, want integer 18 (guard on first arm rejected, second arm doubles 9)", got)
	}
}

// TestCompileAsyncBlockAwait exercises async-block construction (an
// eagerly invoked closure) followed by an await.
func TestCompileAsyncBlockAwait(t *testing.T) {
	asyncFn := &ast.FnDecl{
		IsClosure: true,
		IsAsync:   true,
		Body:      &ast.Block{Tail: lit(7)},
	}
	body := &ast.Block{
		Tail: &ast.AwaitExpr{Value: &ast.AsyncBlockExpr{Fn: asyncFn}},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMainCtx(t, u)
	if !ok || got != 7 {
		t.Errorf("result = %v, want integer 7", got)
	}
}

// TestCompileSelectTakesFirstArm exercises select's documented
// "always the first arm" lowering under the synchronous await model.
func TestCompileSelectTakesFirstArm(t *testing.T) {
	firstFuture := &ast.FnDecl{IsClosure: true, IsAsync: true, Body: &ast.Block{Tail: lit(1)}}
	secondFuture := &ast.FnDecl{IsClosure: true, IsAsync: true, Body: &ast.Block{Tail: lit(2)}}
	body := &ast.Block{
		Tail: &ast.SelectExpr{
			Arms: []ast.SelectArm{
				{
					Pattern: &ast.PatBinding{Name: "r"},
					Future:  &ast.AsyncBlockExpr{Fn: firstFuture},
					Body:    &ast.Block{Tail: path("r")},
				},
				{
					Pattern: &ast.PatBinding{Name: "r"},
					Future:  &ast.AsyncBlockExpr{Fn: secondFuture},
					Body:    &ast.Block{Tail: path("r")},
				},
			},
		},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMainCtx(t, u)
	if !ok || got != 1 {
		t.Errorf("result = %v, want integer 1 (first arm, per source-order tie-break)", got)
	}
}

func TestCompileObjectLiteralAndFieldMatch(t *testing.T) {
	body := &ast.Block{
		Stmts: []ast.Stmt{
			&ast.LetStmt{
				Pattern: &ast.PatBinding{Name: "o"},
				Value: &ast.ObjectExpr{
					Keys:   []string{"b", "a"},
					Values: []ast.Expr{lit(2), lit(1)},
				},
			},
		},
		Tail: &ast.MatchExpr{
			Value: path("o"),
			Arms: []ast.MatchArm{
				{
					Pattern: &ast.PatObject{Fields: map[string]ast.Pattern{
						"a": &ast.PatBinding{Name: "a"},
						"b": &ast.PatBinding{Name: "b"},
					}},
					Body: &ast.BinaryExpr{Op: ast.OpAdd, Left: path("a"), Right: path("b")},
				},
			},
		},
	}
	u := compileFile(t, mainFile(body))

	got, ok := runMain(t, u)
	if !ok || got != 3 {
		t.Errorf("result = %v, want integer 3 (1 + 2)", got)
	}
}

// TestCompileTupleStructConstructorArityMismatchFails pins the §8
// boundary case: a zero-field tuple struct called with arguments must
// raise an arity error rather than silently building a malformed typed
// tuple.
func TestCompileTupleStructConstructorArityMismatchFails(t *testing.T) {
	empty := &ast.StructDecl{Name: "Empty", IsTuple: true}
	main := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{
			Tail: &ast.CallExpr{Target: path("Empty"), Args: []ast.Expr{lit(1), lit(2)}},
		},
	}
	f := &ast.File{Decls: []ast.Decl{empty, main}}

	ix := index.New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}
	c := New(ix.Query(), unit.New())
	if err := c.CompileAll(); err == nil {
		t.Fatal("expected CompileAll() to fail: Empty() declares 0 fields but is called with 2 args")
	}
}

// TestCompileZeroFieldVariantCallEmitsRemoveTupleCallParensWarning pins
// the RemoveTupleCallParens producer: calling a zero-field tuple
// variant's constructor with empty parens should warn that the parens
// are removable.
func TestCompileZeroFieldVariantCallEmitsRemoveTupleCallParensWarning(t *testing.T) {
	signal := &ast.EnumDecl{Name: "Signal", Variants: []ast.EnumVariant{
		{Name: "Go", IsTuple: true},
	}}
	main := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{
			Tail: &ast.CallExpr{Target: path("Go")},
		},
	}
	f := &ast.File{Decls: []ast.Decl{signal, main}}

	ix := index.New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}
	c := New(ix.Query(), unit.New())
	if err := c.CompileAll(); err != nil {
		t.Fatalf("CompileAll() failed: %v", err)
	}

	var found bool
	for _, w := range c.Warnings().All() {
		if w.Kind == diag.RemoveTupleCallParams {
			found = true
		}
	}
	if !found {
		t.Error("expected a RemoveTupleCallParens warning for the zero-field Go() call")
	}
}
