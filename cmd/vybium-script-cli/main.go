// Command vybium-script-cli is a minimal embedder of vybium-script-vm:
// it hand-assembles a small program's AST (there is no tokenizer or
// parser in this module — embedding starts downstream of one), builds
// and links it into a Script, and runs the requested entry function to
// completion, printing the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	vybiumscriptvm "github.com/vybium/vybium-script-vm/pkg/vybium-script-vm"
)

func main() {
	entry := flag.String("entry", "fib", "demo program to run: fib, sum")
	n := flag.Int64("n", 10, "input argument to the demo program")
	flag.Parse()

	file, err := demoProgram(*entry, *n)
	if err != nil {
		fatal(err.Error())
	}

	rt := vybiumscriptvm.NewRuntime()
	script, err := vybiumscriptvm.Build(vybiumscriptvm.DefaultConfig(), rt, []*ast.File{file})
	if err != nil {
		fatal(fmt.Sprintf("building script: %v", err))
	}

	machine, err := vybiumscriptvm.NewVM(rt, script, "main")
	if err != nil {
		fatal(fmt.Sprintf("creating VM: %v", err))
	}

	logStderr(fmt.Sprintf("running %q(%d)", *entry, *n))
	result, err := machine.RunToCompletion(context.Background())
	if err != nil {
		fatal(fmt.Sprintf("running script: %v", err))
	}

	got, _ := result.AsInteger()
	fmt.Println(got)
}

// demoProgram hand-builds the AST for one of a small set of named
// sample programs, standing in for what a tokenizer/parser would
// otherwise produce from source text.
func demoProgram(name string, n int64) (*ast.File, error) {
	switch name {
	case "fib":
		return fibFile(n), nil
	case "sum":
		return sumFile(n), nil
	default:
		return nil, fmt.Errorf("unknown demo program %q (want fib or sum)", name)
	}
}

func lit(v int64) *ast.LitExpr { return &ast.LitExpr{Kind: ast.LitInt, Int: v} }
func path(name string) *ast.PathExpr { return &ast.PathExpr{Name: name} }

// fibFile builds: fn fib(n) { if n < 2 { n } else { fib(n-1) + fib(n-2) } }
// fn main() { fib(arg) }
func fibFile(arg int64) *ast.File {
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
		Body: &ast.Block{Tail: &ast.CallExpr{Target: path("fib"), Args: []ast.Expr{lit(arg)}}},
	}
	return &ast.File{Decls: []ast.Decl{fib, main}}
}

// sumFile builds: fn sum(n) { if n == 0 { 0 } else { n + sum(n-1) } }
// fn main() { sum(arg) }
func sumFile(arg int64) *ast.File {
	sum := &ast.FnDecl{
		Name: "sum",
		Args: []ast.FnArg{{Name: "n"}},
		Body: &ast.Block{
			Tail: &ast.IfExpr{
				Cond: &ast.BinaryExpr{Op: ast.OpEq, Left: path("n"), Right: lit(0)},
				Then: &ast.Block{Tail: lit(0)},
				Else: &ast.Block{Tail: &ast.BinaryExpr{
					Op:   ast.OpAdd,
					Left: path("n"),
					Right: &ast.CallExpr{Target: path("sum"), Args: []ast.Expr{
						&ast.BinaryExpr{Op: ast.OpSub, Left: path("n"), Right: lit(1)},
					}},
				}},
			},
		},
	}
	main := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{Tail: &ast.CallExpr{Target: path("sum"), Args: []ast.Expr{lit(arg)}}},
	}
	return &ast.File{Decls: []ast.Decl{sum, main}}
}

func logStderr(msg string) {
	fmt.Fprintln(os.Stderr, "vybium-script-vm:", msg)
}

func fatal(msg string) {
	logStderr("ERROR: " + msg)
	os.Exit(1)
}
