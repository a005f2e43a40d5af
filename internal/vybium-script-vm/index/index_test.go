package index

import (
	"testing"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/diag"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/query"
)

func TestIndexSimpleFunction(t *testing.T) {
	fn := &ast.FnDecl{
		Name: "fibonacci",
		Args: []ast.FnArg{{Name: "n"}},
		Body: &ast.Block{Tail: &ast.PathExpr{Name: "n"}},
	}
	f := &ast.File{Decls: []ast.Decl{fn}}

	ix := New()
	if err := ix.IndexFile(item.Of("main"), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	entry, ok := ix.Query().Lookup(item.Of("main", "fibonacci"))
	if !ok {
		t.Fatal("expected main::fibonacci to be indexed")
	}
	if entry.Convention != query.Immediate {
		t.Errorf("Convention = %v, want Immediate", entry.Convention)
	}
}

func TestIndexGeneratorFunction(t *testing.T) {
	fn := &ast.FnDecl{
		Name: "counter",
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.ExprStmt{Value: &ast.YieldExpr{Value: &ast.LitExpr{Kind: ast.LitInt, Int: 1}}},
			},
		},
	}
	f := &ast.File{Decls: []ast.Decl{fn}}

	ix := New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	entry, ok := ix.Query().Lookup(item.Of("counter"))
	if !ok {
		t.Fatal("expected counter to be indexed")
	}
	if entry.Convention != query.Generator {
		t.Errorf("Convention = %v, want Generator", entry.Convention)
	}
}

func TestIndexAsyncFunction(t *testing.T) {
	fn := &ast.FnDecl{
		Name:    "fetch",
		IsAsync: true,
		Body:    &ast.Block{},
	}
	f := &ast.File{Decls: []ast.Decl{fn}}

	ix := New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	entry, _ := ix.Query().Lookup(item.Of("fetch"))
	if entry.Convention != query.Async {
		t.Errorf("Convention = %v, want Async", entry.Convention)
	}
}

func TestIndexClosureCapture(t *testing.T) {
	outer := &ast.FnDecl{
		Name: "make_adder",
		Args: []ast.FnArg{{Name: "x"}},
		Body: &ast.Block{
			Tail: &ast.ClosureExpr{
				Fn: &ast.FnDecl{
					IsClosure: true,
					Args:      []ast.FnArg{{Name: "y"}},
					Body: &ast.Block{
						Tail: &ast.BinaryExpr{
							Op:    ast.OpAdd,
							Left:  &ast.PathExpr{Name: "x"},
							Right: &ast.PathExpr{Name: "y"},
						},
					},
				},
			},
		},
	}
	f := &ast.File{Decls: []ast.Decl{outer}}

	ix := New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	closure := outer.Body.Tail.(*ast.ClosureExpr).Fn
	if len(closure.CaptureNames) != 1 || closure.CaptureNames[0] != "x" {
		t.Errorf("CaptureNames = %v, want [x]", closure.CaptureNames)
	}
}

func TestIndexDuplicateModuleLoadRejected(t *testing.T) {
	child := &ast.File{}
	mod1 := &ast.ModDecl{Name: "shared", Source: "shared.rn", File: child}
	mod2 := &ast.ModDecl{Name: "shared2", Source: "shared.rn", File: child}
	f := &ast.File{Decls: []ast.Decl{mod1, mod2}}

	ix := New()
	err := ix.IndexFile(item.Empty(), f)
	if err == nil {
		t.Fatal("expected duplicate file-module load to be rejected")
	}
	idxErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error = %T, want *Error", err)
	}
	if idxErr.Kind != KindDuplicate {
		t.Errorf("Kind = %v, want KindDuplicate", idxErr.Kind)
	}
}

// TestIndexUnusedLetBindingWarns pins the NotUsed warning producer: a
// let binding that indexBlock's scope never sees Mark()ed before the
// block's scope pops should be reported.
func TestIndexUnusedLetBindingWarns(t *testing.T) {
	fn := &ast.FnDecl{
		Name: "main",
		Body: &ast.Block{
			Stmts: []ast.Stmt{
				&ast.LetStmt{Pattern: &ast.PatBinding{Name: "unused"}, Value: &ast.LitExpr{Kind: ast.LitInt, Int: 1}},
			},
			Tail: &ast.LitExpr{Kind: ast.LitInt, Int: 2},
		},
	}
	f := &ast.File{Decls: []ast.Decl{fn}}

	ix := New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	var found bool
	for _, w := range ix.Warnings().All() {
		if w.Kind == diag.NotUsed {
			found = true
		}
	}
	if !found {
		t.Error("expected a NotUsed warning for the never-referenced `unused` binding")
	}
}

func TestIndexImportRecordedAsPending(t *testing.T) {
	im := &ast.ImportDecl{Path: item.Of("std", "object", "Object")}
	f := &ast.File{Decls: []ast.Decl{im}}

	ix := New()
	if err := ix.IndexFile(item.Empty(), f); err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}

	pending := ix.PendingImports()
	if len(pending) != 1 || pending[0].Name != "Object" {
		t.Errorf("PendingImports() = %+v, want one entry named Object", pending)
	}
}
