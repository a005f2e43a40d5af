// Package index implements the two-phase indexer: a first pass that
// walks an AST to discover every declaration (functions, closures,
// async blocks, enums/variants, structs, impls, imports, file modules)
// and populate scope/capture/calling-convention metadata, followed by
// a second pass that resolves deferred imports once the whole unit
// (and its file-module children) has been indexed.
package index

import (
	"fmt"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/diag"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/query"
)

// ErrorKind classifies an indexer Error, matching spec §7's index/
// resolve error kinds.
type ErrorKind int

const (
	KindUnsupported ErrorKind = iota
	KindDuplicate
)

func (k ErrorKind) String() string {
	switch k {
	case KindDuplicate:
		return "duplicate"
	default:
		return "unsupported"
	}
}

// Error is the indexer's error taxonomy, matching spec §7's
// index/resolve error kinds.
type Error struct {
	Kind ErrorKind
	Span item.Span
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func errAt(span item.Span, format string, args ...interface{}) error {
	return errKindAt(KindUnsupported, span, format, args...)
}

func errKindAt(kind ErrorKind, span item.Span, format string, args ...interface{}) error {
	return &Error{Kind: kind, Span: span, Msg: fmt.Sprintf("%s (at %s)", fmt.Sprintf(format, args...), span)}
}

// Indexer walks one or more file ASTs, accumulating a Query table,
// compiler Warnings, a queue of deferred imports, and a record of
// every file module's source identifier (to reject duplicate loads of
// the same underlying file).
type Indexer struct {
	query    *query.Query
	warnings *diag.Warnings
	imports  []query.PendingImport
	macros   []query.MacroSnapshot
	loaded   map[string]bool
}

// New constructs an empty Indexer.
func New() *Indexer {
	return &Indexer{
		query:    query.NewQuery(),
		warnings: diag.New(),
		loaded:   map[string]bool{},
	}
}

// Query returns the table of every declaration discovered so far.
func (ix *Indexer) Query() *query.Query { return ix.query }

// Warnings returns the diagnostics collected so far.
func (ix *Indexer) Warnings() *diag.Warnings { return ix.warnings }

// PendingImports returns the deferred import queue.
func (ix *Indexer) PendingImports() []query.PendingImport { return ix.imports }

// IndexFile runs phase one of indexing over a single file, rooted at
// the given item path prefix (empty for the root/main file).
func (ix *Indexer) IndexFile(root item.Item, f *ast.File) error {
	items := query.NewItems()
	for _, c := range root.Components() {
		items.Push(c)
	}
	for _, decl := range f.Decls {
		if err := ix.indexDecl(items, decl); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) indexDecl(items *query.Items, decl ast.Decl) error {
	switch d := decl.(type) {
	case *ast.FnDecl:
		return ix.indexFn(items, d, false)
	case *ast.ImplBlock:
		return ix.indexImpl(items, d)
	case *ast.StructDecl:
		return ix.indexStruct(items, d)
	case *ast.EnumDecl:
		return ix.indexEnum(items, d)
	case *ast.ImportDecl:
		ix.indexImport(items, d)
		return nil
	case *ast.ModDecl:
		return ix.indexMod(items, d)
	default:
		return errAt(decl.Span(), "unsupported top-level declaration")
	}
}

func (ix *Indexer) indexFn(items *query.Items, fn *ast.FnDecl, instance bool) error {
	if fn.HasSelf && !instance {
		return errAt(fn.Span(), "unsupported self parameter outside of an impl block")
	}
	if instance && !fn.HasSelf {
		// Instance functions declared inside an impl block but lacking
		// a self receiver are indexed as associated (static) functions,
		// matching the original's distinction; nothing further to check.
	}

	pop := items.Push(fn.Name)
	defer pop()

	path := items.Item()

	scopes := query.NewScopes()
	for _, arg := range fn.Args {
		scopes.Declare(arg.Name, arg.Span)
	}
	isGenerator, isAsync, err := ix.indexBlock(items, scopes, fn.Body, fn.IsAsync)
	if err != nil {
		return err
	}

	conv := query.DeriveCallingConvention(isGenerator, isAsync)

	ix.query.Insert(path, &query.IndexedEntry{
		Kind:       query.IndexedFn,
		Fn:         fn,
		Convention: conv,
	})
	return nil
}

func (ix *Indexer) indexImpl(items *query.Items, impl *ast.ImplBlock) error {
	pop := items.Push(impl.Path.String())
	defer pop()

	for _, fn := range impl.Fns {
		if err := ix.indexFn(items, fn, true); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) indexStruct(items *query.Items, s *ast.StructDecl) error {
	pop := items.Push(s.Name)
	defer pop()

	ix.query.Insert(items.Item(), &query.IndexedEntry{Kind: query.IndexedStruct, Struct: s})
	return nil
}

func (ix *Indexer) indexEnum(items *query.Items, e *ast.EnumDecl) error {
	pop := items.Push(e.Name)
	defer pop()

	enumPath := items.Item()
	ix.query.Insert(enumPath, &query.IndexedEntry{Kind: query.IndexedEnum, Enum: e})

	for _, v := range e.Variants {
		popV := items.Push(v.Name)
		ix.query.Insert(items.Item(), &query.IndexedEntry{Kind: query.IndexedEnum, Enum: e})
		popV()
	}
	return nil
}

func (ix *Indexer) indexImport(items *query.Items, im *ast.ImportDecl) {
	name, _ := im.Path.Last()
	ix.imports = append(ix.imports, query.PendingImport{
		Name:     name,
		Target:   im.Path,
		Wildcard: im.Wildcard,
		Span:     im.Span(),
	})
}

func (ix *Indexer) indexMod(items *query.Items, m *ast.ModDecl) error {
	if ix.loaded[m.Source] {
		return errKindAt(KindDuplicate, m.Span(), "file module %q already loaded", m.Source)
	}
	ix.loaded[m.Source] = true

	if m.File == nil {
		return errAt(m.Span(), "unsupported file module %q with no backing source", m.Name)
	}

	pop := items.Push(m.Name)
	defer pop()

	for _, decl := range m.File.Decls {
		if err := ix.indexDecl(items, decl); err != nil {
			return err
		}
	}
	return nil
}

// indexBlock walks a function body to discover nested closures, async
// blocks and yield/await expressions, returning whether the body
// itself contains a yield (making it a generator) and/or an await or
// async marker (making it async).
func (ix *Indexer) indexBlock(items *query.Items, scopes *query.Scopes, b *ast.Block, declaredAsync bool) (isGenerator bool, isAsync bool, err error) {
	isAsync = declaredAsync
	pop := scopes.PushBlock()
	defer func() {
		for _, u := range pop() {
			ix.warnings.NotUsed(u.Span, b.Span(), true)
		}
	}()

	for _, stmt := range b.Stmts {
		g, a, err := ix.indexStmt(items, scopes, stmt)
		if err != nil {
			return false, false, err
		}
		isGenerator = isGenerator || g
		isAsync = isAsync || a
	}
	if b.Tail != nil {
		g, a, err := ix.indexExpr(items, scopes, b.Tail)
		if err != nil {
			return false, false, err
		}
		isGenerator = isGenerator || g
		isAsync = isAsync || a
	}
	return isGenerator, isAsync, nil
}

func (ix *Indexer) indexStmt(items *query.Items, scopes *query.Scopes, stmt ast.Stmt) (isGenerator, isAsync bool, err error) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		isGenerator, isAsync, err = ix.indexExpr(items, scopes, s.Value)
		if err != nil {
			return false, false, err
		}
		if name, ok := s.Pattern.(*ast.PatBinding); ok {
			scopes.Declare(name.Name, name.Span())
		}
		if !ast.IsIrrefutable(s.Pattern) {
			ix.warnings.LetPatternMightPanic(s.Pattern.Span(), s.Span(), true)
		}
		return isGenerator, isAsync, nil
	case *ast.ExprStmt:
		return ix.indexExpr(items, scopes, s.Value)
	case *ast.ItemStmt:
		return false, false, ix.indexDecl(items, s.Decl)
	default:
		return false, false, errAt(stmt.Span(), "unsupported statement")
	}
}

func (ix *Indexer) indexExpr(items *query.Items, scopes *query.Scopes, e ast.Expr) (isGenerator, isAsync bool, err error) {
	if e == nil {
		return false, false, nil
	}

	switch v := e.(type) {
	case *ast.LitExpr:
		return false, false, nil
	case *ast.PathExpr:
		scopes.Mark(v.Name)
		return false, false, nil
	case *ast.BinaryExpr:
		return ix.indexExprPair(items, scopes, v.Left, v.Right)
	case *ast.CallExpr:
		g, a, err := ix.indexExpr(items, scopes, v.Target)
		if err != nil {
			return false, false, err
		}
		for _, arg := range v.Args {
			g2, a2, err := ix.indexExpr(items, scopes, arg)
			if err != nil {
				return false, false, err
			}
			g, a = g || g2, a || a2
		}
		return g, a, nil
	case *ast.IfExpr:
		g, a, err := ix.indexExpr(items, scopes, v.Cond)
		if err != nil {
			return false, false, err
		}
		g2, a2, err := ix.indexBlock(items, scopes, v.Then, false)
		if err != nil {
			return false, false, err
		}
		g, a = g || g2, a || a2
		if v.Else != nil {
			g3, a3, err := ix.indexBlock(items, scopes, v.Else, false)
			if err != nil {
				return false, false, err
			}
			g, a = g || g3, a || a3
		}
		return g, a, nil
	case *ast.WhileExpr:
		g, a, err := ix.indexExpr(items, scopes, v.Cond)
		if err != nil {
			return false, false, err
		}
		g2, a2, err := ix.indexBlock(items, scopes, v.Body, false)
		return g || g2, a || a2, err
	case *ast.LoopExpr:
		return ix.indexBlock(items, scopes, v.Body, false)
	case *ast.BreakExpr:
		return ix.indexExpr(items, scopes, v.Value)
	case *ast.ReturnExpr:
		return ix.indexExpr(items, scopes, v.Value)
	case *ast.BlockExpr:
		return ix.indexBlock(items, scopes, v.Body, false)
	case *ast.YieldExpr:
		_, _, err := ix.indexExpr(items, scopes, v.Value)
		return true, false, err
	case *ast.AwaitExpr:
		_, _, err := ix.indexExpr(items, scopes, v.Value)
		return false, true, err
	case *ast.ClosureExpr:
		if err := ix.indexNestedFn(items, scopes, v.Fn); err != nil {
			return false, false, err
		}
		return false, false, nil
	case *ast.AsyncBlockExpr:
		if err := ix.indexNestedFn(items, scopes, v.Fn); err != nil {
			return false, false, err
		}
		return false, true, nil
	case *ast.MatchExpr:
		g, a, err := ix.indexExpr(items, scopes, v.Value)
		if err != nil {
			return false, false, err
		}
		for _, arm := range v.Arms {
			popB := scopes.PushBlock()
			bindPatternNames(scopes, arm.Pattern)
			if arm.Guard != nil {
				g2, a2, err := ix.indexExpr(items, scopes, arm.Guard)
				if err != nil {
					for _, u := range popB() {
						ix.warnings.NotUsed(u.Span, arm.Pattern.Span(), true)
					}
					return false, false, err
				}
				g, a = g || g2, a || a2
			}
			g2, a2, err := ix.indexExpr(items, scopes, arm.Body)
			for _, u := range popB() {
				ix.warnings.NotUsed(u.Span, arm.Pattern.Span(), true)
			}
			if err != nil {
				return false, false, err
			}
			g, a = g || g2, a || a2
		}
		return g, a, nil
	case *ast.SelectExpr:
		var g, a bool
		for _, arm := range v.Arms {
			g1, a1, err := ix.indexExpr(items, scopes, arm.Future)
			if err != nil {
				return false, false, err
			}
			popB := scopes.PushBlock()
			bindPatternNames(scopes, arm.Pattern)
			g2, a2, err := ix.indexBlock(items, scopes, arm.Body, false)
			for _, u := range popB() {
				ix.warnings.NotUsed(u.Span, arm.Pattern.Span(), true)
			}
			if err != nil {
				return false, false, err
			}
			g = g || g1 || g2
			a = a || a1 || a2
		}
		return g, true, nil
	case *ast.VecExpr:
		return ix.indexExprList(items, scopes, v.Elems)
	case *ast.TupleExpr:
		return ix.indexExprList(items, scopes, v.Elems)
	case *ast.ObjectExpr:
		return ix.indexExprList(items, scopes, v.Values)
	default:
		return false, false, errAt(e.Span(), "unsupported expression")
	}
}

func (ix *Indexer) indexExprPair(items *query.Items, scopes *query.Scopes, a, b ast.Expr) (bool, bool, error) {
	g1, a1, err := ix.indexExpr(items, scopes, a)
	if err != nil {
		return false, false, err
	}
	g2, a2, err := ix.indexExpr(items, scopes, b)
	if err != nil {
		return false, false, err
	}
	return g1 || g2, a1 || a2, nil
}

func (ix *Indexer) indexExprList(items *query.Items, scopes *query.Scopes, es []ast.Expr) (bool, bool, error) {
	var g, a bool
	for _, e := range es {
		g2, a2, err := ix.indexExpr(items, scopes, e)
		if err != nil {
			return false, false, err
		}
		g, a = g || g2, a || a2
	}
	return g, a, nil
}

func bindPatternNames(scopes *query.Scopes, p ast.Pattern) {
	switch pt := p.(type) {
	case *ast.PatBinding:
		scopes.Declare(pt.Name, pt.Span())
	case *ast.PatTuple:
		for _, el := range pt.Elems {
			bindPatternNames(scopes, el)
		}
	case *ast.PatVariant:
		for _, el := range pt.Elems {
			bindPatternNames(scopes, el)
		}
	case *ast.PatObject:
		for _, el := range pt.Fields {
			bindPatternNames(scopes, el)
		}
	}
}

// indexNestedFn indexes a closure or async-block body inside a fresh
// function scope, then records the sorted capture set and calling
// convention on the nested FnDecl's query entry.
func (ix *Indexer) indexNestedFn(items *query.Items, scopes *query.Scopes, fn *ast.FnDecl) error {
	if fn.HasSelf {
		return errAt(fn.Span(), "unsupported self parameter on a closure")
	}
	anonName := fmt.Sprintf("{closure#%d}", len(ix.query.InOrder()))
	if fn.Name != "" {
		anonName = fn.Name
	}
	pop := items.Push(anonName)
	defer pop()

	path := items.Item()

	popFn := scopes.PushFunction()
	for _, arg := range fn.Args {
		scopes.Declare(arg.Name, arg.Span)
	}
	isGenerator, isAsync, err := ix.indexBlock(items, scopes, fn.Body, fn.IsAsync)
	captures := scopes.Captures()
	for _, u := range popFn() {
		ix.warnings.NotUsed(u.Span, fn.Body.Span(), true)
	}
	if err != nil {
		return err
	}

	fn.CaptureNames = captures
	conv := query.DeriveCallingConvention(isGenerator, isAsync || fn.IsAsync)

	kind := query.IndexedClosure
	if fn.IsAsync {
		kind = query.IndexedAsyncBlock
	}

	ix.query.Insert(path, &query.IndexedEntry{
		Kind:       kind,
		Fn:         fn,
		Captures:   captures,
		Convention: conv,
	})
	return nil
}
