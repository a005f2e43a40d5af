// Package query implements the indexer's scope bookkeeping: the item
// path scope stack, the lexical/capture scope stack, and the table of
// indexed-but-not-yet-compiled declarations that the compiler consults
// on demand.
package query

import (
	"sort"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/ast"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
)

// Items tracks the current item path as the indexer descends into
// nested declarations, mirroring the original's Items scope guard: a
// component is pushed on entry to a declaration and popped on exit.
type Items struct {
	stack []string
}

// NewItems constructs an empty item-path scope.
func NewItems() *Items { return &Items{} }

// Push enters a new path component, returning a function that pops it
// back off; callers are expected to `defer` the returned function.
func (it *Items) Push(component string) func() {
	it.stack = append(it.stack, component)
	return func() {
		it.stack = it.stack[:len(it.stack)-1]
	}
}

// Item returns the current, fully-qualified item path.
func (it *Items) Item() item.Item {
	return item.Of(it.stack...)
}

// CallingConvention is derived from a function declaration's
// generator/async markers, matching spec §4.3's
// (generator,is_async) → {Immediate,Generator,Async,Stream} table.
type CallingConvention int

const (
	Immediate CallingConvention = iota
	Generator
	Async
	Stream
)

// DeriveCallingConvention implements the table from spec §4.3: a
// function body is classified as a generator if it contains a yield
// expression, and/or async if declared `async` or containing an
// await/async-block. Stream is the generator+async combination.
func DeriveCallingConvention(isGenerator, isAsync bool) CallingConvention {
	switch {
	case isGenerator && isAsync:
		return Stream
	case isGenerator:
		return Generator
	case isAsync:
		return Async
	default:
		return Immediate
	}
}

func (c CallingConvention) String() string {
	switch c {
	case Generator:
		return "generator"
	case Async:
		return "async"
	case Stream:
		return "stream"
	default:
		return "immediate"
	}
}

// ScopeKind distinguishes a function-boundary scope (captures cross
// it only through an explicit closure environment) from a plain
// lexical block scope (captures pass through transparently).
type ScopeKind int

const (
	BlockScope ScopeKind = iota
	FunctionScope
)

// binding records where a name was declared and whether Mark has ever
// resolved a reference to it.
type binding struct {
	span item.Span
	used bool
}

type lexicalScope struct {
	kind    ScopeKind
	names   map[string]*binding
	capture map[string]bool // names captured from an enclosing function scope
}

// Scopes is the lexical/capture scope stack used during indexing to
// discover a closure's or async block's free-variable captures and
// every binding that Mark never resolves a reference to.
type Scopes struct {
	scopes []*lexicalScope
}

// NewScopes constructs a scope stack with a single top-level function
// scope.
func NewScopes() *Scopes {
	return &Scopes{scopes: []*lexicalScope{newLexicalScope(FunctionScope)}}
}

func newLexicalScope(kind ScopeKind) *lexicalScope {
	return &lexicalScope{kind: kind, names: map[string]*binding{}, capture: map[string]bool{}}
}

// Unused names a binding that was declared but never marked as used
// before its scope popped.
type Unused struct {
	Name string
	Span item.Span
}

// PushBlock enters a new block scope; the returned func pops it and
// reports every binding declared directly in it that Mark never
// resolved, in deterministic (name-sorted) order.
func (s *Scopes) PushBlock() func() []Unused {
	return s.push(BlockScope)
}

// PushFunction enters a new function-boundary scope (for a nested
// closure or async block); the returned func pops it and reports its
// unused bindings the same way PushBlock does.
func (s *Scopes) PushFunction() func() []Unused {
	return s.push(FunctionScope)
}

func (s *Scopes) push(kind ScopeKind) func() []Unused {
	sc := newLexicalScope(kind)
	s.scopes = append(s.scopes, sc)
	return func() []Unused {
		unused := make([]Unused, 0, len(sc.names))
		for name, b := range sc.names {
			if !b.used {
				unused = append(unused, Unused{Name: name, Span: b.span})
			}
		}
		sort.Slice(unused, func(i, j int) bool { return unused[i].Name < unused[j].Name })
		s.pop()
		return unused
	}
}

func (s *Scopes) pop() {
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// Declare records a new local binding in the innermost scope.
func (s *Scopes) Declare(name string, span item.Span) {
	s.scopes[len(s.scopes)-1].names[name] = &binding{span: span}
}

// Mark looks up name, walking outward. If the lookup crosses one or
// more function-scope boundaries before finding the binding, it is
// recorded as a capture on every function scope it crosses, and Mark
// reports found=true, captured=true. If found in the innermost
// function scope without crossing a boundary, captured=false. Either
// way, the binding is marked used.
func (s *Scopes) Mark(name string) (found, captured bool) {
	crossedFunction := false

	for i := len(s.scopes) - 1; i >= 0; i-- {
		sc := s.scopes[i]
		if b, ok := sc.names[name]; ok {
			b.used = true
			if crossedFunction {
				// Record the capture on every function scope between
				// the use site and the declaring scope.
				for j := i + 1; j < len(s.scopes); j++ {
					if s.scopes[j].kind == FunctionScope {
						s.scopes[j].capture[name] = true
					}
				}
				return true, true
			}
			return true, false
		}
		if sc.kind == FunctionScope {
			crossedFunction = true
		}
	}

	return false, false
}

// Captures returns the sorted capture set recorded for the innermost
// function scope. Call this immediately after popping the closure
// body's own scopes but while still inside the closure's function
// scope (i.e. before calling the popper returned by PushFunction).
func (s *Scopes) Captures() []string {
	top := s.scopes[len(s.scopes)-1]
	names := make([]string, 0, len(top.capture))
	for name := range top.capture {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexedKind tags what kind of not-yet-compiled declaration an
// IndexedEntry holds.
type IndexedKind int

const (
	IndexedFn IndexedKind = iota
	IndexedClosure
	IndexedAsyncBlock
	IndexedStruct
	IndexedEnum
	IndexedImpl
)

// IndexedEntry is a declaration discovered by the indexer, queued for
// later compilation by the compiler. Query is the lookup table keyed
// by item path / hash that the compiler consults to resolve names;
// the compiler's CompileAll compiles every entry in insertion order.
type IndexedEntry struct {
	Kind      IndexedKind
	Path      item.Item
	Fn        *ast.FnDecl
	Struct    *ast.StructDecl
	Enum      *ast.EnumDecl
	Captures  []string
	Convention CallingConvention
	Compiled  bool
}

// Query is the indexer's output: every declaration discovered during
// the index walk, keyed by its fully-qualified item path.
type Query struct {
	entries map[string]*IndexedEntry
	order   []string
}

// NewQuery constructs an empty query table.
func NewQuery() *Query {
	return &Query{entries: map[string]*IndexedEntry{}}
}

// Insert records a new indexed entry under path. It is the caller's
// responsibility to detect and reject duplicate declarations before
// calling Insert (the unit builder's new_function-style conflict check
// happens at compile time, not here).
func (q *Query) Insert(path item.Item, entry *IndexedEntry) {
	key := path.String()
	if _, exists := q.entries[key]; !exists {
		q.order = append(q.order, key)
	}
	entry.Path = path
	q.entries[key] = entry
}

// Lookup finds a previously indexed entry by path.
func (q *Query) Lookup(path item.Item) (*IndexedEntry, bool) {
	e, ok := q.entries[path.String()]
	return e, ok
}

// InOrder returns every indexed entry in discovery order, used by the
// compiler's "compile every still-unconsumed entry" final pass.
func (q *Query) InOrder() []*IndexedEntry {
	out := make([]*IndexedEntry, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.entries[key])
	}
	return out
}

// PendingImport is a deferred "use" awaiting resolution against the
// fully indexed unit and context, mirroring the original's Import
// struct and two-queue (imports, macros) deferred-processing model.
type PendingImport struct {
	Name     string
	Target   item.Item
	Wildcard bool
	Span     item.Span
}

// MacroSnapshot captures the indexer's item-path state (not its lexical
// scopes) at the point a
// macro invocation was encountered, so that macro expansion (reusing
// the external parser collaborator, out of scope here) can later
// resume indexing exactly where it left off.
type MacroSnapshot struct {
	Items *Items
	Span  item.Span
}
