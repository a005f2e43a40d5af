// Package ast defines the minimal abstract syntax tree contract
// consumed by the indexer and compiler. The tokenizer and parser that
// produce trees of these types are external collaborators and are not
// implemented here; tests construct trees directly as Go struct
// literals.
package ast

import "github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"

// Node is implemented by every AST node that carries a source span.
type Node interface {
	Span() item.Span
}

// File is the root of a single source file's AST.
type File struct {
	Decls   []Decl
	NodeSpan item.Span
}

func (f *File) Span() item.Span { return f.NodeSpan }

// Decl is implemented by every top-level or nested declaration.
type Decl interface {
	Node
	declNode()
}

// FnDecl declares a named function, instance method, or closure
// (closures reuse FnDecl with Name == "" and IsClosure == true).
type FnDecl struct {
	Name       string
	Args       []FnArg
	Body       *Block
	IsAsync    bool
	IsClosure  bool
	// HasSelf indicates an instance-method receiver ("self" parameter).
	HasSelf bool
	// CaptureNames, for closures, are the free variables captured from
	// the enclosing lexical scope at index time.
	CaptureNames []string
	NodeSpan     item.Span
}

func (d *FnDecl) Span() item.Span { return d.NodeSpan }
func (*FnDecl) declNode()         {}

// FnArg is a single function parameter.
type FnArg struct {
	Name string
	Span item.Span
}

// ImplBlock groups instance methods under the type they extend.
type ImplBlock struct {
	Path     item.Item
	Fns      []*FnDecl
	NodeSpan item.Span
}

func (d *ImplBlock) Span() item.Span { return d.NodeSpan }
func (*ImplBlock) declNode()         {}

// StructDecl declares a struct type, tuple-style or field-style.
type StructDecl struct {
	Name     string
	Fields   []string // empty for unit structs, positional for tuple structs
	IsTuple  bool
	NodeSpan item.Span
}

func (d *StructDecl) Span() item.Span { return d.NodeSpan }
func (*StructDecl) declNode()         {}

// EnumDecl declares an enum and its variants.
type EnumDecl struct {
	Name     string
	Variants []EnumVariant
	NodeSpan item.Span
}

func (d *EnumDecl) Span() item.Span { return d.NodeSpan }
func (*EnumDecl) declNode()         {}

// EnumVariant is one constructor of an EnumDecl.
type EnumVariant struct {
	Name    string
	Fields  []string
	IsTuple bool
	Span    item.Span
}

// ImportDecl declares a "use" path, optionally a wildcard import.
type ImportDecl struct {
	Path       item.Item
	Wildcard   bool
	NodeSpan   item.Span
}

func (d *ImportDecl) Span() item.Span { return d.NodeSpan }
func (*ImportDecl) declNode()         {}

// ModDecl declares a nested, file-backed module. Source is the loaded
// file contents' unique identifier (e.g. the resolved path), used to
// detect duplicate loads of the same underlying file.
type ModDecl struct {
	Name     string
	Source   string
	File     *File
	NodeSpan item.Span
}

func (d *ModDecl) Span() item.Span { return d.NodeSpan }
func (*ModDecl) declNode()         {}

// Block is a sequence of statements, the last of which may be a
// trailing (tail) expression.
type Block struct {
	Stmts    []Stmt
	Tail     Expr
	NodeSpan item.Span
}

func (b *Block) Span() item.Span { return b.NodeSpan }

// Stmt is implemented by every statement kind.
type Stmt interface {
	Node
	stmtNode()
}

// LetStmt binds a pattern to the value of an expression.
type LetStmt struct {
	Pattern  Pattern
	Value    Expr
	NodeSpan item.Span
}

func (s *LetStmt) Span() item.Span { return s.NodeSpan }
func (*LetStmt) stmtNode()         {}

// ExprStmt is an expression evaluated for its side effect.
type ExprStmt struct {
	Value           Expr
	TrailingSemi    bool
	NodeSpan        item.Span
}

func (s *ExprStmt) Span() item.Span { return s.NodeSpan }
func (*ExprStmt) stmtNode()         {}

// ItemStmt embeds a nested declaration (fn/struct/enum/use) inside a
// block.
type ItemStmt struct {
	Decl     Decl
	NodeSpan item.Span
}

func (s *ItemStmt) Span() item.Span { return s.NodeSpan }
func (*ItemStmt) stmtNode()         {}

// Expr is implemented by every expression kind the compiler handles.
type Expr interface {
	Node
	exprNode()
}

type exprBase struct{ NodeSpan item.Span }

func (e exprBase) Span() item.Span { return e.NodeSpan }
func (exprBase) exprNode()         {}

// LitExpr is an integer, float, bool, char, string, byte-string or
// unit literal.
type LitExpr struct {
	exprBase
	Kind  LitKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

type LitKind int

const (
	LitUnit LitKind = iota
	LitBool
	LitInt
	LitFloat
	LitChar
	LitStr
	LitByteStr
)

// PathExpr references a local variable, captured binding, or an item
// by its resolved or to-be-resolved path.
type PathExpr struct {
	exprBase
	Name string
}

// BinaryExpr is a binary operator expression.
type BinaryExpr struct {
	exprBase
	Op    BinaryOp
	Left  Expr
	Right Expr
}

type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

// CallExpr calls a function, closure, tuple-variant constructor, or
// instance method by path.
type CallExpr struct {
	exprBase
	Target Expr
	Args   []Expr
}

// IfExpr is a conditional expression with an optional else branch.
type IfExpr struct {
	exprBase
	Cond Expr
	Then *Block
	Else *Block
}

// WhileExpr is a conditional loop.
type WhileExpr struct {
	exprBase
	Cond Expr
	Body *Block
}

// LoopExpr is an unconditional loop, exited via break.
type LoopExpr struct {
	exprBase
	Body *Block
}

// BreakExpr exits the innermost loop, optionally with a value.
type BreakExpr struct {
	exprBase
	Value Expr
}

// ReturnExpr returns from the enclosing function, optionally with a
// value.
type ReturnExpr struct {
	exprBase
	Value Expr
}

// ClosureExpr constructs a closure value from a nested FnDecl.
type ClosureExpr struct {
	exprBase
	Fn *FnDecl
}

// AsyncBlockExpr constructs a future from a nested, implicitly-async
// block of statements, indexed the same way as an async fn body.
type AsyncBlockExpr struct {
	exprBase
	Fn *FnDecl
}

// AwaitExpr suspends the current async function until the future
// value resolves.
type AwaitExpr struct {
	exprBase
	Value Expr
}

// YieldExpr suspends the current generator, optionally producing a
// value, and resumes with the value passed to the VM's Resume.
type YieldExpr struct {
	exprBase
	Value Expr
}

// SelectExpr polls multiple futures/streams and executes the first
// arm whose operand becomes ready, ties broken by source order.
type SelectExpr struct {
	exprBase
	Arms []SelectArm
}

// SelectArm is one branch of a SelectExpr.
type SelectArm struct {
	Pattern Pattern
	Future  Expr
	Body    *Block
}

// MatchExpr pattern-matches a value against a sequence of arms.
type MatchExpr struct {
	exprBase
	Value Expr
	Arms  []MatchArm
}

// MatchArm is one arm of a MatchExpr.
type MatchArm struct {
	Pattern Pattern
	Guard   Expr
	Body    Expr
}

// VecExpr constructs a vector literal.
type VecExpr struct {
	exprBase
	Elems []Expr
}

// TupleExpr constructs a tuple literal.
type TupleExpr struct {
	exprBase
	Elems []Expr
}

// ObjectExpr constructs an object literal.
type ObjectExpr struct {
	exprBase
	Keys   []string
	Values []Expr
}

// BlockExpr wraps a nested block as an expression.
type BlockExpr struct {
	exprBase
	Body *Block
}

// Pattern is implemented by every pattern kind the compiler translates
// into a jump tree.
type Pattern interface {
	Node
	patternNode()
}

type patternBase struct{ NodeSpan item.Span }

func (p patternBase) Span() item.Span { return p.NodeSpan }
func (patternBase) patternNode()       {}

// PatBinding binds the matched value to a name unconditionally.
type PatBinding struct {
	patternBase
	Name string
}

// PatLit matches a literal value exactly.
type PatLit struct {
	patternBase
	Lit *LitExpr
}

// PatIgnore is the wildcard pattern "_".
type PatIgnore struct{ patternBase }

// PatTuple matches a tuple or typed-tuple struct's elements
// positionally.
type PatTuple struct {
	patternBase
	TypePath item.Item
	HasType  bool
	Elems    []Pattern
}

// PatVariant matches an enum variant and its payload.
type PatVariant struct {
	patternBase
	EnumPath    item.Item
	VariantName string
	Elems       []Pattern
}

// PatObject matches an object's fields by name.
type PatObject struct {
	patternBase
	Fields map[string]Pattern
}

// IsIrrefutable reports whether p always matches, i.e. is a plain
// binding or wildcard with no further structure to fail on.
func IsIrrefutable(p Pattern) bool {
	switch p.(type) {
	case *PatBinding, *PatIgnore:
		return true
	default:
		return false
	}
}
