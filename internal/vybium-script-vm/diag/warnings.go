// Package diag collects non-fatal compiler diagnostics produced while
// indexing and compiling a unit.
package diag

import "github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"

// Kind tags the variant of a Warning.
type Kind int

const (
	// NotUsed indicates the item identified by Span is not used.
	NotUsed Kind = iota
	// LetPatternMightPanic indicates an unconditional let pattern that
	// will panic if it doesn't match.
	LetPatternMightPanic
	// TemplateWithoutExpansions indicates a template string with no
	// expansion groups.
	TemplateWithoutExpansions
	// RemoveTupleCallParams suggests that tuple-variant call
	// parentheses could be removed.
	RemoveTupleCallParams
	// UnecessarySemiColon indicates a redundant semicolon.
	UnecessarySemiColon
)

// Warning is a single compiler diagnostic.
type Warning struct {
	Kind    Kind
	Span    item.Span
	Context item.Span
	HasCtx  bool
	Variant item.Span // only meaningful for RemoveTupleCallParams
}

// Warnings is an ordered collection of compiler warnings.
type Warnings struct {
	warnings []Warning
}

// New constructs an empty warnings collection.
func New() *Warnings { return &Warnings{} }

// IsEmpty reports whether any warnings have been recorded.
func (w *Warnings) IsEmpty() bool { return len(w.warnings) == 0 }

// All returns the recorded warnings in emission order.
func (w *Warnings) All() []Warning {
	cp := make([]Warning, len(w.warnings))
	copy(cp, w.warnings)
	return cp
}

// Append adds every warning recorded in other to w, preserving other's
// emission order, so the indexer's and the compiler's warnings can be
// merged into a single ordered collection.
func (w *Warnings) Append(other *Warnings) {
	if other == nil {
		return
	}
	w.warnings = append(w.warnings, other.warnings...)
}

// NotUsed records that the item at span is never used.
func (w *Warnings) NotUsed(span item.Span, context item.Span, hasContext bool) {
	w.warnings = append(w.warnings, Warning{Kind: NotUsed, Span: span, Context: context, HasCtx: hasContext})
}

// LetPatternMightPanic records that a let binding uses a refutable
// pattern, which may panic at runtime.
func (w *Warnings) LetPatternMightPanic(span item.Span, context item.Span, hasContext bool) {
	w.warnings = append(w.warnings, Warning{Kind: LetPatternMightPanic, Span: span, Context: context, HasCtx: hasContext})
}

// TemplateWithoutExpansions records a template string literal with no
// interpolation groups.
func (w *Warnings) TemplateWithoutExpansions(span item.Span, context item.Span, hasContext bool) {
	w.warnings = append(w.warnings, Warning{Kind: TemplateWithoutExpansions, Span: span, Context: context, HasCtx: hasContext})
}

// RemoveTupleCallParens records that a tuple-variant construction call
// carries unnecessary parentheses.
func (w *Warnings) RemoveTupleCallParens(span, variant item.Span, context item.Span, hasContext bool) {
	w.warnings = append(w.warnings, Warning{Kind: RemoveTupleCallParams, Span: span, Variant: variant, Context: context, HasCtx: hasContext})
}

// UnecessarySemiColon records a redundant trailing semicolon.
func (w *Warnings) UnecessarySemiColon(span item.Span) {
	w.warnings = append(w.warnings, Warning{Kind: UnecessarySemiColon, Span: span})
}

func (k Kind) String() string {
	switch k {
	case NotUsed:
		return "not used"
	case LetPatternMightPanic:
		return "let pattern might panic"
	case TemplateWithoutExpansions:
		return "template string without expansions"
	case RemoveTupleCallParams:
		return "call parentheses can be removed"
	case UnecessarySemiColon:
		return "unnecessary semicolon"
	default:
		return "unknown warning"
	}
}
