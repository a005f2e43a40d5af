// Package item provides the canonical path, hash and span primitives
// shared by the indexer, unit builder and compiler.
package item

import (
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Item is a canonical, dotted item path such as "std::object::Object"
// or "main::fibonacci". Items are immutable once constructed.
type Item struct {
	components []string
}

// Of constructs an Item from its path components.
func Of(components ...string) Item {
	cp := make([]string, len(components))
	copy(cp, components)
	return Item{components: cp}
}

// Empty is the root item, with no components.
func Empty() Item { return Item{} }

// Join appends components and returns a new Item.
func (it Item) Join(components ...string) Item {
	cp := make([]string, 0, len(it.components)+len(components))
	cp = append(cp, it.components...)
	cp = append(cp, components...)
	return Item{components: cp}
}

// Last returns the final component, if any.
func (it Item) Last() (string, bool) {
	if len(it.components) == 0 {
		return "", false
	}
	return it.components[len(it.components)-1], true
}

// Components returns a defensive copy of the path components.
func (it Item) Components() []string {
	cp := make([]string, len(it.components))
	copy(cp, it.components)
	return cp
}

// IsEmpty reports whether the item has no components.
func (it Item) IsEmpty() bool { return len(it.components) == 0 }

// String renders the item using "::" separators, matching the
// original language's path syntax.
func (it Item) String() string {
	return strings.Join(it.components, "::")
}

// Equal reports structural equality between two items.
func (it Item) Equal(other Item) bool {
	if len(it.components) != len(other.components) {
		return false
	}
	for i := range it.components {
		if it.components[i] != other.components[i] {
			return false
		}
	}
	return true
}

// Hash is a 64-bit fingerprint of an Item, a function signature, or a
// sorted set of object keys. Two equal inputs always produce equal
// hashes; collision is possible but not expected for well-formed
// programs.
type Hash uint64

// HashOf hashes an arbitrary string, e.g. a static string literal.
func HashOf(s string) Hash {
	return hashBytes([]byte(s))
}

// Function hashes an item path as a free function reference.
func Function(path Item) Hash {
	return hashBytes([]byte("fn\x00" + path.String()))
}

// InstanceFunction hashes an instance-method reference, keyed by the
// type it is defined on plus its name, matching the original's
// instance-function-vs-free-function hash separation.
func InstanceFunction(typeHash Hash, name string) Hash {
	return hashBytes([]byte("ifn\x00" + typeToken(typeHash) + "\x00" + name))
}

// ObjectKeys hashes a sorted collection of object keys, used to
// deduplicate struct/object-literal key sets in the unit's static
// table.
func ObjectKeys(keys []string) Hash {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	// Keys are expected pre-sorted by the caller (the compiler sorts
	// them before interning); we still join deterministically here.
	return hashBytes([]byte("keys\x00" + strings.Join(sorted, "\x00")))
}

// Type hashes an item path as a type reference (struct, enum, enum
// variant).
func Type(path Item) Hash {
	return hashBytes([]byte("ty\x00" + path.String()))
}

func typeToken(h Hash) string {
	return strings.TrimPrefix(h.String(), "0x")
}

func (h Hash) String() string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 2+16)
	buf[0], buf[1] = '0', 'x'
	v := uint64(h)
	for i := 0; i < 16; i++ {
		shift := uint(60 - 4*i)
		buf[2+i] = hexDigits[(v>>shift)&0xf]
	}
	return string(buf)
}

func hashBytes(b []byte) Hash {
	sum := sha3.Sum256(b)
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(sum[i])
	}
	return Hash(v)
}

// Span is a byte-range into the original source, used for diagnostics
// and debug information. Spans carry no reference to the source text
// itself; the tokenizer/parser collaborator owns that.
type Span struct {
	Start int
	End   int
}

// NewSpan constructs a span from a start/end byte offset.
func NewSpan(start, end int) Span { return Span{Start: start, End: end} }

// EmptySpan is the zero-length span at position zero.
func EmptySpan() Span { return Span{} }

// Point returns a zero-length span at the given position.
func Point(pos int) Span { return Span{Start: pos, End: pos} }

// Len returns the byte length of the span.
func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// WithStart returns a copy of s with a new start position.
func (s Span) WithStart(start int) Span { return Span{Start: start, End: s.End} }

// WithEnd returns a copy of s with a new end position.
func (s Span) WithEnd(end int) Span { return Span{Start: s.Start, End: end} }

// Join returns the smallest span covering both s and other.
func (s Span) Join(other Span) Span {
	start := s.Start
	if other.Start < start {
		start = other.Start
	}
	end := s.End
	if other.End > end {
		end = other.End
	}
	return Span{Start: start, End: end}
}

// Overlaps reports whether s completely contains other.
func (s Span) Overlaps(other Span) bool {
	return s.Start <= other.Start && s.End >= other.End
}

// Narrow shrinks the span symmetrically by amount, saturating at zero
// width rather than crossing over.
func (s Span) Narrow(amount int) Span {
	start := s.Start + amount
	end := s.End - amount
	if end < start {
		end = start
	}
	return Span{Start: start, End: end}
}

// TrimStart moves the start forward by amount, never past End.
func (s Span) TrimStart(amount int) Span {
	start := s.Start + amount
	if start > s.End {
		start = s.End
	}
	return Span{Start: start, End: s.End}
}

// TrimEnd moves the end backward by amount, never before Start.
func (s Span) TrimEnd(amount int) Span {
	end := s.End - amount
	if end < s.Start {
		end = s.Start
	}
	return Span{Start: s.Start, End: end}
}

func (s Span) String() string {
	return strings.Join([]string{strconv.Itoa(s.Start), strconv.Itoa(s.End)}, ":")
}
