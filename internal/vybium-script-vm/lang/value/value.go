// Package value implements the runtime value model: a tagged union of
// VM values plus Shared, a reference-counted interior-mutable cell with
// runtime borrow checking (no garbage collector, no atomics — the VM is
// single-threaded per its concurrency model).
package value

import (
	"fmt"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindUnit Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindChar
	KindString
	KindBytes
	KindVec
	KindTuple
	KindObject
	KindTypedTuple
	KindVariantTuple
	KindOption
	KindResult
	KindFnPtr
	KindGenerator
	KindFuture
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindChar:
		return "char"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindVec:
		return "vec"
	case KindTuple:
		return "tuple"
	case KindObject:
		return "object"
	case KindTypedTuple:
		return "typed_tuple"
	case KindVariantTuple:
		return "variant_tuple"
	case KindOption:
		return "option"
	case KindResult:
		return "result"
	case KindFnPtr:
		return "fn_ptr"
	case KindGenerator:
		return "generator"
	case KindFuture:
		return "future"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Value is the tagged union of all runtime values the VM operates on.
// Composite values (Vec, Object, Tuple, TypedTuple, VariantTuple,
// FnPtr, Generator, Future, Stream) are always stored behind a Shared
// cell so that captures, closures and generator state can alias safely.
type Value struct {
	kind    Kind
	integer int64
	float   float64
	boolean bool
	char    rune
	str     string
	bytes   []byte

	// composite points at the interior-mutable cell. Exactly one of
	// these is non-nil depending on kind.
	shared *Shared
}

// Unit is the singleton unit value, analogous to Rust's "()".
func Unit() Value { return Value{kind: KindUnit} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Integer constructs a signed 64-bit integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, integer: i} }

// Float constructs a 64-bit floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, float: f} }

// Char constructs a single Unicode scalar value.
func Char(c rune) Value { return Value{kind: KindChar, char: c} }

// String constructs an immutable string value. Strings are copy-on
// pass, not shared, matching the original's Box<str> semantics.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes constructs an immutable byte-string value.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

// Vec constructs a heap-allocated, shareable, growable vector.
func Vec(elems []Value) Value {
	return Value{kind: KindVec, shared: NewShared(&VecData{Elems: append([]Value(nil), elems...)})}
}

// Tuple constructs a heap-allocated, shareable, fixed-size tuple.
func Tuple(elems []Value) Value {
	return Value{kind: KindTuple, shared: NewShared(&TupleData{Elems: append([]Value(nil), elems...)})}
}

// Object constructs a heap-allocated, shareable string-keyed map.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, shared: NewShared(&ObjectData{Fields: cp})}
}

// TypedTuple constructs a tuple carrying a struct type hash (a
// tuple-style struct instance).
func TypedTuple(typeHash item.Hash, elems []Value) Value {
	return Value{kind: KindTypedTuple, shared: NewShared(&TypedTupleData{
		TypeHash: typeHash,
		Elems:    append([]Value(nil), elems...),
	})}
}

// VariantTuple constructs a tuple-style enum variant instance.
func VariantTuple(enumHash, variantHash item.Hash, elems []Value) Value {
	return Value{kind: KindVariantTuple, shared: NewShared(&VariantTupleData{
		EnumHash:    enumHash,
		VariantHash: variantHash,
		Elems:       append([]Value(nil), elems...),
	})}
}

// FromFnPtr wraps an opaque callable (internal/vybium-script-vm/fnptr.FnPtr)
// as a first-class Value. fnPtr is stored as interface{} to avoid an
// import cycle between value and fnptr.
func FromFnPtr(fnPtr interface{}) Value {
	return Value{kind: KindFnPtr, shared: NewShared(&FnPtrData{Ptr: fnPtr})}
}

// FromSuspended wraps an opaque generator/future/stream handle as a
// first-class Value, tagged by kind.
func FromSuspended(kind Kind, handle interface{}) Value {
	return Value{kind: kind, shared: NewShared(&SuspendedData{Handle: handle})}
}

// Kind returns the tag of this value.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload; ok is false for non-bool values.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

// AsInteger returns the integer payload.
func (v Value) AsInteger() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.integer, true
}

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.float, true
}

// AsChar returns the char payload.
func (v Value) AsChar() (rune, bool) {
	if v.kind != KindChar {
		return 0, false
	}
	return v.char, true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsBytes returns the byte-string payload.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// Shared returns the interior-mutable cell backing composite values.
// ok is false for scalar values that have no cell.
func (v Value) Shared() (*Shared, bool) {
	if v.shared == nil {
		return nil, false
	}
	return v.shared, true
}

func (v Value) String() string {
	switch v.kind {
	case KindUnit:
		return "()"
	case KindBool:
		return fmt.Sprintf("%v", v.boolean)
	case KindInteger:
		return fmt.Sprintf("%d", v.integer)
	case KindFloat:
		return fmt.Sprintf("%g", v.float)
	case KindChar:
		return fmt.Sprintf("%q", v.char)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	default:
		return fmt.Sprintf("<%s>", v.kind)
	}
}

// VecData is the backing store for a Vec value.
type VecData struct{ Elems []Value }

// TupleData is the backing store for a Tuple value.
type TupleData struct{ Elems []Value }

// ObjectData is the backing store for an Object value.
type ObjectData struct{ Fields map[string]Value }

// TypedTupleData is the backing store for a TypedTuple value.
type TypedTupleData struct {
	TypeHash item.Hash
	Elems    []Value
}

// VariantTupleData is the backing store for a VariantTuple value.
type VariantTupleData struct {
	EnumHash    item.Hash
	VariantHash item.Hash
	Elems       []Value
}

// FnPtrData wraps an opaque callable handle.
type FnPtrData struct{ Ptr interface{} }

// SuspendedData wraps an opaque generator/future/stream handle.
type SuspendedData struct{ Handle interface{} }

// BorrowState tracks the current borrow of a Shared cell.
type BorrowState int

const (
	// Unborrowed means no outstanding borrow is held.
	Unborrowed BorrowState = iota
	// SharedBorrow means one or more read-only borrows are held.
	SharedBorrow
	// ExclusiveBorrow means a single read-write borrow is held.
	ExclusiveBorrow
)

// BorrowConflict is returned when a borrow request cannot be satisfied
// by the current state of the cell, e.g. taking an exclusive borrow
// while a shared borrow is outstanding. This is a runtime error, never
// undefined behavior.
type BorrowConflict struct {
	Requested BorrowState
	Current   BorrowState
}

func (e *BorrowConflict) Error() string {
	return fmt.Sprintf("borrow conflict: requested %v borrow while %v borrow is outstanding", stateName(e.Requested), stateName(e.Current))
}

func stateName(s BorrowState) string {
	switch s {
	case SharedBorrow:
		return "shared"
	case ExclusiveBorrow:
		return "exclusive"
	default:
		return "none"
	}
}

// Shared is a reference-counted, interior-mutable cell. It is not
// thread-safe by design: the VM never shares a Shared cell across
// independent VM instances running concurrently (see spec's
// cross-VM-concurrency non-goal), so no atomics are required, matching
// the original's Rc<RefCell<T>>-style single-threaded cell.
type Shared struct {
	refs   int
	state  BorrowState
	shared int // count of outstanding shared borrows
	data   interface{}
}

// NewShared allocates a new cell with one owning reference.
func NewShared(data interface{}) *Shared {
	return &Shared{refs: 1, data: data}
}

// Retain increments the reference count, mirroring Rc::clone.
func (s *Shared) Retain() *Shared {
	s.refs++
	return s
}

// Release decrements the reference count. The cell has no destructor
// semantics beyond this counter: there is no cycle collector, so
// reference cycles between composite values leak, matching the
// spec's "acyclic refcounting" non-goal for garbage collection.
func (s *Shared) Release() int {
	s.refs--
	return s.refs
}

// BorrowShared takes a read-only borrow. It fails if an exclusive
// borrow is currently outstanding.
func (s *Shared) BorrowShared() (interface{}, func(), error) {
	if s.state == ExclusiveBorrow {
		return nil, nil, &BorrowConflict{Requested: SharedBorrow, Current: ExclusiveBorrow}
	}
	s.state = SharedBorrow
	s.shared++
	release := func() {
		s.shared--
		if s.shared == 0 {
			s.state = Unborrowed
		}
	}
	return s.data, release, nil
}

// BorrowExclusive takes a read-write borrow. It fails if any borrow
// (shared or exclusive) is currently outstanding.
func (s *Shared) BorrowExclusive() (interface{}, func(), error) {
	if s.state != Unborrowed {
		return nil, nil, &BorrowConflict{Requested: ExclusiveBorrow, Current: s.state}
	}
	s.state = ExclusiveBorrow
	release := func() { s.state = Unborrowed }
	return s.data, release, nil
}

// RefCount returns the current strong-reference count, mainly for
// tests and debugging.
func (s *Shared) RefCount() int { return s.refs }
