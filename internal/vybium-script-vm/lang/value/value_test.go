package value

import "testing"

func TestScalarConstructors(t *testing.T) {
	if k := Integer(42).Kind(); k != KindInteger {
		t.Errorf("Integer().Kind() = %v, want %v", k, KindInteger)
	}
	if i, ok := Integer(42).AsInteger(); !ok || i != 42 {
		t.Errorf("AsInteger() = (%d, %v), want (42, true)", i, ok)
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Errorf("AsBool() = (%v, %v), want (true, true)", b, ok)
	}
	if _, ok := Bool(true).AsInteger(); ok {
		t.Errorf("AsInteger() on a bool value should fail")
	}
	if c, ok := Char('a').AsChar(); !ok || c != 'a' {
		t.Errorf("AsChar() = (%q, %v), want ('a', true)", c, ok)
	}
	if _, ok := Integer(1).AsChar(); ok {
		t.Errorf("AsChar() on an integer value should fail")
	}
}

func TestTupleSharedCell(t *testing.T) {
	tup := Tuple([]Value{Integer(1), Integer(2)})
	cell, ok := tup.Shared()
	if !ok {
		t.Fatal("expected Tuple value to carry a Shared cell")
	}
	data, release, err := cell.BorrowShared()
	if err != nil {
		t.Fatalf("BorrowShared() failed: %v", err)
	}
	defer release()
	td, ok := data.(*TupleData)
	if !ok || len(td.Elems) != 2 {
		t.Fatalf("unexpected tuple data: %#v", data)
	}
}

func TestBorrowConflictExclusiveWhileShared(t *testing.T) {
	s := NewShared(&VecData{})

	_, releaseShared, err := s.BorrowShared()
	if err != nil {
		t.Fatalf("BorrowShared() failed: %v", err)
	}
	defer releaseShared()

	if _, _, err := s.BorrowExclusive(); err == nil {
		t.Fatal("expected BorrowExclusive() to fail while a shared borrow is outstanding")
	} else if _, ok := err.(*BorrowConflict); !ok {
		t.Errorf("expected *BorrowConflict, got %T", err)
	}
}

func TestBorrowConflictSharedWhileExclusive(t *testing.T) {
	s := NewShared(&VecData{})

	_, releaseExclusive, err := s.BorrowExclusive()
	if err != nil {
		t.Fatalf("BorrowExclusive() failed: %v", err)
	}
	defer releaseExclusive()

	if _, _, err := s.BorrowShared(); err == nil {
		t.Fatal("expected BorrowShared() to fail while an exclusive borrow is outstanding")
	}
}

func TestBorrowReleaseAllowsReborrow(t *testing.T) {
	s := NewShared(&VecData{})

	_, release, err := s.BorrowExclusive()
	if err != nil {
		t.Fatalf("BorrowExclusive() failed: %v", err)
	}
	release()

	if _, release2, err := s.BorrowExclusive(); err != nil {
		t.Fatalf("expected re-borrow to succeed after release, got: %v", err)
	} else {
		release2()
	}
}

func TestRetainRelease(t *testing.T) {
	s := NewShared(&VecData{})
	s.Retain()
	if got, want := s.RefCount(), 2; got != want {
		t.Errorf("RefCount() = %d, want %d", got, want)
	}
	if left := s.Release(); left != 1 {
		t.Errorf("Release() = %d, want 1", left)
	}
}
