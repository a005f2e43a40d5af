package item

import "testing"

func TestItemString(t *testing.T) {
	it := Of("main", "fibonacci")
	if got, want := it.String(), "main::fibonacci"; got != want {
		t.Errorf("Item.String() = %q, want %q", got, want)
	}
}

func TestItemJoinAndLast(t *testing.T) {
	it := Of("std", "object").Join("Object")
	last, ok := it.Last()
	if !ok || last != "Object" {
		t.Fatalf("Last() = (%q, %v), want (\"Object\", true)", last, ok)
	}
	if got, want := it.String(), "std::object::Object"; got != want {
		t.Errorf("Item.String() = %q, want %q", got, want)
	}
}

func TestItemEqual(t *testing.T) {
	a := Of("main", "foo")
	b := Of("main", "foo")
	c := Of("main", "bar")
	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v", a, b)
	}
	if a.Equal(c) {
		t.Errorf("expected %v to not equal %v", a, c)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Function(Of("main", "fibonacci"))
	b := Function(Of("main", "fibonacci"))
	if a != b {
		t.Errorf("Function hash not deterministic: %v != %v", a, b)
	}

	c := Function(Of("main", "other"))
	if a == c {
		t.Errorf("expected distinct item paths to hash differently")
	}
}

func TestHashOfString(t *testing.T) {
	h1 := HashOf("constant")
	h2 := HashOf("constant")
	if h1 != h2 {
		t.Errorf("HashOf() not deterministic: %v != %v", h1, h2)
	}
}

func TestObjectKeysHashDeterministic(t *testing.T) {
	h := ObjectKeys([]string{"a", "b", "c"})
	h2 := ObjectKeys([]string{"a", "b", "c"})
	if h != h2 {
		t.Errorf("ObjectKeys hash not deterministic")
	}
}

func TestSpanJoinAndNarrow(t *testing.T) {
	a := NewSpan(4, 10)
	b := NewSpan(2, 6)
	joined := a.Join(b)
	if joined.Start != 2 || joined.End != 10 {
		t.Errorf("Join() = %+v, want {2 10}", joined)
	}

	narrowed := a.Narrow(2)
	if narrowed.Start != 6 || narrowed.End != 8 {
		t.Errorf("Narrow(2) = %+v, want {6 8}", narrowed)
	}
}

func TestSpanTrimStartAndTrimEnd(t *testing.T) {
	s := NewSpan(2, 10)

	if trimmed := s.TrimStart(3); trimmed.Start != 5 || trimmed.End != 10 {
		t.Errorf("TrimStart(3) = %+v, want {5 10}", trimmed)
	}
	if trimmed := s.TrimEnd(3); trimmed.Start != 2 || trimmed.End != 7 {
		t.Errorf("TrimEnd(3) = %+v, want {2 7}", trimmed)
	}

	if trimmed := s.TrimStart(100); trimmed.Start != trimmed.End {
		t.Errorf("TrimStart(100) = %+v, want Start clamped to End", trimmed)
	}
	if trimmed := s.TrimEnd(100); trimmed.End != trimmed.Start {
		t.Errorf("TrimEnd(100) = %+v, want End clamped to Start", trimmed)
	}
}

func TestSpanOverlaps(t *testing.T) {
	outer := NewSpan(0, 10)
	inner := NewSpan(2, 5)
	if !outer.Overlaps(inner) {
		t.Errorf("expected %+v to overlap %+v", outer, inner)
	}
	if inner.Overlaps(outer) {
		t.Errorf("did not expect %+v to overlap %+v", inner, outer)
	}
}
