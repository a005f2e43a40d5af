package fnptr

import (
	"testing"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/context"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/value"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
)

func TestFromHandlerCallPushesResult(t *testing.T) {
	fp := FromHandler(func(stack context.Stack, args int) error {
		seq, err := stack.PopSequence(args)
		if err != nil {
			return err
		}
		sum := int64(0)
		for _, v := range seq {
			i, _ := v.AsInteger()
			sum += i
		}
		stack.Push(value.Integer(sum))
		return nil
	})

	result, err := fp.Call([]value.Value{value.Integer(2), value.Integer(3)})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	got, ok := result.AsInteger()
	if !ok || got != 5 {
		t.Errorf("Call() = %v, want integer 5", result)
	}
}

func TestArgumentCountMismatch(t *testing.T) {
	fp := FromTuple(item.Function(item.Of("Point")), 2)
	if _, err := fp.Call([]value.Value{value.Integer(1)}); err == nil {
		t.Fatal("expected an argument-count mismatch error")
	}
}

func TestFromTupleConstructsTypedTuple(t *testing.T) {
	hash := item.Function(item.Of("Point"))
	fp := FromTuple(hash, 2)

	result, err := fp.Call([]value.Value{value.Integer(1), value.Integer(2)})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if result.Kind() != value.KindTypedTuple {
		t.Fatalf("Kind() = %v, want TypedTuple", result.Kind())
	}
}

func TestFromVariantTupleConstructsVariantTuple(t *testing.T) {
	enumHash := item.Type(item.Of("Option"))
	variantHash := item.Function(item.Of("Option", "Some"))
	fp := FromVariantTuple(enumHash, variantHash, 1)

	result, err := fp.Call([]value.Value{value.Integer(7)})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if result.Kind() != value.KindVariantTuple {
		t.Fatalf("Kind() = %v, want VariantTuple", result.Kind())
	}
}

func TestCallWithVMHandlerDispatchesDirectly(t *testing.T) {
	called := false
	fp := FromHandler(func(stack context.Stack, args int) error {
		called = true
		stack.Push(value.Unit())
		return nil
	})

	host := newFakeHost()
	stop, err := fp.CallWithVM(host, 0)
	if err != nil {
		t.Fatalf("CallWithVM() failed: %v", err)
	}
	if stop != nil {
		t.Fatalf("expected no StopReason for a handler call, got %+v", stop)
	}
	if !called {
		t.Error("expected the handler to run")
	}
}

func TestCallWithVMTupleConstructorPopsArgsAndPushesResult(t *testing.T) {
	hash := item.Function(item.Of("Point"))
	fp := FromTuple(hash, 2)

	host := newFakeHost()
	host.Push(value.Integer(1))
	host.Push(value.Integer(2))

	stop, err := fp.CallWithVM(host, 2)
	if err != nil {
		t.Fatalf("CallWithVM() failed: %v", err)
	}
	if stop != nil {
		t.Fatalf("expected no StopReason for a tuple constructor, got %+v", stop)
	}
	if len(host.items) != 1 || host.items[0].Kind() != value.KindTypedTuple {
		t.Fatalf("expected exactly one TypedTuple left on the stack, got %+v", host.items)
	}
}

func TestCallWithVMOffsetCrossUnitReturnsCallVmStop(t *testing.T) {
	ctx := context.New()
	u := unit.New()
	fp := FromOffset(ctx, u, 3, 0 /* query.Immediate */, 1)

	RegisterHostFactory(func(c *context.Context, uu *unit.Unit) Host {
		return newFakeHost()
	})

	host := newFakeHost()
	host.Push(value.Integer(9))

	stop, err := fp.CallWithVM(host, 1)
	if err != nil {
		t.Fatalf("CallWithVM() failed: %v", err)
	}
	if stop == nil {
		t.Fatal("expected a StopCallVm StopReason for a call across contexts")
	}
	if stop.Kind != StopCallVm {
		t.Errorf("Kind = %v, want StopCallVm", stop.Kind)
	}
}

func TestArgumentCountMismatchErrorMessage(t *testing.T) {
	err := ArgumentCountMismatch(2, 1)
	if err == nil {
		t.Fatal("expected a non-nil error")
	}
	if got, want := err.Error(), "argument count mismatch: expected 2, got 1"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// fakeHost is a minimal Host used to exercise CallWithVM's non-offset
// shapes without depending on the vm package (which would import-cycle
// back into this package).
type fakeHost struct {
	items []value.Value
	ip    int
}

func newFakeHost() *fakeHost { return &fakeHost{} }

func (h *fakeHost) Push(v value.Value) { h.items = append(h.items, v) }

func (h *fakeHost) Pop() (value.Value, error) {
	if len(h.items) == 0 {
		return value.Value{}, &Error{msg: "stack underflow"}
	}
	v := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return v, nil
}

func (h *fakeHost) PopSequence(n int) ([]value.Value, error) {
	if len(h.items) < n {
		return nil, &Error{msg: "stack underflow"}
	}
	out := append([]value.Value(nil), h.items[len(h.items)-n:]...)
	h.items = h.items[:len(h.items)-n]
	return out, nil
}

func (h *fakeHost) SetIP(offset int)                  { h.ip = offset }
func (h *fakeHost) StackExtend(vs []value.Value)      { h.items = append(h.items, vs...) }
func (h *fakeHost) DrainStackTop(n int) ([]value.Value, error) { return h.PopSequence(n) }
func (h *fakeHost) PushCallFrame(offset, args int) error {
	h.ip = offset
	return nil
}
func (h *fakeHost) IsSame(ctx *context.Context, u *unit.Unit) bool { return false }
func (h *fakeHost) Run() (value.Value, *StopReason, error)        { return value.Unit(), nil, nil }
func (h *fakeHost) Resume(value.Value) (value.Value, *StopReason, error) {
	return value.Unit(), nil, nil
}
