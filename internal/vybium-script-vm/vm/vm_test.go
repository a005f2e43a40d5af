package vm

import (
	"context"
	"testing"

	vctx "github.com/vybium/vybium-script-vm/internal/vybium-script-vm/context"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/fnptr"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/value"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
)

func buildUnit(t *testing.T, build func(asm *unit.Assembly)) *unit.Unit {
	t.Helper()
	u := unit.New()
	asm := u.NewAssembly()
	build(asm)
	if err := u.NewFunction(item.Of("main"), 0, asm); err != nil {
		t.Fatalf("NewFunction() failed: %v", err)
	}
	linker := unit.NewLinker()
	if ok := u.Link(func(item.Hash) bool { return false }, linker); !ok {
		t.Fatalf("Link() failed: %v", linker.Errors())
	}
	return u
}

func TestArithmeticAddsTwoIntegers(t *testing.T) {
	u := buildUnit(t, func(asm *unit.Assembly) {
		asm.Push(Raw(Instruction{Op: PushInt, Int: 2}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: PushInt, Int: 3}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Add}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	})

	m := New(vctx.New(), u)
	result, reason, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if reason != nil {
		t.Fatalf("expected no suspension, got %+v", reason)
	}
	got, ok := result.AsInteger()
	if !ok || got != 5 {
		t.Errorf("result = %v, want integer 5", result)
	}
}

func TestJumpIfFalseFallsThrough(t *testing.T) {
	u := buildUnit(t, func(asm *unit.Assembly) {
		end := asm.NewLabel("end")
		asm.Push(Raw(Instruction{Op: PushBool, Bool: false}), item.EmptySpan())
		asm.JumpIf(end, item.EmptySpan())
		asm.Push(Raw(Instruction{Op: PushInt, Int: 1}), item.EmptySpan())
		if _, err := asm.Label(end); err != nil {
			t.Fatalf("Label() failed: %v", err)
		}
		asm.Push(Raw(Instruction{Op: PushInt, Int: 2}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Add}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	})

	m := New(vctx.New(), u)
	result, _, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	got, _ := result.AsInteger()
	if got != 3 {
		t.Errorf("result = %v, want integer 3 (1 not skipped since condition is false)", result)
	}
}

func TestLocalsLoadStoreRoundTrip(t *testing.T) {
	u := buildUnit(t, func(asm *unit.Assembly) {
		asm.Push(Raw(Instruction{Op: PushInt, Int: 41}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: LoadLocal, N: 0}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: PushInt, Int: 1}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Add}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: StoreLocal, N: 0}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: LoadLocal, N: 0}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	})

	m := New(vctx.New(), u)
	result, _, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	got, _ := result.AsInteger()
	if got != 42 {
		t.Errorf("result = %v, want integer 42", result)
	}
}

func TestCallToContextHandlerDispatches(t *testing.T) {
	ctx := vctx.New()
	doubled := item.Function(item.Of("double"))
	if err := ctx.RegisterFn(item.Of("double"), func(stack vctx.Stack, args int) error {
		v, err := stack.Pop()
		if err != nil {
			return err
		}
		i, _ := v.AsInteger()
		stack.Push(value.Integer(i * 2))
		return nil
	}); err != nil {
		t.Fatalf("RegisterFn() failed: %v", err)
	}

	u := unit.New()
	asm := u.NewAssembly()
	asm.Push(Raw(Instruction{Op: PushInt, Int: 21}), item.EmptySpan())
	asm.Push(unit.Inst{Op: unit.OpCall, Hash: doubled, Args: 1}, item.EmptySpan())
	asm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	if err := u.NewFunction(item.Of("main"), 0, asm); err != nil {
		t.Fatalf("NewFunction() failed: %v", err)
	}
	linker := unit.NewLinker()
	if ok := u.Link(ctx.Contains, linker); !ok {
		t.Fatalf("Link() failed: %v", linker.Errors())
	}

	m := New(ctx, u)
	result, _, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	got, _ := result.AsInteger()
	if got != 42 {
		t.Errorf("result = %v, want integer 42", result)
	}
}

func TestYieldSuspendsAndResumeContinues(t *testing.T) {
	u := buildUnit(t, func(asm *unit.Assembly) {
		asm.Push(Raw(Instruction{Op: PushInt, Int: 1}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: PushInt, Int: 1}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Yield}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Add}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	})

	m := New(vctx.New(), u)
	_, reason, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if reason == nil || reason.Kind != fnptr.StopYield {
		t.Fatalf("expected a StopYield suspension, got %+v", reason)
	}
	yielded, _ := reason.Value.AsInteger()
	if yielded != 1 {
		t.Errorf("yielded value = %v, want 1", reason.Value)
	}

	result, reason2, err := m.Resume(value.Integer(41))
	if err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	if reason2 != nil {
		t.Fatalf("expected no further suspension, got %+v", reason2)
	}
	got, _ := result.AsInteger()
	if got != 42 {
		t.Errorf("result = %v, want integer 42 (1 yielded + 41 resumed)", result)
	}
}

func TestRunWithContextCancellationStopsExecution(t *testing.T) {
	u := buildUnit(t, func(asm *unit.Assembly) {
		asm.Push(Raw(Instruction{Op: PushUnit}), item.EmptySpan())
		asm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(vctx.New(), u)
	_, err := m.RunWithContext(ctx)
	if err == nil {
		t.Fatal("expected RunWithContext to report the cancellation")
	}
}

func TestExceedingInstructionBudgetIsReported(t *testing.T) {
	u := unit.New()
	asm := u.NewAssembly()
	top := asm.NewLabel("top")
	if _, err := asm.Label(top); err != nil {
		t.Fatalf("Label() failed: %v", err)
	}
	asm.Jump(top, item.EmptySpan())
	if err := u.NewFunction(item.Of("main"), 0, asm); err != nil {
		t.Fatalf("NewFunction() failed: %v", err)
	}
	linker := unit.NewLinker()
	if ok := u.Link(func(item.Hash) bool { return false }, linker); !ok {
		t.Fatalf("Link() failed: %v", linker.Errors())
	}

	m := New(vctx.New(), u)
	_, _, err := m.Run()
	if err == nil {
		t.Fatal("expected an infinite loop to exceed the instruction budget")
	}
}

func TestCallDynamicInvokesFnPtrAndAdvancesPastCallSite(t *testing.T) {
	ctx := vctx.New()
	u := unit.New()

	closureAsm := u.NewAssembly()
	closureAsm.Push(Raw(Instruction{Op: LoadLocal, N: 0}), item.EmptySpan())
	closureAsm.Push(Raw(Instruction{Op: PushInt, Int: 1}), item.EmptySpan())
	closureAsm.Push(Raw(Instruction{Op: Add}), item.EmptySpan())
	closureAsm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	if err := u.NewFunction(item.Of("incr"), 1, closureAsm); err != nil {
		t.Fatalf("NewFunction(incr) failed: %v", err)
	}
	incrInfo, ok := u.Lookup(item.Function(item.Of("incr")))
	if !ok {
		t.Fatal("expected incr to be registered")
	}

	// main expects its callable and arguments already sitting on the
	// operand stack (pushed directly below, not by bytecode), then
	// dispatches through CallDynamic.
	mainAsm := u.NewAssembly()
	mainAsm.Push(Raw(Instruction{Op: CallDynamic, N: 1}), item.EmptySpan())
	mainAsm.Push(Raw(Instruction{Op: Return}), item.EmptySpan())
	if err := u.NewFunction(item.Of("main"), 0, mainAsm); err != nil {
		t.Fatalf("NewFunction(main) failed: %v", err)
	}
	mainInfo, ok := u.Lookup(item.Function(item.Of("main")))
	if !ok {
		t.Fatal("expected main to be registered")
	}

	linker := unit.NewLinker()
	if ok := u.Link(func(item.Hash) bool { return false }, linker); !ok {
		t.Fatalf("Link() failed: %v", linker.Errors())
	}

	m := New(ctx, u)
	m.SetIP(mainInfo.Offset)
	fp := fnptr.FromOffset(ctx, u, incrInfo.Offset, 0, 1)
	m.Push(value.Integer(9))
	m.Push(value.FromFnPtr(fp))

	result, reason, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if reason != nil {
		t.Fatalf("expected no suspension, got %+v", reason)
	}
	got, ok := result.AsInteger()
	if !ok || got != 10 {
		t.Errorf("result = %v, want integer 10 (9 + 1 via dynamic call)", result)
	}
}

func TestValuesEqualChar(t *testing.T) {
	if !valuesEqual(value.Char('a'), value.Char('a')) {
		t.Error("expected equal chars to compare equal")
	}
	if valuesEqual(value.Char('a'), value.Char('b')) {
		t.Error("expected distinct chars to compare unequal")
	}
}

func TestValuesEqualBytes(t *testing.T) {
	if !valuesEqual(value.Bytes([]byte("hi")), value.Bytes([]byte("hi"))) {
		t.Error("expected equal byte strings to compare equal")
	}
	if valuesEqual(value.Bytes([]byte("hi")), value.Bytes([]byte("bye"))) {
		t.Error("expected distinct byte strings to compare unequal")
	}
}
