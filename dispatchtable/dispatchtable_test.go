// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatchtable

import (
	"testing"

	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/shape"
)

// buildThreeLevelHierarchy returns A <- B <- C, all instantiated, each
// overriding a zero-argument instance method `m`, plus a single
// top-level method whose body virtually calls `m` through a Dot
// selector so the builder sees the selector in use. This is the worked
// scenario from the dispatch-table section's end-to-end examples.
func buildThreeLevelHierarchy() (*ir.Program, *ir.Class, *ir.Class, *ir.Class) {
	mShape := shape.CallShape{Arity: 1}.ToPlainShape()

	classA := &ir.Class{Name: "A", IsInstantiated: true}
	classB := &ir.Class{Name: "B", Super: classA, IsInstantiated: true}
	classC := &ir.Class{Name: "C", Super: classB, IsInstantiated: true}

	newM := func(holder *ir.Class) *ir.Method {
		m := &ir.Method{Name: "m", Holder: holder, Kind: ir.KindInstance}
		m.SetPlainShape(mShape)
		return m
	}
	mA, mB, mC := newM(classA), newM(classB), newM(classC)
	classA.Methods = []*ir.Method{mA}
	classB.Methods = []*ir.Method{mB}
	classC.Methods = []*ir.Method{mC}

	call := &ir.CallVirtual{
		Call:   ir.Call{Shape: mShape.CallShape},
		Target: &ir.Dot{Receiver: &ir.LiteralNull{}, Selector: "m"},
	}
	caller := &ir.Method{
		Name: "caller",
		Kind: ir.KindGlobalFun,
		Body: call,
	}

	program := &ir.Program{
		Classes: []*ir.Class{classA, classB, classC},
		Methods: []*ir.Method{caller},
	}
	return program, classA, classB, classC
}

func TestAssignClassIDsContiguousRange(t *testing.T) {
	program, classA, classB, classC := buildThreeLevelHierarchy()
	Build(program)

	if classA.StartID != 0 || classA.EndID != 3 {
		t.Errorf("A: start_id=%d end_id=%d, want 0,3", classA.StartID, classA.EndID)
	}
	if classB.StartID != 1 || classB.EndID != 3 {
		t.Errorf("B: start_id=%d end_id=%d, want 1,3", classB.StartID, classB.EndID)
	}
	if classC.StartID != 2 || classC.EndID != 3 {
		t.Errorf("C: start_id=%d end_id=%d, want 2,3", classC.StartID, classC.EndID)
	}
}

func TestVirtualDispatchTableLayout(t *testing.T) {
	program, classA, classB, classC := buildThreeLevelHierarchy()
	table := Build(program)

	sel := shape.DispatchSelector{Name: "m", Shape: shape.CallShape{Arity: 1}.ToPlainShape()}
	offset, ok := table.OffsetOf(sel)
	if !ok || offset != 0 {
		t.Fatalf("OffsetOf(m) = (%d, %v), want (0, true)", offset, ok)
	}

	slots := table.Slots()
	if len(slots) != 4 {
		t.Fatalf("table length = %d, want 4 (3 virtual slots + 1 static)", len(slots))
	}
	mA, mB, mC := classA.Methods[0], classB.Methods[0], classC.Methods[0]
	if slots[0] != mA || slots[1] != mB || slots[2] != mC {
		t.Fatalf("slots = %v, want [A.m, B.m, C.m, ...]", slots)
	}

	for _, c := range []*ir.Class{classA, classB, classC} {
		if got, want := table.IDFor(c), c.StartID; got != want {
			t.Errorf("IDFor(%s) = %d, want %d", c.Name, got, want)
		}
	}
}

func TestForEachSlotIndexOnlyVisitsOwnRange(t *testing.T) {
	program, classA, classB, _ := buildThreeLevelHierarchy()
	table := Build(program)

	var gotA []int
	table.ForEachSlotIndex(classA.Methods[0], 0, func(i int) { gotA = append(gotA, i) })
	if len(gotA) != 1 || gotA[0] != 0 {
		t.Errorf("ForEachSlotIndex(A.m) visited %v, want [0]", gotA)
	}

	var gotB []int
	table.ForEachSlotIndex(classB.Methods[0], 0, func(i int) { gotB = append(gotB, i) })
	if len(gotB) != 1 || gotB[0] != 1 {
		t.Errorf("ForEachSlotIndex(B.m) visited %v, want [1]", gotB)
	}
}

func TestStaticMethodFillsRemainingSlot(t *testing.T) {
	program, _, _, _ := buildThreeLevelHierarchy()
	table := Build(program)

	caller := program.Methods[0]
	index, ok := table.SlotIndexFor(caller)
	if !ok || index != 3 {
		t.Fatalf("SlotIndexFor(caller) = (%d, %v), want (3, true)", index, ok)
	}
	if table.Slots()[3] != caller {
		t.Errorf("slot 3 = %v, want caller", table.Slots()[3])
	}
}

func TestOffsetOfUnknownSelectorMisses(t *testing.T) {
	program, _, _, _ := buildThreeLevelHierarchy()
	table := Build(program)

	_, ok := table.OffsetOf(shape.DispatchSelector{Name: "never-called", Shape: shape.CallShape{Arity: 1}.ToPlainShape()})
	if ok {
		t.Errorf("OffsetOf(never-called) = ok, want a miss")
	}
}
