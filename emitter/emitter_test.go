// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emitter

import (
	"testing"

	"github.com/bclang/backend/label"
)

func TestLoadIntegerNarrowForms(t *testing.T) {
	cases := []struct {
		value int64
		op    Opcode
	}{
		{0, LOAD_SMI_0},
		{1, LOAD_SMI_1},
		{42, LOAD_SMI_U8},
		{1000, LOAD_SMI_U16},
		{1 << 20, LOAD_SMI_U32},
	}
	for _, c := range cases {
		e := New(0)
		e.LoadInteger(c.value)
		if got := Opcode(e.buf[0]); got != c.op {
			t.Errorf("LoadInteger(%d): opcode = %s, want %s", c.value, got.Name(), c.op.Name())
		}
		if e.Height() != 1 {
			t.Errorf("LoadInteger(%d): height = %d, want 1", c.value, e.Height())
		}
	}
}

func TestPopFusesWithStoreLocal(t *testing.T) {
	e := New(0)
	e.LoadInteger(0)
	e.StoreLocal(0)
	e.Pop(1)
	if Opcode(e.buf[1]) != STORE_LOCAL_POP {
		t.Fatalf("expected STORE_LOCAL_POP fusion, got %s", Opcode(e.buf[1]).Name())
	}
	if e.PeepholeFusions() != 1 {
		t.Fatalf("PeepholeFusions() = %d, want 1", e.PeepholeFusions())
	}
}

func TestPopMergesAdjacent(t *testing.T) {
	e := New(0)
	e.LoadInteger(0)
	e.LoadInteger(0)
	e.LoadInteger(0)
	e.Pop(1)
	e.Pop(2)
	if e.Height() != 0 {
		t.Fatalf("height after pops = %d, want 0", e.Height())
	}
	op, ok := e.PreviousOpcode(0)
	if !ok || op != POP {
		t.Fatalf("expected merged POP, got %v ok=%v", op, ok)
	}
	if value := int(e.buf[len(e.buf)-1]); value != 3 {
		t.Fatalf("merged POP operand = %d, want 3", value)
	}
}

func TestRetNullFusesWithPop1(t *testing.T) {
	e := New(1)
	e.LoadInteger(0)
	e.Pop(1)
	e.RetNull()
	if Opcode(e.buf[1]) != RETURN_NULL {
		t.Fatalf("expected RETURN_NULL fusion, got %s", Opcode(e.buf[1]).Name())
	}
}

func TestLoadFieldFusesWithLoadLocal(t *testing.T) {
	e := New(0)
	e.LoadInteger(0)
	e.LoadLocal(0)
	e.LoadField(3)
	if Opcode(e.buf[e.opcodePositions[len(e.opcodePositions)-1]]) != LOAD_FIELD_LOCAL {
		t.Fatalf("expected LOAD_FIELD_LOCAL fusion")
	}
}

func TestBranchForwardThenBack(t *testing.T) {
	e := New(0)
	l := label.New()
	e.LoadInteger(1)
	e.Branch(IfTrue, l)
	e.LoadInteger(2)
	e.Pop(1)
	e.Bind(l)
	if !l.IsBound() {
		t.Fatalf("label should be bound")
	}
	back := label.New()
	e.Bind(back)
	e.LoadInteger(0)
	e.Branch(Unconditional, back)
	op, ok := e.PreviousOpcode(0)
	if !ok {
		t.Fatalf("expected a previous opcode")
	}
	if op != BRANCH_BACK && op != BRANCH_BACK_WIDE {
		t.Fatalf("expected a back-branch opcode, got %s", op.Name())
	}
}

func TestInvokeVirtualConsumesArityPushesOne(t *testing.T) {
	e := New(0)
	e.LoadInteger(1)
	e.LoadInteger(2)
	e.InvokeVirtual(INVOKE_VIRTUAL, 10, 2)
	if e.Height() != 1 {
		t.Fatalf("height after InvokeVirtual = %d, want 1", e.Height())
	}
}

func TestTypecheckLocalFusesWhenInRange(t *testing.T) {
	e := New(0)
	e.LoadInteger(5)
	e.TypecheckLocal(0, 3)
	if Opcode(e.buf[len(e.buf)-2]) != AS_LOCAL {
		t.Fatalf("expected AS_LOCAL fusion for small offset/index")
	}
}

func TestNlrWideWhenOutOfRange(t *testing.T) {
	e := New(0)
	e.LoadInteger(9)
	e.Nlr(20, 20)
	if Opcode(e.buf[2]) != NON_LOCAL_RETURN_WIDE {
		t.Fatalf("expected NON_LOCAL_RETURN_WIDE, got %s", Opcode(e.buf[2]).Name())
	}
}

func TestLinkUnlinkStackEffect(t *testing.T) {
	e := New(0)
	e.Link()
	if e.Height() != 4 {
		t.Fatalf("height after Link = %d, want 4", e.Height())
	}
	e.Unlink()
	if e.Height() != 3 {
		t.Fatalf("height after Unlink = %d, want 3", e.Height())
	}
}

func TestIntrinsicMonitorEnterExitAreSingleByteOpcodes(t *testing.T) {
	e := New(0)
	e.Link()
	e.IntrinsicMonitorEnter()
	e.IntrinsicMonitorExit()
	e.Unlink()
	if Opcode(e.buf[2]) != INTRINSIC_MONITOR_ENTER {
		t.Fatalf("expected INTRINSIC_MONITOR_ENTER, got %s", Opcode(e.buf[2]).Name())
	}
	if Opcode(e.buf[3]) != INTRINSIC_MONITOR_EXIT {
		t.Fatalf("expected INTRINSIC_MONITOR_EXIT, got %s", Opcode(e.buf[3]).Name())
	}
}
