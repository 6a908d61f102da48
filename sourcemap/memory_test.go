// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sourcemap

import (
	"testing"

	"github.com/bclang/backend/ir"
)

func TestRegisterMethodRecordsCallsAndFinalizes(t *testing.T) {
	m := NewMemory()
	method := &ir.Method{Name: "foo"}

	h := m.RegisterMethod(method)
	h.RegisterCall(4, BCIRange{Start: 2, End: 4})
	h.RegisterAsCheck(9, BCIRange{Start: 6, End: 9}, "Comparable")
	h.Finalize(7, 12)

	if len(m.Methods) != 1 {
		t.Fatalf("len(Methods) = %d, want 1", len(m.Methods))
	}
	rec := m.Methods[0]
	if rec.Method != method {
		t.Errorf("rec.Method = %v, want %v", rec.Method, method)
	}
	if !rec.Finalized || rec.MethodID != 7 || rec.BytecodeLength != 12 {
		t.Errorf("rec finalize state = %+v, want MethodID=7 BytecodeLength=12 Finalized=true", rec)
	}
	if len(rec.Calls) != 1 || rec.Calls[0].BCI != 4 {
		t.Errorf("rec.Calls = %+v", rec.Calls)
	}
	if len(rec.AsChecks) != 1 || rec.AsChecks[0].TypeName != "Comparable" {
		t.Errorf("rec.AsChecks = %+v", rec.AsChecks)
	}
}

func TestRegisterBlockNestsUnderParentRecord(t *testing.T) {
	m := NewMemory()
	method := &ir.Method{Name: "each"}
	blockNode := &ir.Code{IsBlock: true}

	h := m.RegisterMethod(method)
	blockHandle := h.RegisterBlock(blockNode)
	blockHandle.RegisterCall(1, BCIRange{Start: 0, End: 1})
	blockHandle.Finalize(9, 2)

	rec := m.Methods[0]
	if len(rec.Blocks) != 1 {
		t.Fatalf("len(rec.Blocks) = %d, want 1", len(rec.Blocks))
	}
	nested := rec.Blocks[0]
	if nested.Node != blockNode {
		t.Errorf("nested.Node = %v, want %v", nested.Node, blockNode)
	}
	if len(nested.Calls) != 1 || !nested.Finalized {
		t.Errorf("nested record = %+v", nested)
	}
}

func TestSelectorOffsetsRecorded(t *testing.T) {
	m := NewMemory()
	m.RegisterSelectorOffset(12, "size")
	m.RegisterSelectorOffset(20, "add")

	if m.SelectorOffsets["size"] != 12 || m.SelectorOffsets["add"] != 20 {
		t.Errorf("SelectorOffsets = %+v", m.SelectorOffsets)
	}
}

func TestNoopDiscardsEverything(t *testing.T) {
	var sink Sink = Noop{}
	h := sink.RegisterMethod(&ir.Method{Name: "x"})
	nested := h.RegisterBlock(&ir.Code{})
	nested.RegisterCall(0, BCIRange{})
	h.Finalize(0, 0)
	// Nothing to assert beyond "this does not panic": Noop has no
	// observable state.
}
