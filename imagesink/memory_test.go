// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imagesink

import "testing"

func TestCreateMethodAssignsStableIDsAndBCIs(t *testing.T) {
	m := NewMemory()

	first := m.CreateMethod(-1, false, 1, []byte{0x01, 0x02}, 3)
	second := m.CreateMethod(0, false, 2, []byte{0x03, 0x04, 0x05}, 4)

	if first != 0 || second != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", first, second)
	}
	if m.AbsoluteBCIFor(first) != 0 {
		t.Errorf("AbsoluteBCIFor(first) = %d, want 0", m.AbsoluteBCIFor(first))
	}
	if m.AbsoluteBCIFor(second) != 2 {
		t.Errorf("AbsoluteBCIFor(second) = %d, want 2", m.AbsoluteBCIFor(second))
	}
	if len(m.Code) != 5 {
		t.Errorf("len(Code) = %d, want 5", len(m.Code))
	}
}

func TestPatchUint32AtOverwritesInPlace(t *testing.T) {
	m := NewMemory()
	id := m.CreateMethod(-1, false, 0, make([]byte, 8), 0)
	base := m.AbsoluteBCIFor(id)

	m.PatchUint32At(base+2, 0x11223344)

	want := []byte{0x44, 0x33, 0x22, 0x11}
	for i, b := range want {
		if m.Code[base+2+i] != b {
			t.Errorf("Code[%d] = %#x, want %#x", base+2+i, m.Code[base+2+i], b)
		}
	}
}

func TestAddStringInternsDuplicates(t *testing.T) {
	m := NewMemory()
	a := m.AddString("hello")
	b := m.AddString("world")
	c := m.AddString("hello")

	if a != c {
		t.Errorf("AddString(\"hello\") twice = %d, %d, want equal", a, c)
	}
	if a == b {
		t.Errorf("AddString(\"hello\") == AddString(\"world\"), want distinct")
	}
	if len(m.Literals) != 2 {
		t.Errorf("len(Literals) = %d, want 2", len(m.Literals))
	}
}

func TestDispatchTableEntriesDefaultUnset(t *testing.T) {
	m := NewMemory()
	m.CreateDispatchTable(3)
	m.SetDispatchTableEntry(1, 5)

	if m.DispatchTable[0] != -1 || m.DispatchTable[2] != -1 {
		t.Errorf("unset slots = %v, want -1", m.DispatchTable)
	}
	if m.DispatchTable[1] != 5 {
		t.Errorf("DispatchTable[1] = %d, want 5", m.DispatchTable[1])
	}
}

func TestCookMarksImageFinal(t *testing.T) {
	m := NewMemory()
	if m.Cooked {
		t.Fatalf("Cooked true before Cook()")
	}
	m.Cook()
	if !m.Cooked {
		t.Errorf("Cooked false after Cook()")
	}
}
