// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package label_test

import (
	"testing"

	"github.com/bclang/backend/label"
)

func TestLabelBindPatchesUses(t *testing.T) {
	l := label.New()
	l.Use(4, 2)
	l.Use(10, 2)
	if l.IsBound() {
		t.Fatalf("new label must start unbound")
	}
	l.Bind(20, 2)
	if !l.IsBound() {
		t.Fatalf("label must be bound after Bind")
	}
	uses := l.Uses()
	if len(uses) != 2 || uses[0] != 4 || uses[1] != 10 {
		t.Fatalf("Uses() = %v, want [4 10]", uses)
	}
	if got := l.Position(); got != 20 {
		t.Fatalf("Position() = %d, want 20", got)
	}
}

func TestLabelHeightMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on stack height mismatch")
		}
	}()
	l := label.New()
	l.Use(0, 3)
	l.Bind(10, 4)
}

func TestAbsoluteUseLifecycle(t *testing.T) {
	u := label.NewAbsoluteUse(12)
	if !u.HasRelativePosition() {
		t.Fatalf("new absolute use must start relative")
	}
	u.MakeAbsolute(100)
	if u.HasRelativePosition() {
		t.Fatalf("use must be absolute after MakeAbsolute")
	}
	if got := u.AbsolutePosition(); got != 112 {
		t.Fatalf("AbsolutePosition() = %d, want 112", got)
	}
}

func TestAbsoluteLabelBuildReference(t *testing.T) {
	l := label.NewAbsolute()
	use := l.UseAbsolute(6)
	l.Bind(30, 0)
	ref := l.BuildAbsoluteReference()
	if got := ref.AbsolutePosition(1000); got != 1030 {
		t.Fatalf("AbsolutePosition(1000) = %d, want 1030", got)
	}
	if len(ref.Uses()) != 1 || ref.Uses()[0] != use {
		t.Fatalf("Uses() did not return the recorded use")
	}
	use.MakeAbsolute(1000)
	if got := use.AbsolutePosition(); got != 1006 {
		t.Fatalf("patched use AbsolutePosition() = %d, want 1006", got)
	}
}
