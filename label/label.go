// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package label implements the backend's two-tier label system: a
// Label is a forward/back patch target within a single function; an
// AbsoluteLabel is the same plus a list of AbsoluteUse records that
// survive the function's own assembly, to be patched once the
// containing function's final position in the image is known (used for
// non-local returns and non-local branches out of nested blocks).
//
// The patch mechanism (record a use's byte offset, later overwrite the
// placeholder once the target is known) is the same one wagon's
// structured-to-unstructured bytecode pass uses for br/br_if/br_table
// (exec/internal/compile/compile.go's patchOffset), adapted here from an
// 8-byte absolute jump target to this backend's 16-bit in-function
// displacement and 32-bit absolute placeholder.
package label

import "github.com/bclang/backend/internal/fail"

// Label is a forward/back patch target within one function's bytecode
// stream. A branch instruction targeting a not-yet-bound label records
// a use (the byte offset of its 16-bit displacement immediate); Bind
// walks every pending use and patches it once the label's final
// position is known.
type Label struct {
	position int // -1 until bound
	uses     []labelUse
	height   int // -1 until fixed by bind or first use
}

type labelUse struct {
	pos    int // byte offset of the 16-bit displacement immediate
	height int // abstract stack height at the point of use
}

// New returns an unbound label.
func New() *Label {
	return &Label{position: -1, height: -1}
}

// IsBound reports whether the label has been bound to a position.
func (l *Label) IsBound() bool {
	return l.position >= 0
}

// Position returns the label's bound byte position. It panics if the
// label is not yet bound.
func (l *Label) Position() int {
	fail.Assertf(l.IsBound(), "label.Position: label not bound")
	return l.position
}

// Use records a pending use of the label at the given byte position
// with the given abstract stack height, for later patching by Bind. It
// panics if the label is already bound (use Position instead for a
// back-branch).
func (l *Label) Use(pos, height int) {
	fail.Assertf(!l.IsBound(), "label.Use: label already bound")
	if l.height == -1 {
		l.height = height
	} else {
		fail.Assertf(l.height == height, "label.Use: stack height mismatch: use has %d, label expects %d", height, l.height)
	}
	l.uses = append(l.uses, labelUse{pos: pos, height: height})
}

// Uses returns the byte positions recorded by Use, for Bind's caller to
// patch.
func (l *Label) Uses() []int {
	out := make([]int, len(l.uses))
	for i, u := range l.uses {
		out[i] = u.pos
	}
	return out
}

// Bind fixes the label's position and expected height. It panics if the
// label is already bound, or if height disagrees with a height already
// established by a prior Use.
func (l *Label) Bind(position, height int) {
	fail.Assertf(!l.IsBound(), "label.Bind: label already bound")
	if l.height == -1 {
		l.height = height
	} else {
		fail.Assertf(l.height == height, "label.Bind: stack height mismatch: bind has %d, label expects %d", height, l.height)
	}
	l.position = position
}

// Height returns the stack height fixed by the first Use or by Bind,
// whichever happened first. It panics if neither has happened yet.
func (l *Label) Height() int {
	fail.Assertf(l.height != -1, "label.Height: label has neither been used nor bound")
	return l.height
}

// AbsoluteUse is a use of an AbsoluteLabel whose final patch value is a
// program-global ("absolute") byte offset rather than an in-function
// displacement. It is heap-allocated and owned by the AbsoluteReference
// that created it; it moves through three states: holding a position
// relative to the start of its own function, then (once MakeAbsolute is
// called) an absolute position, then consumed once its placeholder bytes
// have been patched.
type AbsoluteUse struct {
	pos      int // encodes state: <=0 means relative (stored negated), >0 means absolute
	relative bool
}

// NewAbsoluteUse records a use at the given position, relative to the
// start of the function that contains it.
func NewAbsoluteUse(relativePosition int) *AbsoluteUse {
	return &AbsoluteUse{pos: -relativePosition, relative: true}
}

// HasRelativePosition reports whether MakeAbsolute has not yet been
// called.
func (u *AbsoluteUse) HasRelativePosition() bool {
	return u.relative
}

// MakeAbsolute converts the use's relative position into a
// program-global position once the containing method's base bci is
// known.
func (u *AbsoluteUse) MakeAbsolute(absoluteEntryBci int) {
	fail.Assertf(u.relative, "AbsoluteUse.MakeAbsolute: already absolute")
	relative := -u.pos
	u.pos = absoluteEntryBci + relative
	u.relative = false
}

// AbsolutePosition returns the use's program-global position. It panics
// if MakeAbsolute has not yet been called.
func (u *AbsoluteUse) AbsolutePosition() int {
	fail.Assertf(!u.relative, "AbsoluteUse.AbsolutePosition: still relative")
	return u.pos
}

// AbsoluteReference is what an AbsoluteLabel turns into once bound: a
// position relative to the start of its function, plus every
// AbsoluteUse recorded against it, to be resolved once the function's
// final base bci in the image is known.
type AbsoluteReference struct {
	relativePosition int
	uses             []*AbsoluteUse
}

// AbsolutePosition returns the position this reference names, given the
// absolute base bci of its containing function.
func (r AbsoluteReference) AbsolutePosition(absoluteEntryBci int) int {
	return absoluteEntryBci + r.relativePosition
}

// Uses returns every AbsoluteUse recorded against the label that
// produced this reference.
func (r AbsoluteReference) Uses() []*AbsoluteUse {
	return r.uses
}

// AbsoluteLabel is a Label that can additionally be the target of a
// non-local branch reaching across function boundaries (used for
// non-local returns and breaks/continues out of a block into an
// enclosing function).
type AbsoluteLabel struct {
	Label
	absoluteUses []*AbsoluteUse
}

// NewAbsolute returns an unbound absolute label.
func NewAbsolute() *AbsoluteLabel {
	return &AbsoluteLabel{Label: Label{position: -1, height: -1}}
}

// UseAbsolute records an absolute use at the given position, relative
// to the start of the current function, and returns it so the caller
// can later patch the 32-bit placeholder once it becomes absolute.
func (l *AbsoluteLabel) UseAbsolute(relativePosition int) *AbsoluteUse {
	u := NewAbsoluteUse(relativePosition)
	l.absoluteUses = append(l.absoluteUses, u)
	return u
}

// HasAbsoluteUses reports whether any absolute use has been recorded.
func (l *AbsoluteLabel) HasAbsoluteUses() bool {
	return len(l.absoluteUses) > 0
}

// BuildAbsoluteReference extracts an AbsoluteReference from the label
// once it is bound; the label itself is no longer needed afterward.
func (l *AbsoluteLabel) BuildAbsoluteReference() AbsoluteReference {
	fail.Assertf(l.IsBound(), "AbsoluteLabel.BuildAbsoluteReference: label not bound")
	return AbsoluteReference{relativePosition: l.Position(), uses: l.absoluteUses}
}
