// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sourcemap defines the Sink interface the code generator
// reports debug-location information through, plus Memory, an
// in-memory reference implementation used by tests.
//
// The source map is append-only and entirely separate from the program
// image: losing it (or never writing to a Sink at all, via Noop) never
// changes program behavior, only the quality of crash reports and
// debugger output.
package sourcemap

import "github.com/bclang/backend/ir"

// BCIRange is a half-open range of bytecode indices relative to a
// method's start.
type BCIRange struct {
	Start, End int
}

// Sink records where each compiled entity's bytecode range and each
// notable instruction within it came from in source.
type Sink interface {
	// RegisterSelectorOffset records the dispatch-table offset assigned
	// to a selector name, for symbolizing dispatch-table dumps.
	RegisterSelectorOffset(offset int, name string)

	// RegisterMethod and RegisterGlobal open a new entry for a top-level
	// or class method / a global initializer, returning a Handle used to
	// record the rest of its debug information.
	RegisterMethod(method *ir.Method) Handle
	RegisterGlobal(global *ir.Global) Handle
}

// Handle accumulates debug information for one method body as the
// walker emits it, and commits it to the Sink on Finalize.
type Handle interface {
	// RegisterBlock and RegisterLambda open a nested handle for a block
	// or lambda literal found inside this body.
	RegisterBlock(node *ir.Code) Handle
	RegisterLambda(node *ir.Code) Handle

	// RegisterCall records that the instructions in bciRange implement
	// the call expression ending at bci.
	RegisterCall(bci int, bciRange BCIRange)

	// RegisterAsCheck records that the instructions in bciRange implement
	// an `as` check against typeName.
	RegisterAsCheck(bci int, bciRange BCIRange, typeName string)

	// Finalize commits this handle's accumulated entries under the given
	// image method id and total bytecode length.
	Finalize(methodID int, bytecodeLength int)
}

// ClassSink is implemented by sinks that also record per-class and
// per-global debug metadata, installed once after the dispatch table and
// globals are finalized.
type ClassSink interface {
	AddClassEntry(id int, class *ir.Class)
	AddGlobalEntry(global *ir.Global)
}
