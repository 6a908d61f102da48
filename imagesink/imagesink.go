// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imagesink defines the Sink interface the code generator emits
// a finished program image through, plus Memory, an in-memory reference
// implementation used by tests and by cmd/bcdump.
//
// Sink is the only channel through which compiled bytecode, literals and
// dispatch-table contents reach the output image. Every append-only
// operation either returns a stable integer id the caller stores for
// later reference (create_method, add_string, ...) or has no return
// value at all; none signal failure once the codegen's own precondition
// checks have passed, matching the "no partial output" rule the backend
// driver follows.
package imagesink

// MethodID identifies a method, block, or lambda body registered with
// the sink.
type MethodID int

// LiteralIndex identifies an entry in the sink's literal pool.
type LiteralIndex int

// Sink is the program-image builder interface consumed by codegen and
// the backend driver. Implementations only ever append; nothing here is
// mutated once written except via the explicit Patch call.
type Sink interface {
	// CreateClass registers a class's runtime metadata: its dispatch id,
	// display name, instance size in bytes, and whether it is a
	// compiler-internal runtime class.
	CreateClass(id int, name string, instanceSizeBytes int, isRuntime bool)

	// CreateMethod stores a fully assembled method body and returns its
	// stable id. dispatchOffset is -1 for methods with no virtual
	// selector (statics, stubs reached only by direct call).
	CreateMethod(dispatchOffset int, isFieldAccessor bool, arity int, bytecodes []byte, maxHeight int) MethodID

	// CreateBlock stores a block body (shares its enclosing frame).
	CreateBlock(arity int, bytecodes []byte, maxHeight int) MethodID

	// CreateLambda stores a lambda body (owns its own frame, capturing
	// capturedCount outer values).
	CreateLambda(capturedCount, arity int, bytecodes []byte, maxHeight int) MethodID

	// AbsoluteBCIFor returns the absolute bytecode index a method's body
	// starts at within the image, for patching absolute references that
	// point into it.
	AbsoluteBCIFor(id MethodID) int

	// PatchUint32At overwrites the 4 bytes at an absolute bytecode index
	// with value, little-endian. Used to resolve forward/absolute
	// references once their target's final position is known.
	PatchUint32At(absoluteBCI int, value uint32)

	// AddString, AddByteArray, AddDouble and AddInteger intern a literal
	// and return its pool index, reused across identical literals.
	AddString(s string) LiteralIndex
	AddByteArray(b []byte) LiteralIndex
	AddDouble(d float64) LiteralIndex
	AddInteger(i int64) LiteralIndex

	// PushNull, PushBoolean, PushSmi, PushLargeInteger, PushString,
	// PushDouble and PushLazyInitializerID append one entry to the
	// initial global-variable vector under construction.
	PushNull()
	PushBoolean(v bool)
	PushSmi(v int64)
	PushLargeInteger(v int64)
	PushString(s string)
	PushDouble(d float64)
	PushLazyInitializerID(id MethodID)

	// CreateDispatchTable allocates the table with length entries, all
	// initially unset; CreateGlobalVariables allocates the global vector.
	CreateDispatchTable(length int)
	SetDispatchTableEntry(index int, id MethodID)
	CreateGlobalVariables(count int)

	// SetClassCheckIDs and SetInterfaceCheckOffsets install the sorted
	// class-id-range list and interface-selector-offset list used by
	// fast typecheck dispatch.
	SetClassCheckIDs(ids []uint16)
	SetInterfaceCheckOffsets(offsets []uint16)

	// CreateClassBitsTable allocates the per-instantiated-class bits
	// table (one entry per instantiated class id).
	CreateClassBitsTable(instantiatedCount int)

	// SetEntryPointIndex installs the dispatch-table index a named entry
	// point (program-start, uncaught-handler, ...) resolves to.
	SetEntryPointIndex(entryPointSlot, dispatchTableIndex int)

	// SetInvokeBytecodeOffset records the shortcut dispatch offset for
	// one of the built-in operator opcodes.
	SetInvokeBytecodeOffset(opcode int, offset int)

	// Cook finalizes the image. No further writes are permitted after
	// Cook returns.
	Cook()
}
