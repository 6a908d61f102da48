// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emitter implements the backend's bytecode assembler: it
// appends opcodes for one function, tracks an abstract expression
// stack, performs the short-range peephole fusions from spec §4.2, and
// picks narrow or wide encodings depending on operand size.
//
// The peephole rewrites here mirror the approach wagon's
// exec/internal/compile package uses for its own bytecode lowering pass
// (exec/internal/compile/compile.go): keep a growable byte buffer plus
// a parallel list of opcode start positions, and patch already-emitted
// bytes in place — but where wagon patches branch targets post hoc,
// this emitter additionally rewrites adjacent opcodes into fused forms
// as they are appended.
package emitter

import (
	"encoding/binary"

	"github.com/bclang/backend/internal/fail"
	"github.com/bclang/backend/label"
)

// StackType tags a single slot of the abstract expression stack.
type StackType int

const (
	Object StackType = iota
	Block
	BlockConstructionToken
)

// Condition selects which form of branch to emit.
type Condition int

const (
	Unconditional Condition = iota
	IfTrue
	IfFalse
)

// FrameSize is the number of interpreter frame words between the top of
// the locals window and the first parameter slot; parameters are
// addressed relative to it the same way original_source/emitter.cc
// addresses them relative to Interpreter::FRAME_SIZE.
const FrameSize = 2

type exprStack struct {
	types     []StackType
	maxHeight int
}

func (s *exprStack) height() int { return len(s.types) }

func (s *exprStack) maxHeightSeen() int { return s.maxHeight }

func (s *exprStack) typeAt(n int) StackType {
	return s.types[len(s.types)-n-1]
}

func (s *exprStack) push(t StackType) {
	s.types = append(s.types, t)
	if len(s.types) > s.maxHeight {
		s.maxHeight = len(s.types)
	}
}

func (s *exprStack) pop(n int) {
	fail.Assertf(n >= 0 && n <= len(s.types), "exprStack.pop: n=%d out of range for height %d", n, len(s.types))
	s.types = s.types[:len(s.types)-n]
}

func (s *exprStack) reserve(extra int) {
	if h := len(s.types) + extra; h > s.maxHeight {
		s.maxHeight = h
	}
}

// Emitter assembles the bytecode for a single function (a plain
// method, an adapter stub, or a nested block/lambda body).
type Emitter struct {
	arity int
	buf   []byte

	// opcodePositions tracks the byte offset of every opcode emitted so
	// far, so peephole fusion can find and rewrite the previous
	// instruction and label binding knows the precise boundary of the
	// suffix that is still safe to rewrite.
	opcodePositions []int
	lastBound       int

	stack exprStack

	absoluteReferences []label.AbsoluteReference
	absoluteUses       []*label.AbsoluteUse

	peepholeFusions int // for backend.Stats
}

// New returns an emitter for a function taking arity parameters
// (including any implicit receiver).
func New(arity int) *Emitter {
	return &Emitter{arity: arity}
}

// Position returns the current end-of-buffer byte offset.
func (e *Emitter) Position() int { return len(e.buf) }

// Arity returns the function's arity.
func (e *Emitter) Arity() int { return e.arity }

// Height returns the current abstract stack height.
func (e *Emitter) Height() int { return e.stack.height() }

// MaxHeight returns the highest abstract stack height reached so far.
func (e *Emitter) MaxHeight() int { return e.stack.maxHeightSeen() }

// PeepholeFusions returns how many peephole rewrites have fired so far.
func (e *Emitter) PeepholeFusions() int { return e.peepholeFusions }

// Bytecodes returns the assembled byte sequence. Valid once the
// function's body is fully emitted.
func (e *Emitter) Bytecodes() []byte { return e.buf }

func (e *Emitter) emitOpcode(op Opcode) {
	e.opcodePositions = append(e.opcodePositions, len(e.buf))
	e.buf = append(e.buf, byte(op))
}

func (e *Emitter) emitUint8(v int) {
	fail.Assertf(v >= 0 && v <= maxByteValue, "emitUint8: value %d out of byte range", v)
	e.buf = append(e.buf, byte(v))
}

func (e *Emitter) emitUint16(v int) {
	fail.Assertf(v >= 0 && v <= maxUshortValue, "emitUint16: value %d out of ushort range", v)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *Emitter) emitUint16At(offset, v int) {
	fail.Assertf(v >= 0 && v <= maxUshortValue, "emitUint16At: value %d out of ushort range", v)
	binary.LittleEndian.PutUint16(e.buf[offset:offset+2], uint16(v))
}

func (e *Emitter) emitUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// emit appends a narrow opcode with its single byte operand.
func (e *Emitter) emit(op Opcode, value int) {
	fail.Assertf(value >= 0 && value <= maxByteValue, "emit(%s): value %d out of byte range", op.Name(), value)
	e.emitOpcode(op)
	e.emitUint8(value)
}

// emitPossiblyWide appends the narrow form of op if value fits a byte,
// else its wide form (op+1) with a 16-bit operand.
func (e *Emitter) emitPossiblyWide(op Opcode, value int) {
	if value <= maxByteValue {
		e.emit(op, value)
		return
	}
	fail.Assertf(value <= maxUshortValue, "emitPossiblyWide(%s): value %d exceeds ushort range", op.Name(), value)
	e.emitOpcode(op.Wide())
	e.emitUint16(value)
}

// lastOpcodePos returns the byte position of the n-th most recently
// emitted opcode (0 = the last one), or (-1, false) if it doesn't exist
// or lies before the last bound label (and so is not safe to rewrite).
func (e *Emitter) lastOpcodePos(n int) (int, bool) {
	if len(e.opcodePositions) <= n {
		return -1, false
	}
	pos := e.opcodePositions[len(e.opcodePositions)-1-n]
	if pos < e.lastBound {
		return -1, false
	}
	return pos, true
}

// PreviousOpcode returns the n-th most recently emitted opcode (0 = the
// last one). The second result is false if there is no such opcode, or
// if it lies before the last bound label and so is unsafe to fuse with.
func (e *Emitter) PreviousOpcode(n int) (Opcode, bool) {
	pos, ok := e.lastOpcodePos(n)
	if !ok {
		return 0, false
	}
	return Opcode(e.buf[pos]), true
}

func (e *Emitter) lastIs(op Opcode) (value int, pos int, ok bool) {
	p, exists := e.lastOpcodePos(0)
	if !exists || Opcode(e.buf[p]) != op {
		return 0, 0, false
	}
	if op.Length() > 1 {
		value = int(e.buf[p+1])
	}
	return value, p, true
}

// Bind binds label to the current position, patching every pending
// forward use's 16-bit displacement to the distance from use to here.
func (e *Emitter) Bind(l *label.Label) {
	pos := e.Position()
	for _, use := range l.Uses() {
		offset := pos - use
		fail.Assertf(offset >= 0, "Bind: negative forward-branch displacement")
		e.emitUint16At(use+1, offset)
	}
	l.Bind(pos, e.Height())
	e.lastBound = pos
}

// LoadInteger emits the narrowest literal-load opcode that can
// represent value, per spec §4.5: {0,1} use the zero/one-immediate
// forms, 2..255 LOAD_SMI_U8, 256..65535 LOAD_SMI_U16, and any in-range
// 32-bit value LOAD_SMI_U32. Values outside 32-bit range must instead
// go through LoadLiteral (the literal pool) — the walker is responsible
// for registering them there.
func (e *Emitter) LoadInteger(value int64) {
	switch {
	case value == 0:
		e.emitOpcode(LOAD_SMI_0)
	case value == 1:
		e.emitOpcode(LOAD_SMI_1)
	case value > 1 && value < 256:
		e.emit(LOAD_SMI_U8, int(value))
	case value >= 256 && value < 65536:
		e.emitOpcode(LOAD_SMI_U16)
		e.emitUint16(int(value))
	case value >= 0 && value <= 0xffffffff:
		e.emitOpcode(LOAD_SMI_U32)
		e.emitUint32(uint32(value))
	default:
		fail.Unreachable("LoadInteger: value %d must be routed through the literal pool", value)
	}
	e.stack.push(Object)
}

// LoadNSmis emits n consecutive zero smis in a single opcode.
func (e *Emitter) LoadNSmis(n int) {
	fail.Assertf(n > 0 && n < 256, "LoadNSmis: n=%d out of range", n)
	e.emit(LOAD_SMIS_0, n)
	for i := 0; i < n; i++ {
		e.stack.push(Object)
	}
}

// LoadLiteral emits a load of literal-pool entry index.
func (e *Emitter) LoadLiteral(index int) {
	fail.Assertf(index >= 0, "LoadLiteral: negative index")
	e.emitPossiblyWide(LOAD_LITERAL, index)
	e.stack.push(Object)
}

// LoadNull emits a push of the null literal.
func (e *Emitter) LoadNull() {
	e.emitOpcode(LOAD_NULL)
	e.stack.push(Object)
}

// LoadGlobalVar emits a load of global slot id, using the lazy-init
// variant if isLazy.
func (e *Emitter) LoadGlobalVar(id int, isLazy bool) {
	op := LOAD_GLOBAL_VAR
	if isLazy {
		op = LOAD_GLOBAL_VAR_LAZY
	}
	e.emitPossiblyWide(op, id)
	e.stack.push(Object)
}

// LoadGlobalVarDynamic emits a load of the global slot whose id is on
// top of the stack.
func (e *Emitter) LoadGlobalVarDynamic() {
	e.emitOpcode(LOAD_GLOBAL_VAR_DYNAMIC)
	e.stack.pop(1)
	e.stack.push(Object)
}

// StoreGlobalVar emits a store into global slot id; the value to store
// must already be on top of the stack.
func (e *Emitter) StoreGlobalVar(id int) {
	e.emitPossiblyWide(STORE_GLOBAL_VAR, id)
}

// StoreGlobalVarDynamic emits a store into the global slot whose id and
// value are the top two stack entries (id above value).
func (e *Emitter) StoreGlobalVarDynamic() {
	e.emitOpcode(STORE_GLOBAL_VAR_DYNAMIC)
	e.stack.pop(2)
}

// LoadField emits a load of instance field n off the receiver on top of
// the stack, fusing with a preceding local load into LOAD_FIELD_LOCAL /
// POP_LOAD_FIELD_LOCAL when n and the local's offset both fit a nibble.
func (e *Emitter) LoadField(n int) {
	fail.Assertf(n >= 0, "LoadField: negative field index")
	e.stack.pop(1)
	e.stack.push(Object)

	if n < 16 {
		if pos, ok := e.lastOpcodePos(0); ok {
			switch op := Opcode(e.buf[pos]); {
			case op >= LOAD_LOCAL_0 && op <= LOAD_LOCAL_5:
				local := int(op - LOAD_LOCAL_0)
				e.buf[pos] = byte(LOAD_FIELD_LOCAL)
				e.emitUint8(n<<4 | local)
				e.peepholeFusions++
				return
			case op == LOAD_LOCAL:
				local := int(e.buf[pos+1])
				if local < 16 {
					e.buf[pos] = byte(LOAD_FIELD_LOCAL)
					e.buf[pos+1] = byte(n<<4 | local)
					e.peepholeFusions++
					return
				}
			case op == POP_LOAD_LOCAL:
				local := int(e.buf[pos+1])
				if local < 16 {
					e.buf[pos] = byte(POP_LOAD_FIELD_LOCAL)
					e.buf[pos+1] = byte(n<<4 | local)
					e.peepholeFusions++
					return
				}
			}
		}
	}
	e.emitPossiblyWide(LOAD_FIELD, n)
}

// StoreField emits a store into instance field n; the stack has
// [..., instance, value] with value on top, and leaves the stored
// value in place of both.
func (e *Emitter) StoreField(n int) {
	fail.Assertf(n >= 0, "StoreField: negative field index")
	e.emitPossiblyWide(STORE_FIELD, n)
	t := e.stack.typeAt(0)
	e.stack.pop(2)
	e.stack.push(t)
}

// emitLoadLocal appends a load of the local at the given absolute
// stack offset, fusing with an immediately preceding POP_1, or with a
// preceding POP 2 (which becomes POP_1), into POP_LOAD_LOCAL per spec
// §4.2; other POP counts are not fused. It uses the fast LOAD_LOCAL_0..5
// opcodes for small offsets.
func (e *Emitter) emitLoadLocal(offset int) {
	if offset <= maxByteValue {
		if _, pos, ok := e.lastIs(POP_1); ok {
			e.buf[pos] = byte(POP_LOAD_LOCAL)
			e.emitUint8(offset)
			e.peepholeFusions++
			return
		}
		if value, pos, ok := e.lastIs(POP); ok && value == 2 {
			e.buf[pos] = byte(POP_1)
			e.buf = e.buf[:len(e.buf)-1] // drop the POP's operand byte
			e.emit(POP_LOAD_LOCAL, offset)
			e.peepholeFusions++
			return
		}
	}
	if offset >= 0 && offset <= 5 {
		e.emitOpcode(LOAD_LOCAL_0 + Opcode(offset))
		return
	}
	e.emitPossiblyWide(LOAD_LOCAL, offset)
}

// LoadLocal emits a load of the n-th local counting from the bottom of
// the current frame's locals window.
func (e *Emitter) LoadLocal(n int) {
	fail.Assertf(n >= 0 && n < e.Height(), "LoadLocal: n=%d out of range for height %d", n, e.Height())
	offset := e.Height() - n - 1
	t := e.stack.typeAt(offset)
	e.stack.push(t)
	e.emitLoadLocal(offset)
}

// LoadOuterLocal emits a load of outer's n-th local, addressed relative
// to outer's own frame; used when assembling a nested block/lambda
// body that captures a value from its enclosing function.
func (e *Emitter) LoadOuterLocal(n int, outer *Emitter) {
	fail.Assertf(n >= 0 && n < outer.Height(), "LoadOuterLocal: n=%d out of range for outer height %d", n, outer.Height())
	fail.Assertf(outer.stack.typeAt(0) == BlockConstructionToken, "LoadOuterLocal: outer top is not a block-construction token")
	offset := outer.Height() - n - 1
	t := outer.stack.typeAt(offset)
	e.emit(LOAD_OUTER, offset)
	e.stack.pop(1) // the block reference
	e.stack.push(t)
}

// LoadParameter emits a load of parameter n (0-indexed from the first
// parameter), addressed below the locals window at the fixed frame
// offset.
func (e *Emitter) LoadParameter(n int, t StackType) {
	fail.Assertf(n >= 0 && n < e.Arity(), "LoadParameter: n=%d out of range for arity %d", n, e.Arity())
	offset := e.Height() + FrameSize + (e.Arity() - n - 1)
	e.stack.push(t)
	e.emitLoadLocal(offset)
}

// LoadOuterParameter is LoadParameter addressed against outer's frame.
func (e *Emitter) LoadOuterParameter(n int, t StackType, outer *Emitter) {
	fail.Assertf(n >= 0 && n < outer.Arity(), "LoadOuterParameter: n=%d out of range for outer arity %d", n, outer.Arity())
	fail.Assertf(outer.stack.typeAt(0) == BlockConstructionToken, "LoadOuterParameter: outer top is not a block-construction token")
	offset := outer.Height() + FrameSize + (outer.Arity() - n - 1)
	e.emit(LOAD_OUTER, offset)
	e.stack.pop(1)
	e.stack.push(t)
}

// StoreLocal emits a store into the n-th local; the value to store must
// already be on top of the stack.
func (e *Emitter) StoreLocal(n int) {
	fail.Assertf(n >= 0 && n < e.Height(), "StoreLocal: n=%d out of range for height %d", n, e.Height())
	offset := e.Height() - n - 1
	e.emit(STORE_LOCAL, offset)
}

// StoreOuterLocal emits a store into outer's n-th local.
func (e *Emitter) StoreOuterLocal(n int, outer *Emitter) {
	fail.Assertf(n >= 0 && n < outer.Height(), "StoreOuterLocal: n=%d out of range for outer height %d", n, outer.Height())
	fail.Assertf(outer.stack.typeAt(0) == BlockConstructionToken, "StoreOuterLocal: outer top is not a block-construction token")
	offset := outer.Height() - n - 1
	e.emit(STORE_OUTER, offset)
	e.stack.pop(1)
}

// StoreParameter emits a store into parameter n.
func (e *Emitter) StoreParameter(n int) {
	fail.Assertf(n >= 0 && n < e.Arity(), "StoreParameter: n=%d out of range for arity %d", n, e.Arity())
	offset := e.Arity() - n - 1
	e.emit(STORE_LOCAL, offset+e.Height()+FrameSize)
}

// StoreOuterParameter emits a store into outer's n-th parameter.
func (e *Emitter) StoreOuterParameter(n int, outer *Emitter) {
	fail.Assertf(n >= 0 && n < outer.Arity(), "StoreOuterParameter: n=%d out of range for outer arity %d", n, outer.Arity())
	fail.Assertf(outer.stack.typeAt(0) == BlockConstructionToken, "StoreOuterParameter: outer top is not a block-construction token")
	offset := outer.Arity() - n - 1
	e.emit(STORE_OUTER, offset+outer.Height()+FrameSize)
	e.stack.pop(1)
}

// LoadBlock emits a load of the n-th local reinterpreted as a block
// reference.
func (e *Emitter) LoadBlock(n int) {
	fail.Assertf(n >= 0 && n < e.Height(), "LoadBlock: n=%d out of range for height %d", n, e.Height())
	offset := e.Height() - n - 1
	e.emit(LOAD_BLOCK, offset)
	e.stack.push(Block)
}

// LoadOuterBlock is LoadBlock addressed against outer's frame, for a
// block reference captured from the enclosing function.
func (e *Emitter) LoadOuterBlock(n int, outer *Emitter) {
	fail.Assertf(n >= 0 && n < outer.Height(), "LoadOuterBlock: n=%d out of range for outer height %d", n, outer.Height())
	fail.Assertf(outer.stack.typeAt(0) == BlockConstructionToken, "LoadOuterBlock: outer top is not a block-construction token")
	offset := outer.Height() - n - 1
	fail.Assertf(outer.stack.typeAt(offset) == Object, "LoadOuterBlock: outer slot is not a plain object reference")
	e.emit(LOAD_OUTER_BLOCK, offset)
	e.stack.pop(1)
	e.stack.push(Block)
}

// Pop emits a pop of n values, fusing with an immediately preceding
// STORE_LOCAL/STORE_FIELD (n==1) or POP/POP_1 per spec §4.2.
func (e *Emitter) Pop(n int) {
	if n == 0 {
		return
	}
	fail.Assertf(n >= 0 && n <= e.Height(), "Pop: n=%d out of range for height %d", n, e.Height())

	prev, hasPrev := e.PreviousOpcode(0)
	lastPos, _ := e.lastOpcodePos(0)
	switch {
	case n == 1 && hasPrev && prev == STORE_LOCAL:
		e.buf[lastPos] = byte(STORE_LOCAL_POP)
		e.peepholeFusions++
	case n == 1 && hasPrev && prev == STORE_FIELD:
		e.buf[lastPos] = byte(STORE_FIELD_POP)
		e.peepholeFusions++
	case hasPrev && (prev == POP || prev == POP_1):
		value := 1
		if prev == POP {
			value = int(e.buf[lastPos+1])
		}
		newValue := value + n
		if newValue <= maxByteValue {
			if prev == POP {
				e.buf[lastPos+1] = byte(newValue)
			} else {
				e.buf[lastPos] = byte(POP)
				e.buf = append(e.buf, byte(newValue))
			}
			e.peepholeFusions++
		} else if n == 1 {
			e.emitOpcode(POP_1)
		} else {
			e.emit(POP, n)
		}
	case n == 1:
		e.emitOpcode(POP_1)
	default:
		e.emit(POP, n)
	}
	e.stack.pop(n)
}

// Dup emits a load of the current top-of-stack value.
func (e *Emitter) Dup() {
	e.LoadLocal(e.Height() - 1)
}

// Forget pops n entries off the abstract stack without emitting any
// bytecode (used when a value was already consumed by bytecode emitted
// through a lower-level path).
func (e *Emitter) Forget(n int) { e.stack.pop(n) }

// Remember pushes n entries of type t onto the abstract stack without
// emitting any bytecode (the mirror of Forget, used after emitting
// bytecode, such as LINK, whose stack effect is fixed but doesn't go
// through the normal push path).
func (e *Emitter) Remember(n int, t StackType) {
	fail.Assertf(n >= 0, "Remember: negative n")
	for i := 0; i < n; i++ {
		e.stack.push(t)
	}
}

// RememberTypes pushes exactly the given types, in order.
func (e *Emitter) RememberTypes(types []StackType) {
	for _, t := range types {
		e.stack.push(t)
	}
}

// StackTypes returns the types of the top n stack entries, in
// bottom-to-top order.
func (e *Emitter) StackTypes(n int) []StackType {
	out := make([]StackType, n)
	for i := 0; i < n; i++ {
		out[i] = e.stack.typeAt(n - i - 1)
	}
	return out
}

// Allocate emits an allocation of an instance of classID.
func (e *Emitter) Allocate(classID int) {
	fail.Assertf(classID >= 0, "Allocate: negative class id")
	e.emitPossiblyWide(ALLOCATE, classID)
	e.stack.push(Object)
}

// InvokeGlobal emits a call to the static/global method at index,
// consuming arity arguments (the receiver, if any, is included in
// arity by the caller). isTailCall selects the tail-call form, which
// additionally records the caller's own height and arity so the
// interpreter can pop the caller's frame before jumping.
func (e *Emitter) InvokeGlobal(index, arity int, isTailCall bool) {
	fail.Assertf(index >= 0, "InvokeGlobal: negative index")
	if isTailCall {
		e.emitOpcode(INVOKE_STATIC_TAIL)
	} else {
		e.emitOpcode(INVOKE_STATIC)
	}
	e.emitUint16(index)
	if isTailCall {
		e.emitUint8(e.Height())
		e.emitUint8(e.Arity())
	}
	e.stack.pop(arity)
	e.stack.push(Object)
}

// InvokeBlock emits a call through a block reference at stack depth
// arity-1, consuming arity values (the block plus its arguments).
func (e *Emitter) InvokeBlock(arity int) {
	fail.Assertf(arity >= 1, "InvokeBlock: arity must be >= 1")
	fail.Assertf(e.stack.typeAt(arity-1) == Block, "InvokeBlock: callee slot is not a block reference")
	e.emit(INVOKE_BLOCK, arity)
	e.stack.pop(arity)
	e.stack.push(Object)
}

// InvokeVirtual emits a virtual dispatch through offset for a call of
// the given arity (receiver included). op selects the specific
// INVOKE_VIRTUAL* family member: a shortcut operator opcode, the
// getter/setter forms, or the general INVOKE_VIRTUAL(_WIDE) form.
func (e *Emitter) InvokeVirtual(op Opcode, offset, arity int) {
	fail.Assertf(offset >= 0, "InvokeVirtual: negative offset")
	fail.Assertf(arity >= 1, "InvokeVirtual: arity must be >= 1")
	switch {
	case op >= INVOKE_EQ && op <= INVOKE_AT_PUT:
		e.emitOpcode(op)
	case op == INVOKE_VIRTUAL_GET || op == INVOKE_VIRTUAL_SET:
		e.emitOpcode(op)
		e.emitUint16(offset)
	default:
		e.emitPossiblyWide(op, arity-1)
		e.emitUint16(offset)
	}
	e.stack.pop(arity)
	e.stack.push(Object)
}

// InvokeInitializerTail emits a tail call to the constructor
// initializer chain, consuming the receiver.
func (e *Emitter) InvokeInitializerTail() {
	e.emitOpcode(INVOKE_INITIALIZER_TAIL)
	e.emitUint8(e.Height())
	e.emitUint8(e.Arity())
	e.stack.pop(1)
}

// InvokeLambdaTail emits a tail call into a lambda body, reserving
// stack room for its captured-variable array.
func (e *Emitter) InvokeLambdaTail(parameters, maxCaptureCount int) {
	e.stack.reserve(maxCaptureCount)
	e.emit(INVOKE_LAMBDA_TAIL, parameters)
}

// Typecheck emits an is/as check of the given opcode family against a
// value already on top of the stack, encoding the type-table index and
// nullable bit into the operand per spec §4.2.
func (e *Emitter) Typecheck(op Opcode, index int, isNullable bool) {
	encoded := index<<1 | boolToInt(isNullable)
	e.emitPossiblyWide(op, encoded)
	e.stack.pop(1)
	e.stack.push(Object)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// TypecheckLocal emits an as-check of local n against type index,
// using the fused AS_LOCAL encoding when offset < 8 and index < 32, and
// returns the bytecode position immediately after the check.
func (e *Emitter) TypecheckLocal(n, index int) int {
	fail.Assertf(n >= 0 && n < e.Height(), "TypecheckLocal: n=%d out of range for height %d", n, e.Height())
	offset := e.Height() - n - 1
	return e.typecheckLocalAtOffset(offset, index)
}

// TypecheckParameter is TypecheckLocal for a parameter.
func (e *Emitter) TypecheckParameter(n, index int) int {
	fail.Assertf(n >= 0 && n < e.Arity(), "TypecheckParameter: n=%d out of range for arity %d", n, e.Arity())
	offset := e.Height() + FrameSize + (e.Arity() - n - 1)
	return e.typecheckLocalAtOffset(offset, index)
}

func (e *Emitter) typecheckLocalAtOffset(offset, index int) int {
	if offset <= 0x07 && index <= 0x1f {
		encoded := offset<<5 | index
		e.emit(AS_LOCAL, encoded)
		return e.Position()
	}
	e.emitLoadLocal(offset)
	e.stack.push(Object)
	e.Typecheck(AS_CLASS, index, false)
	result := e.Position()
	e.Pop(1)
	return result
}

// Primitive emits a call into primitive module/index. The abstract
// stack must be empty: primitives are only ever called at the very
// start of a body, per spec §7's fatal-invariant list.
func (e *Emitter) Primitive(module, index int) {
	fail.Assertf(e.Height() == 0, "Primitive: must be called on an empty stack, height=%d", e.Height())
	e.emit(PRIMITIVE, module)
	e.emitUint16(index)
	e.stack.push(Object)
}

// Branch emits a conditional or unconditional branch to label,
// choosing the forward or back-branch opcode depending on whether the
// label is already bound.
func (e *Emitter) Branch(cond Condition, l *label.Label) {
	var op Opcode
	switch cond {
	case Unconditional:
		if l.IsBound() {
			op = BRANCH_BACK
		} else {
			op = BRANCH
		}
	case IfTrue:
		if l.IsBound() {
			op = BRANCH_BACK_IF_TRUE
		} else {
			op = BRANCH_IF_TRUE
		}
		e.stack.pop(1)
	case IfFalse:
		if l.IsBound() {
			op = BRANCH_BACK_IF_FALSE
		} else {
			op = BRANCH_IF_FALSE
		}
		e.stack.pop(1)
	default:
		fail.Unreachable("Branch: unknown condition %d", cond)
	}

	pos := e.Position()
	if l.IsBound() {
		offset := pos - l.Position()
		fail.Assertf(offset >= 0, "Branch: negative back-branch displacement")
		e.emitPossiblyWideBranch(op, offset)
	} else {
		l.Use(pos, e.Height())
		e.emitOpcode(op)
		e.emitUint16(0)
	}
}

// emitPossiblyWideBranch picks the narrow back-branch opcode (1-byte
// displacement) when it fits, else its wide form.
func (e *Emitter) emitPossiblyWideBranch(op Opcode, offset int) {
	if offset <= maxByteValue {
		e.emit(op, offset)
		return
	}
	fail.Assertf(offset <= maxUshortValue, "emitPossiblyWideBranch: displacement %d too large", offset)
	e.emitOpcode(op.Wide())
	e.emitUint16(offset)
}

// Ret emits a normal return, recording the current height and the
// function's arity so the interpreter can unwind the frame.
func (e *Emitter) Ret() {
	e.emitOpcode(RETURN)
	e.emitUint8(e.Height())
	e.emitUint8(e.Arity())
}

// RetNull emits a return of the null literal, fusing with an
// immediately preceding POP_1/POP into RETURN_NULL per spec §4.2 and
// §8's boundary case.
func (e *Emitter) RetNull() {
	if pos, ok := e.lastOpcodePos(0); ok && Opcode(e.buf[pos]) == POP_1 {
		e.buf[pos] = byte(RETURN_NULL)
		e.emitUint8(e.Height() + 1)
		e.emitUint8(e.Arity())
		e.peepholeFusions++
		return
	}
	if value, pos, ok := e.lastIs(POP); ok {
		e.buf[pos] = byte(RETURN_NULL)
		e.buf[pos+1] = byte(e.Height() + value)
		e.emitUint8(e.Arity())
		e.peepholeFusions++
		return
	}
	e.emitOpcode(RETURN_NULL)
	e.emitUint8(e.Height())
	e.emitUint8(e.Arity())
}

// Nlr emits a non-local return targeting an enclosing function whose
// frame is at the given height with the given arity.
func (e *Emitter) Nlr(height, arity int) {
	if height >= 0x0f || arity >= 0x0f {
		fail.Assertf(height <= maxUshortValue && arity <= maxUshortValue, "Nlr: height/arity exceed ushort range")
		e.emitOpcode(NON_LOCAL_RETURN_WIDE)
		e.emitUint16(arity)
		e.emitUint16(height)
	} else {
		e.emit(NON_LOCAL_RETURN, height<<4|arity)
	}
	e.stack.pop(1)
}

// RegisterAbsoluteReference records reference, collected from a nested
// emitter once its absolute label is bound, so the walker can patch
// its uses once this function's base bci is known.
func (e *Emitter) RegisterAbsoluteReference(ref label.AbsoluteReference) {
	e.absoluteReferences = append(e.absoluteReferences, ref)
}

// NlBranch emits a non-local branch to an absolute label living in an
// enclosing function, recording a placeholder 32-bit absolute position
// to be patched once the label's function is finalized.
func (e *Emitter) NlBranch(l *label.AbsoluteLabel, heightDiff int) {
	e.emit(NON_LOCAL_BRANCH, heightDiff)
	use := l.UseAbsolute(e.Position())
	e.absoluteUses = append(e.absoluteUses, use)
	e.emitUint32(0) // patched once the label's function is finalized.
	e.stack.pop(1)
}

// Throw emits a throw of the value on top of the stack.
func (e *Emitter) Throw() {
	e.emit(THROW, 0)
}

// Link emits the try/finally entry sequence, reserving the four stack
// slots the unwinder needs (exception, reason, and two internal words),
// per spec §4.5.
func (e *Emitter) Link() {
	e.emit(LINK, 0)
	e.Remember(4, Object)
}

// Unlink emits the try/finally normal-exit sequence.
func (e *Emitter) Unlink() {
	e.emit(UNLINK, 0)
	e.stack.pop(1)
}

// Unwind emits the try/finally unwind-continuation sequence.
func (e *Emitter) Unwind() {
	e.emitOpcode(UNWIND)
	e.stack.pop(3)
}

// Halt emits a halt with the given discriminator (HaltYield, HaltExit,
// or HaltDeepSleep).
func (e *Emitter) Halt(discriminator int) {
	e.emit(HALT, discriminator)
}

// IntrinsicSmiRepeat, IntrinsicArrayDo, IntrinsicHashFind and
// IntrinsicHashDo emit the fixed opcode for each well-known intrinsic;
// the walker is responsible for pushing the prelude state (start index,
// dummy block-result slot, or — for hash_find — eight smis) before
// calling these, per spec §4.5.
func (e *Emitter) IntrinsicSmiRepeat() { e.emitOpcode(INTRINSIC_SMI_REPEAT) }
func (e *Emitter) IntrinsicArrayDo()   { e.emitOpcode(INTRINSIC_ARRAY_DO) }
func (e *Emitter) IntrinsicHashFind()  { e.emitOpcode(INTRINSIC_HASH_FIND) }
func (e *Emitter) IntrinsicHashDo()    { e.emitOpcode(INTRINSIC_HASH_DO) }

// IntrinsicMonitorEnter and IntrinsicMonitorExit bracket a monitor
// method's body: GenerateMethod emits the former right after Link and
// the latter right before Unlink, so only one caller at a time executes
// the method body on a given instance.
func (e *Emitter) IntrinsicMonitorEnter() { e.emitOpcode(INTRINSIC_MONITOR_ENTER) }
func (e *Emitter) IntrinsicMonitorExit()  { e.emitOpcode(INTRINSIC_MONITOR_EXIT) }

// BuildAbsoluteReferences returns every AbsoluteReference registered
// against this emitter by a nested emitter whose absolute label was
// bound within it.
func (e *Emitter) BuildAbsoluteReferences() []label.AbsoluteReference {
	return e.absoluteReferences
}

// BuildAbsoluteUses returns every AbsoluteUse this emitter itself
// recorded via NlBranch, to be patched once this function's base bci
// is known.
func (e *Emitter) BuildAbsoluteUses() []*label.AbsoluteUse {
	return e.absoluteUses
}
