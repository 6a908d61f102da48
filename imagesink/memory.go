// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imagesink

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
)

// ClassEntry is one CreateClass call recorded by Memory.
type ClassEntry struct {
	ID                int
	Name              string
	InstanceSizeBytes int
	IsRuntime         bool
}

// MethodEntry is one CreateMethod/CreateBlock/CreateLambda call recorded
// by Memory. Blocks and lambdas carry DispatchOffset -1 and
// IsFieldAccessor false; CapturedCount is only meaningful for lambdas.
type MethodEntry struct {
	DispatchOffset  int
	IsFieldAccessor bool
	Arity           int
	CapturedCount   int
	Bytecodes       []byte
	MaxHeight       int

	// BaseBCI is this method's absolute starting offset within the
	// concatenated code section, assigned when the entry is created.
	BaseBCI int
}

// GlobalEntry is one pushed entry in the initial global-variable vector.
type GlobalEntry struct {
	Kind  GlobalKind
	Bool  bool
	Smi   int64
	Large int64
	Str   string
	Dbl   float64
	Lazy  MethodID
}

// GlobalKind tags the active field of a GlobalEntry.
type GlobalKind int

const (
	GlobalNull GlobalKind = iota
	GlobalBoolean
	GlobalSmi
	GlobalLargeInteger
	GlobalString
	GlobalDouble
	GlobalLazyInitializer
)

var _ Sink = (*Memory)(nil)

// Memory is an in-memory, index-space-per-concern Sink implementation:
// each CreateX call appends to a flat slice and returns its index,
// mirroring how wasm.Module keeps one slice per section rather than a
// single tagged heap. It exists for tests and for cmd/bcdump, which load
// a Memory back in to disassemble it; it is not a production on-disk
// serializer.
type Memory struct {
	Classes   []ClassEntry
	Methods   []MethodEntry
	Globals   []GlobalEntry
	Code      []byte // concatenated bytecode of every method/block/lambda, in creation order
	Literals  []Literal
	DispatchTable []MethodID

	ClassCheckIDs          []uint16
	InterfaceCheckOffsets  []uint16
	ClassBitsTable         []byte
	EntryPoints            map[int]int // entry point slot -> dispatch table index
	InvokeBytecodeOffsets  map[int]int // opcode -> shortcut offset

	Cooked bool
}

// Literal is one entry in the literal pool; exactly one of the typed
// fields is meaningful, selected by Kind.
type Literal struct {
	Kind  LiteralKind
	Str   string
	Bytes []byte
	Dbl   float64
	Int   int64
}

// LiteralKind tags the active field of a Literal.
type LiteralKind int

const (
	LiteralKindString LiteralKind = iota
	LiteralKindByteArray
	LiteralKindDouble
	LiteralKindInteger
)

// NewMemory returns an empty Memory sink ready to receive writes.
func NewMemory() *Memory {
	return &Memory{
		EntryPoints:           map[int]int{},
		InvokeBytecodeOffsets: map[int]int{},
	}
}

func (m *Memory) CreateClass(id int, name string, instanceSizeBytes int, isRuntime bool) {
	m.Classes = append(m.Classes, ClassEntry{ID: id, Name: name, InstanceSizeBytes: instanceSizeBytes, IsRuntime: isRuntime})
}

func (m *Memory) appendMethod(entry MethodEntry) MethodID {
	entry.BaseBCI = len(m.Code)
	m.Code = append(m.Code, entry.Bytecodes...)
	id := MethodID(len(m.Methods))
	m.Methods = append(m.Methods, entry)
	return id
}

func (m *Memory) CreateMethod(dispatchOffset int, isFieldAccessor bool, arity int, bytecodes []byte, maxHeight int) MethodID {
	return m.appendMethod(MethodEntry{
		DispatchOffset:  dispatchOffset,
		IsFieldAccessor: isFieldAccessor,
		Arity:           arity,
		Bytecodes:       bytecodes,
		MaxHeight:       maxHeight,
	})
}

func (m *Memory) CreateBlock(arity int, bytecodes []byte, maxHeight int) MethodID {
	return m.appendMethod(MethodEntry{DispatchOffset: -1, Arity: arity, Bytecodes: bytecodes, MaxHeight: maxHeight})
}

func (m *Memory) CreateLambda(capturedCount, arity int, bytecodes []byte, maxHeight int) MethodID {
	return m.appendMethod(MethodEntry{
		DispatchOffset: -1,
		Arity:          arity,
		CapturedCount:  capturedCount,
		Bytecodes:      bytecodes,
		MaxHeight:      maxHeight,
	})
}

func (m *Memory) AbsoluteBCIFor(id MethodID) int {
	return m.Methods[id].BaseBCI
}

func (m *Memory) PatchUint32At(absoluteBCI int, value uint32) {
	binary.LittleEndian.PutUint32(m.Code[absoluteBCI:absoluteBCI+4], value)
}

func (m *Memory) internLiteral(l Literal) LiteralIndex {
	for i, existing := range m.Literals {
		if literalsEqual(existing, l) {
			return LiteralIndex(i)
		}
	}
	m.Literals = append(m.Literals, l)
	return LiteralIndex(len(m.Literals) - 1)
}

func literalsEqual(a, b Literal) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case LiteralKindString:
		return a.Str == b.Str
	case LiteralKindByteArray:
		return bytes.Equal(a.Bytes, b.Bytes)
	case LiteralKindDouble:
		return a.Dbl == b.Dbl
	case LiteralKindInteger:
		return a.Int == b.Int
	default:
		return false
	}
}

func (m *Memory) AddString(s string) LiteralIndex {
	return m.internLiteral(Literal{Kind: LiteralKindString, Str: s})
}

func (m *Memory) AddByteArray(b []byte) LiteralIndex {
	return m.internLiteral(Literal{Kind: LiteralKindByteArray, Bytes: append([]byte(nil), b...)})
}

func (m *Memory) AddDouble(d float64) LiteralIndex {
	return m.internLiteral(Literal{Kind: LiteralKindDouble, Dbl: d})
}

func (m *Memory) AddInteger(i int64) LiteralIndex {
	return m.internLiteral(Literal{Kind: LiteralKindInteger, Int: i})
}

func (m *Memory) PushNull() { m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalNull}) }
func (m *Memory) PushBoolean(v bool) {
	m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalBoolean, Bool: v})
}
func (m *Memory) PushSmi(v int64)          { m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalSmi, Smi: v}) }
func (m *Memory) PushLargeInteger(v int64) { m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalLargeInteger, Large: v}) }
func (m *Memory) PushString(s string)      { m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalString, Str: s}) }
func (m *Memory) PushDouble(d float64)     { m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalDouble, Dbl: d}) }
func (m *Memory) PushLazyInitializerID(id MethodID) {
	m.Globals = append(m.Globals, GlobalEntry{Kind: GlobalLazyInitializer, Lazy: id})
}

func (m *Memory) CreateDispatchTable(length int) {
	m.DispatchTable = make([]MethodID, length)
	for i := range m.DispatchTable {
		m.DispatchTable[i] = -1
	}
}

func (m *Memory) SetDispatchTableEntry(index int, id MethodID) {
	m.DispatchTable[index] = id
}

func (m *Memory) CreateGlobalVariables(count int) {
	m.Globals = make([]GlobalEntry, 0, count)
}

func (m *Memory) SetClassCheckIDs(ids []uint16)         { m.ClassCheckIDs = ids }
func (m *Memory) SetInterfaceCheckOffsets(offsets []uint16) { m.InterfaceCheckOffsets = offsets }

func (m *Memory) CreateClassBitsTable(instantiatedCount int) {
	m.ClassBitsTable = make([]byte, instantiatedCount)
}

func (m *Memory) SetEntryPointIndex(entryPointSlot, dispatchTableIndex int) {
	m.EntryPoints[entryPointSlot] = dispatchTableIndex
}

func (m *Memory) SetInvokeBytecodeOffset(opcode int, offset int) {
	m.InvokeBytecodeOffsets[opcode] = offset
}

func (m *Memory) Cook() { m.Cooked = true }

// WriteTo serializes the cooked image as a gob stream, the on-disk
// format cmd/bcdump reads back via ReadMemory.
func (m *Memory) WriteTo(w io.Writer) error {
	return gob.NewEncoder(w).Encode(m)
}

// ReadMemory decodes a Memory image previously written by WriteTo. r is
// typically a bytes.Reader wrapping an mmap'd image file.
func ReadMemory(r io.Reader) (*Memory, error) {
	m := &Memory{}
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return nil, err
	}
	return m, nil
}
