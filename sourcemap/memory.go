// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sourcemap

import "github.com/bclang/backend/ir"

// CallSite is one RegisterCall entry.
type CallSite struct {
	BCI   int
	Range BCIRange
}

// AsCheckSite is one RegisterAsCheck entry.
type AsCheckSite struct {
	BCI      int
	Range    BCIRange
	TypeName string
}

// Record is the accumulated debug information for one method, global
// initializer, block, or lambda body.
type Record struct {
	Method *ir.Method // nil for a global initializer or a nested block/lambda opened without a node
	Global *ir.Global
	Node   *ir.Code // nil for a top-level method/global

	Calls    []CallSite
	AsChecks []AsCheckSite
	Blocks   []*Record
	Lambdas  []*Record

	MethodID       int
	BytecodeLength int
	Finalized      bool
}

var _ Sink = (*Memory)(nil)
var _ ClassSink = (*Memory)(nil)

// Memory is an in-memory Sink/ClassSink reference implementation: every
// RegisterMethod/RegisterGlobal call opens a Record kept in Methods, and
// every handle operation appends directly into that Record (or one of
// its nested Blocks/Lambdas records), mirroring the flat per-concern
// slice layout imagesink.Memory uses for the program image.
type Memory struct {
	SelectorOffsets map[string]int
	Methods         []*Record
	Classes         []ClassMemoryEntry
	Globals         []*ir.Global
}

// ClassMemoryEntry is one AddClassEntry call recorded by Memory.
type ClassMemoryEntry struct {
	ID    int
	Class *ir.Class
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{SelectorOffsets: map[string]int{}}
}

func (m *Memory) RegisterSelectorOffset(offset int, name string) {
	m.SelectorOffsets[name] = offset
}

func (m *Memory) RegisterMethod(method *ir.Method) Handle {
	rec := &Record{Method: method}
	m.Methods = append(m.Methods, rec)
	return &handle{rec: rec}
}

func (m *Memory) RegisterGlobal(global *ir.Global) Handle {
	rec := &Record{Global: global}
	m.Methods = append(m.Methods, rec)
	return &handle{rec: rec}
}

func (m *Memory) AddClassEntry(id int, class *ir.Class) {
	m.Classes = append(m.Classes, ClassMemoryEntry{ID: id, Class: class})
}

func (m *Memory) AddGlobalEntry(global *ir.Global) {
	m.Globals = append(m.Globals, global)
}

// handle implements Handle over a single Record.
type handle struct {
	rec *Record
}

func (h *handle) RegisterBlock(node *ir.Code) Handle {
	nested := &Record{Node: node}
	h.rec.Blocks = append(h.rec.Blocks, nested)
	return &handle{rec: nested}
}

func (h *handle) RegisterLambda(node *ir.Code) Handle {
	nested := &Record{Node: node}
	h.rec.Lambdas = append(h.rec.Lambdas, nested)
	return &handle{rec: nested}
}

func (h *handle) RegisterCall(bci int, bciRange BCIRange) {
	h.rec.Calls = append(h.rec.Calls, CallSite{BCI: bci, Range: bciRange})
}

func (h *handle) RegisterAsCheck(bci int, bciRange BCIRange, typeName string) {
	h.rec.AsChecks = append(h.rec.AsChecks, AsCheckSite{BCI: bci, Range: bciRange, TypeName: typeName})
}

func (h *handle) Finalize(methodID int, bytecodeLength int) {
	h.rec.MethodID = methodID
	h.rec.BytecodeLength = bytecodeLength
	h.rec.Finalized = true
}

// Noop is a Sink/ClassSink that discards everything, for callers that
// don't need debug output (e.g. a throwaway test image).
type Noop struct{}

var _ Sink = Noop{}
var _ ClassSink = Noop{}

func (Noop) RegisterSelectorOffset(int, string)     {}
func (Noop) RegisterMethod(*ir.Method) Handle       { return noopHandle{} }
func (Noop) RegisterGlobal(*ir.Global) Handle       { return noopHandle{} }
func (Noop) AddClassEntry(int, *ir.Class)           {}
func (Noop) AddGlobalEntry(*ir.Global)              {}

type noopHandle struct{}

func (noopHandle) RegisterBlock(*ir.Code) Handle                { return noopHandle{} }
func (noopHandle) RegisterLambda(*ir.Code) Handle               { return noopHandle{} }
func (noopHandle) RegisterCall(int, BCIRange)                   {}
func (noopHandle) RegisterAsCheck(int, BCIRange, string)        {}
func (noopHandle) Finalize(int, int)                            {}
