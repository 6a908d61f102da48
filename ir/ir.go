// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir holds the fully-resolved, typed program tree the backend
// consumes: classes, methods, globals and their expression bodies.
// Front-end concerns (parsing, scope resolution, type inference) build
// this tree; the backend only ever reads it, except for the id/index
// fields the dispatch-table builder and stub synthesizer assign
// write-once during emission.
//
// Rather than the deep class hierarchy with virtual double-dispatch the
// tree uses in other implementations, nodes here are a flat set of
// concrete Go types satisfying the Node/Expression marker interfaces;
// a walker consumes them with a type switch. This is the same shape
// wagon's own IR-ish types use (`wasm.FunctionSig`, `operators.Op` as
// plain structs switched over by the bytecode disassembler) rather than
// an open class hierarchy.
package ir

import "github.com/bclang/backend/shape"

// Node is implemented by every tree node.
type Node interface {
	isNode()
}

// Program is the whole resolved tree the backend compiles.
type Program struct {
	Classes          []*Class
	Methods          []*Method
	Globals          []*Global
	TreeRoots        []*Class
	EntryPoints      []*Method
	LookupFailure    *Method
	AsCheckFailure   *Method
	LambdaBox        *Class
}

func (*Program) isNode() {}

// Class is a resolved class or interface declaration.
type Class struct {
	Name          string
	Super         *Class
	Interfaces    []*Class
	Constructors  []*Method
	Factories     []*Method
	Methods       []*Method
	Fields        []*Field
	IsAbstract    bool
	IsInterface   bool
	IsRuntime     bool
	IsInstantiated bool

	// TypecheckSelector is only set for interfaces: the synthetic
	// "is-<Name>" selector every implementing class gets an
	// IsInterfaceStub for.
	TypecheckSelector shape.DispatchSelector

	TotalFieldCount int

	// Reserved for the dispatch-table builder.
	ID      int
	StartID int
	EndID   int

	idSet, startIDSet, endIDSet bool
}

func (*Class) isNode() {}

// SetID assigns the class's dispatch-table id. Panics if already set.
func (c *Class) SetID(id int) {
	assertUnset(c.idSet, "Class.SetID")
	c.ID, c.idSet = id, true
}

// SetStartID assigns the start of the instantiated-subclass id range.
func (c *Class) SetStartID(id int) {
	assertUnset(c.startIDSet, "Class.SetStartID")
	c.StartID, c.startIDSet = id, true
}

// SetEndID assigns the end (exclusive) of the instantiated-subclass id range.
func (c *Class) SetEndID(id int) {
	assertUnset(c.endIDSet, "Class.SetEndID")
	c.EndID, c.endIDSet = id, true
}

// HasEndID reports whether SetEndID has been called; a class with no
// instantiated subclass yet to extend its range has not.
func (c *Class) HasEndID() bool { return c.endIDSet }

// HasTypecheckSelector reports whether the stub synthesizer has already
// assigned this interface its "is-<Name>" selector.
func (c *Class) HasTypecheckSelector() bool { return c.TypecheckSelector.Name != "" }

func assertUnset(set bool, who string) {
	if set {
		panic(who + ": already set")
	}
}

// MethodKind classifies what a Method represents.
type MethodKind int

const (
	KindInstance MethodKind = iota
	KindGlobalFun
	KindGlobalInitializer
	KindConstructor
	KindFactory
	KindFieldInitializer
	KindAdapterStub
	KindIsInterfaceStub
	KindFieldStub
	KindMonitorMethod
)

// Method is a function: a free function, an instance method, a
// constructor/factory, a global initializer, or a synthesized stub.
//
// Exactly one of ResolutionShape/PlainShape is meaningful at a time:
// methods carry a ResolutionShape until the stub synthesizer collapses
// it to a single PlainShape.
type Method struct {
	Name   string
	Holder *Class // nil if not inside a class
	Kind   MethodKind

	ResolutionShape shape.ResolutionShape
	PlainShape      shape.PlainShape
	usePlainShape   bool

	Parameters []*Parameter
	Body       Expression // may be nil for abstract methods
	ReturnType string     // empty if untyped/inferred away

	IsAbstract    bool
	IsDead        bool
	DoesNotReturn bool
	IsRuntime     bool

	// IsMonitorMethod marks an instance method declared inside a monitor
	// class: GenerateMethod wraps its body in LINK/INTRINSIC_MONITOR_ENTER
	// on entry and INTRINSIC_MONITOR_EXIT/UNLINK on every exit, so only one
	// caller at a time can be running the method on a given instance.
	IsMonitorMethod bool

	// Index is the method's global dispatch-table slot, assigned
	// write-once during emission.
	Index    int
	indexSet bool
}

func (*Method) isNode() {}

// SetPlainShape collapses the method onto a single calling convention,
// the form every stub-synthesized or already-monomorphic method uses.
func (m *Method) SetPlainShape(s shape.PlainShape) {
	m.PlainShape = s
	m.usePlainShape = true
}

// UsesPlainShape reports whether SetPlainShape has been called.
func (m *Method) UsesPlainShape() bool { return m.usePlainShape }

func (m *Method) IsStatic() bool     { return !m.IsInstance() }
func (m *Method) IsInstance() bool   { return m.Kind == KindInstance || m.Kind == KindFieldInitializer || m.Kind == KindMonitorMethod || m.IsMonitorMethod }
func (m *Method) IsConstructor() bool { return m.Kind == KindConstructor }
func (m *Method) IsFactory() bool    { return m.Kind == KindFactory }
func (m *Method) HasImplicitThis() bool {
	return m.IsInstance() || m.IsConstructor()
}
func (m *Method) HasBody() bool { return m.Body != nil }

// SetIndex assigns the method's global dispatch-table slot. Panics if
// already set.
func (m *Method) SetIndex(index int) {
	assertUnset(m.indexSet, "Method.SetIndex")
	m.Index, m.indexSet = index, true
}

// IndexIsSet reports whether SetIndex has been called.
func (m *Method) IndexIsSet() bool { return m.indexSet }

// Global is a module-level variable, modeled as a zero-argument method
// whose body computes its initial value.
type Global struct {
	Method
	IsFinal         bool
	IsLazy          bool
	MutationCount   int
	GlobalID        int
	globalIDSet     bool
}

func (*Global) isNode() {}

func (g *Global) IsEffectivelyFinal() bool { return g.MutationCount == 0 }

// SetGlobalID assigns the global's contiguous slot, write-once.
func (g *Global) SetGlobalID(id int) {
	assertUnset(g.globalIDSet, "Global.SetGlobalID")
	g.GlobalID, g.globalIDSet = id, true
}

// Field is a resolved instance field declaration.
type Field struct {
	Name           string
	Holder         *Class
	IsFinal        bool
	ResolvedIndex  int
	resolvedIndexSet bool
}

func (*Field) isNode() {}

// SetResolvedIndex assigns the field's storage slot within its class,
// write-once.
func (f *Field) SetResolvedIndex(index int) {
	assertUnset(f.resolvedIndexSet, "Field.SetResolvedIndex")
	f.ResolvedIndex, f.resolvedIndexSet = index, true
}

// Local is a resolved local variable or block parameter.
type Local struct {
	Name            string
	IsFinalFlag     bool
	IsBlockFlag     bool
	MutationCount   int
	IsCapturedFlag  bool
	Index           int
}

func (*Local) isNode() {}

func (l *Local) IsEffectivelyFinal() bool { return l.MutationCount == 0 }

// Parameter is a Local bound to a fixed position in a method's
// parameter list.
type Parameter struct {
	Local
	HasDefaultValue bool
	OriginalIndex   int // -1 if synthesized, not written by the user
}

// CapturedLocal is a parameter synthesized to forward a captured outer
// local/block into a nested Code body.
type CapturedLocal struct {
	Parameter
	Captured *Local
}

// Block is a Local that additionally denotes a block parameter/binding.
type Block struct {
	Local
}
