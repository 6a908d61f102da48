// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stubs

import (
	"testing"

	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/shape"
)

// buildOptionalParameterProgram builds a single class Greeter with one
// instance method greet(name, greeting="Hello") — one required unnamed
// argument, one optional named argument — plus a top-level caller that
// virtually invokes greet with only the required argument supplied. This
// is the worked "optional parameter stub" scenario.
func buildOptionalParameterProgram() (*ir.Program, *ir.Class, *ir.Method) {
	resShape := shape.NewResolutionShape(
		shape.CallShape{Arity: 2, Names: []string{"greeting"}}.WithImplicitThis(),
		0, []bool{true},
	)
	greeter := &ir.Class{Name: "Greeter", IsInstantiated: true}
	greet := &ir.Method{
		Name:            "greet",
		Holder:          greeter,
		Kind:            ir.KindInstance,
		ResolutionShape: resShape,
		Parameters: []*ir.Parameter{
			{Local: ir.Local{Name: "this"}, OriginalIndex: -1},
			{Local: ir.Local{Name: "name"}, OriginalIndex: 0},
			{Local: ir.Local{Name: "greeting"}, OriginalIndex: 1},
		},
		Body: &ir.Return{Value: &ir.LiteralNull{}},
	}
	greeter.Methods = []*ir.Method{greet}

	callShape := shape.CallShape{Arity: 1}.WithImplicitThis()
	call := &ir.CallVirtual{
		Call:   ir.Call{Shape: callShape},
		Target: &ir.Dot{Receiver: &ir.LiteralNull{}, Selector: "greet"},
	}
	caller := &ir.Method{
		Name: "caller",
		Kind: ir.KindGlobalFun,
		Body: call,
	}

	program := &ir.Program{
		Classes: []*ir.Class{greeter},
		Methods: []*ir.Method{caller},
	}
	return program, greeter, greet
}

func TestAdapterStubSynthesizedForNarrowerCallShape(t *testing.T) {
	program, greeter, greet := buildOptionalParameterProgram()

	AddAdapterStubsAndSwitchToPlainShapes(program)

	if !greet.UsesPlainShape() {
		t.Fatalf("greet: plain shape not assigned")
	}
	wantFull := shape.CallShape{Arity: 2, Names: []string{"greeting"}}.WithImplicitThis().ToPlainShape()
	if !greet.PlainShape.Equal(wantFull.CallShape) {
		t.Errorf("greet plain shape = %+v, want %+v", greet.PlainShape, wantFull)
	}

	var stub *ir.Method
	for _, m := range greeter.Methods {
		if m.Kind == ir.KindAdapterStub {
			stub = m
		}
	}
	if stub == nil {
		t.Fatalf("no adapter stub synthesized on Greeter; methods = %v", greeter.Methods)
	}

	wantStubShape := shape.CallShape{Arity: 1}.WithImplicitThis().ToPlainShape()
	if !stub.PlainShape.Equal(wantStubShape.CallShape) {
		t.Errorf("stub plain shape = %+v, want %+v", stub.PlainShape, wantStubShape)
	}
	if len(stub.Parameters) != 2 {
		t.Fatalf("stub parameters = %d, want 2 (this, name)", len(stub.Parameters))
	}

	ret, ok := stub.Body.(*ir.Return)
	if !ok {
		t.Fatalf("stub body = %T, want *ir.Return", stub.Body)
	}
	forwardCall, ok := ret.Value.(*ir.CallStatic)
	if !ok {
		t.Fatalf("stub forwards via %T, want *ir.CallStatic", ret.Value)
	}
	if forwardCall.Method.Target != greet {
		t.Errorf("stub forwards to %v, want greet", forwardCall.Method.Target)
	}
	if !forwardCall.IsTailCall {
		t.Errorf("stub forward call is not marked tail call")
	}
	if len(forwardCall.Arguments) != 3 {
		t.Fatalf("stub forwards %d arguments, want 3 (this, name, greeting)", len(forwardCall.Arguments))
	}
	if _, ok := forwardCall.Arguments[0].(*ir.ReferenceLocal); !ok {
		t.Errorf("forwarded this = %T, want *ir.ReferenceLocal", forwardCall.Arguments[0])
	}
	if _, ok := forwardCall.Arguments[1].(*ir.ReferenceLocal); !ok {
		t.Errorf("forwarded name = %T, want *ir.ReferenceLocal", forwardCall.Arguments[1])
	}
	if _, ok := forwardCall.Arguments[2].(*ir.LiteralNull); !ok {
		t.Errorf("forwarded greeting = %T, want *ir.LiteralNull (unsupplied optional)", forwardCall.Arguments[2])
	}
}

func TestAdapterStubNotSynthesizedWhenFullShapeAlreadyMatches(t *testing.T) {
	program, greeter, greet := buildOptionalParameterProgram()

	fullShape := shape.CallShape{Arity: 2, Names: []string{"greeting"}}.WithImplicitThis()
	program.Methods[0].Body.(*ir.CallVirtual).Shape = fullShape

	AddAdapterStubsAndSwitchToPlainShapes(program)

	for _, m := range greeter.Methods {
		if m.Kind == ir.KindAdapterStub {
			t.Fatalf("unexpected adapter stub synthesized: %+v", m)
		}
	}
	if greet.PlainShape.CallShape.Arity != fullShape.Arity {
		t.Errorf("greet plain shape arity = %d, want %d", greet.PlainShape.CallShape.Arity, fullShape.Arity)
	}
}

// buildInterfaceCheckProgram builds an interface Comparable and a class
// Box implementing it, plus a method using `x is Comparable`. This is
// the worked "interface check" scenario.
func buildInterfaceCheckProgram() (*ir.Program, *ir.Class, *ir.Class) {
	comparable := &ir.Class{Name: "Comparable", IsInterface: true}
	box := &ir.Class{Name: "Box", IsInstantiated: true, Interfaces: []*ir.Class{comparable}}

	check := &ir.Typecheck{
		Kind:       ir.IsCheck,
		Expression: &ir.LiteralNull{},
		Type:       comparable,
		TypeName:   "Comparable",
	}
	user := &ir.Method{Name: "useIt", Kind: ir.KindGlobalFun, Body: &ir.Return{Value: check}}

	program := &ir.Program{
		Classes: []*ir.Class{comparable, box},
		Methods: []*ir.Method{user},
	}
	return program, comparable, box
}

func TestInterfaceStubAssignsSelectorAndAddsMethod(t *testing.T) {
	program, comparable, box := buildInterfaceCheckProgram()

	AddInterfaceStubMethods(program)

	if !comparable.HasTypecheckSelector() {
		t.Fatalf("Comparable: no typecheck selector assigned")
	}
	if comparable.TypecheckSelector.Name != "is-Comparable" {
		t.Errorf("Comparable typecheck selector = %q, want %q", comparable.TypecheckSelector.Name, "is-Comparable")
	}

	var stub *ir.Method
	for _, m := range box.Methods {
		if m.Kind == ir.KindIsInterfaceStub {
			stub = m
		}
	}
	if stub == nil {
		t.Fatalf("Box: no is-interface stub added; methods = %v", box.Methods)
	}
	if stub.Name != "is-Comparable" {
		t.Errorf("stub name = %q, want %q", stub.Name, "is-Comparable")
	}
	if len(stub.Parameters) != 1 {
		t.Fatalf("stub parameters = %d, want 1 (this)", len(stub.Parameters))
	}
	if !stub.UsesPlainShape() {
		t.Errorf("stub: plain shape not assigned")
	}
}

func TestInterfaceStubSkipsNonImplementingClass(t *testing.T) {
	program, _, _ := buildInterfaceCheckProgram()
	other := &ir.Class{Name: "Unrelated", IsInstantiated: true}
	program.Classes = append(program.Classes, other)

	AddInterfaceStubMethods(program)

	for _, m := range other.Methods {
		if m.Kind == ir.KindIsInterfaceStub {
			t.Fatalf("Unrelated class unexpectedly got an is-interface stub: %+v", m)
		}
	}
}

func TestInterfaceStubIdempotentSelectorAssignment(t *testing.T) {
	program, comparable, _ := buildInterfaceCheckProgram()

	AddInterfaceStubMethods(program)
	first := comparable.TypecheckSelector

	// A second Typecheck node against the same interface must not trigger
	// a second (different) selector assignment.
	extra := &ir.Typecheck{Kind: ir.IsCheck, Expression: &ir.LiteralNull{}, Type: comparable}
	program.Methods = append(program.Methods, &ir.Method{
		Name: "useItAgain", Kind: ir.KindGlobalFun, Body: &ir.Return{Value: extra},
	})
	assignTypecheckSelectors(program)

	if comparable.TypecheckSelector.Name != first.Name || !comparable.TypecheckSelector.Shape.Equal(first.Shape.CallShape) {
		t.Errorf("typecheck selector changed on re-assignment: %+v -> %+v", first, comparable.TypecheckSelector)
	}
}
