// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stubs runs the pre-emission pass that collapses every method
// from its as-declared resolution shape (optional unnamed/named
// parameters, block or non-block) down to one or more concrete plain
// shapes: it synthesizes adapter stubs that fill in missing optional
// arguments and tail-call the real method, and interface-check stubs
// that turn an `is`/`as` test against an interface into an ordinary
// virtual dispatch.
//
// After this pass every ir.Method in the program has PlainShape set and
// ResolutionShape is no longer consulted by the dispatch-table builder
// or the code generator.
package stubs

import (
	"github.com/bclang/backend/internal/fail"
	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/shape"
)

// AddAdapterStubsAndSwitchToPlainShapes gives every method in program a
// PlainShape. Methods with optional parameters that are ever targeted by
// a virtual call under a narrower shape get an AdapterStub per distinct
// shape that needs one, attached to the method's holder class.
//
// Ported from add_stub_methods_and_switch_to_plain_shapes in
// original_source/src/compiler/stubs.cc.
func AddAdapterStubsAndSwitchToPlainShapes(program *ir.Program) {
	callShapesByName := collectCallShapes(program)

	for _, class := range program.Classes {
		var newStubs []*ir.Method
		for _, method := range class.Methods {
			resShape := method.ResolutionShape
			plainShape := resShape.ToPlainShape()

			if !resShape.HasOptionalParameters() {
				method.SetPlainShape(plainShape)
				continue
			}

			for _, callShape := range callShapesByName[method.Name] {
				if callShape.ToPlainShape().Equal(plainShape.CallShape) {
					continue
				}
				if !resShape.Accepts(callShape) {
					continue
				}
				newStubs = append(newStubs, buildAdapterStub(method, callShape))
			}
			method.SetPlainShape(plainShape)
		}
		if len(newStubs) > 0 {
			class.Methods = append(class.Methods, newStubs...)
		}
	}

	for _, method := range program.Methods {
		method.SetPlainShape(method.ResolutionShape.ToPlainShape())
	}
	for _, global := range program.Globals {
		global.SetPlainShape(global.ResolutionShape.ToPlainShape())
	}
}

// collectCallShapes walks every method body in the program and groups
// the distinct CallShape of every CallVirtual node by selector name.
func collectCallShapes(program *ir.Program) map[string][]shape.CallShape {
	seen := map[string]map[string]shape.CallShape{}
	record := func(name string, s shape.CallShape) {
		byKey, ok := seen[name]
		if !ok {
			byKey = map[string]shape.CallShape{}
			seen[name] = byKey
		}
		byKey[(shape.Selector[shape.CallShape]{Name: name, Shape: s}).Key()] = s
	}
	visit := func(e ir.Expression) {
		if call, ok := e.(*ir.CallVirtual); ok {
			record(call.Selector(), call.Shape)
		}
	}
	walkAllBodies(program, visit)

	result := make(map[string][]shape.CallShape, len(seen))
	for name, byKey := range seen {
		shapes := make([]shape.CallShape, 0, len(byKey))
		for _, s := range byKey {
			shapes = append(shapes, s)
		}
		result[name] = shapes
	}
	return result
}

func walkAllBodies(program *ir.Program, visit func(ir.Expression)) {
	for _, m := range program.Methods {
		if m.Body != nil {
			ir.Walk(m.Body, visit)
		}
	}
	for _, g := range program.Globals {
		if g.Body != nil {
			ir.Walk(g.Body, visit)
		}
	}
	for _, c := range program.Classes {
		for _, m := range c.Methods {
			if m.Body != nil {
				ir.Walk(m.Body, visit)
			}
		}
		for _, m := range c.Constructors {
			if m.Body != nil {
				ir.Walk(m.Body, visit)
			}
		}
		for _, m := range c.Factories {
			if m.Body != nil {
				ir.Walk(m.Body, visit)
			}
		}
	}
}

// buildAdapterStub synthesizes the stub for method under callShape: a
// method taking exactly callShape's arguments, tail-calling method with
// every argument method itself declares but callShape omits replaced by
// a null literal.
func buildAdapterStub(method *ir.Method, callShape shape.CallShape) *ir.Method {
	params := make([]*ir.Parameter, callShape.Arity)
	stubArgs := make([]ir.Expression, callShape.Arity)
	for i := 0; i < callShape.Arity; i++ {
		name := "<stub-parameter>"
		if i == 0 && method.HasImplicitThis() {
			name = "this"
		}
		param := &ir.Parameter{
			Local:         ir.Local{Name: name, IsBlockFlag: callShape.IsBlockAt(i)},
			OriginalIndex: -1,
		}
		params[i] = param
		stubArgs[i] = &ir.ReferenceLocal{Target: &param.Local}
	}

	forwardArgs := buildForwardArguments(method, callShape, stubArgs)
	fail.Assertf(len(forwardArgs) == len(method.Parameters),
		"buildAdapterStub: forwarded %d arguments for %s, want %d", len(forwardArgs), method.Name, len(method.Parameters))

	forwardCall := &ir.CallStatic{
		Call:   ir.Call{Arguments: forwardArgs, Shape: method.ResolutionShape.CallShape, IsTailCall: true},
		Method: &ir.ReferenceMethod{Target: method},
	}

	stub := &ir.Method{
		Name:       method.Name,
		Holder:     method.Holder,
		Kind:       ir.KindAdapterStub,
		Parameters: params,
		Body:       &ir.Return{Value: forwardCall},
		ReturnType: method.ReturnType,
	}
	stub.SetPlainShape(callShape.ToPlainShape())
	return stub
}

// buildForwardArguments maps the stub's own arguments (laid out in
// callShape's canonical order) onto method's full declared parameter
// list, filling every parameter callShape doesn't supply with a null
// literal — the "missing optionals become null" rule.
func buildForwardArguments(method *ir.Method, callShape shape.CallShape, stubArgs []ir.Expression) []ir.Expression {
	resShape := method.ResolutionShape
	targetUnnamedNonBlock := resShape.UnnamedNonBlockCount()
	targetUnnamedBlock := resShape.UnnamedBlockCount()
	callUnnamedNonBlock := callShape.UnnamedNonBlockCount()

	forward := make([]ir.Expression, 0, len(method.Parameters))
	stubPos := 0

	for i := 0; i < targetUnnamedNonBlock; i++ {
		if i < callUnnamedNonBlock {
			forward = append(forward, stubArgs[stubPos])
			stubPos++
		} else {
			forward = append(forward, &ir.LiteralNull{})
		}
	}

	fail.Assertf(callShape.UnnamedBlockCount() == targetUnnamedBlock,
		"buildForwardArguments: unnamed block count mismatch for %s", method.Name)
	for i := 0; i < targetUnnamedBlock; i++ {
		forward = append(forward, stubArgs[stubPos])
		stubPos++
	}

	callNamedStart := callUnnamedNonBlock + callShape.UnnamedBlockCount()
	callArgByName := make(map[string]ir.Expression, len(callShape.Names))
	for i, name := range callShape.Names {
		callArgByName[name] = stubArgs[callNamedStart+i]
	}
	for _, name := range resShape.Names {
		if arg, ok := callArgByName[name]; ok {
			forward = append(forward, arg)
		} else {
			forward = append(forward, &ir.LiteralNull{})
		}
	}
	return forward
}

// interfaceSelectorShape is the shape of every "is-<Interface>" selector:
// no explicit arguments, just the implicit receiver.
var interfaceSelectorShape = shape.CallShape{}.WithImplicitThis()

// AddInterfaceStubMethods assigns every interface referenced by an
// `is`/`as` check a synthetic "is-<Name>" selector, and appends an
// IsInterfaceStub method implementing it to every class that declares
// that interface among its Interfaces.
//
// Ported from add_interface_stub_methods in
// original_source/src/compiler/stubs.cc.
func AddInterfaceStubMethods(program *ir.Program) {
	assignTypecheckSelectors(program)

	for _, class := range program.Classes {
		if class.IsInterface || len(class.Interfaces) == 0 {
			continue
		}
		var newMethods []*ir.Method
		for _, iface := range class.Interfaces {
			if !iface.HasTypecheckSelector() {
				continue
			}
			newMethods = append(newMethods, buildIsInterfaceStub(class, iface))
		}
		if len(newMethods) > 0 {
			class.Methods = append(class.Methods, newMethods...)
		}
	}
}

func assignTypecheckSelectors(program *ir.Program) {
	visit := func(e ir.Expression) {
		check, ok := e.(*ir.Typecheck)
		if !ok || check.Type == nil || !check.Type.IsInterface || check.Type.HasTypecheckSelector() {
			return
		}
		check.Type.TypecheckSelector = shape.DispatchSelector{
			Name:  "is-" + check.Type.Name,
			Shape: interfaceSelectorShape.ToPlainShape(),
		}
	}
	walkAllBodies(program, visit)
}

func buildIsInterfaceStub(holder, iface *ir.Class) *ir.Method {
	thisParam := &ir.Parameter{Local: ir.Local{Name: "this"}, OriginalIndex: -1}
	selector := iface.TypecheckSelector
	stub := &ir.Method{
		Name:       selector.Name,
		Holder:     holder,
		Kind:       ir.KindIsInterfaceStub,
		Parameters: []*ir.Parameter{thisParam},
		// The body never actually executes: a true IS_INTERFACE check is
		// emitted directly by the walker. It exists only so the stub looks
		// like any other method to code that iterates class members.
		Body: &ir.Return{Value: &ir.LiteralBoolean{Value: true}},
	}
	stub.SetPlainShape(selector.Shape)
	return stub
}
