// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codegen

import (
	"testing"

	"github.com/bclang/backend/dispatchtable"
	"github.com/bclang/backend/emitter"
	"github.com/bclang/backend/imagesink"
	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/shape"
	"github.com/bclang/backend/sourcemap"
)

// noChecks is a TypecheckIndex that never matches, for tests that don't
// exercise typechecks.
type noChecks struct{}

func (noChecks) ClassCheckIndex(*ir.Class) (int, bool)     { return 0, false }
func (noChecks) InterfaceCheckIndex(*ir.Class) (int, bool) { return 0, false }

func newGenerator() (*Generator, *imagesink.Memory) {
	img := imagesink.NewMemory()
	img.PushBoolean(false)
	img.PushBoolean(true)
	g := &Generator{
		Program:       &ir.Program{},
		Table:         dispatchtable.Build(&ir.Program{}),
		Typechecks:    noChecks{},
		Image:         img,
		SourceMap:     sourcemap.Noop{},
		FalseGlobalID: 0,
		TrueGlobalID:  1,
	}
	return g, img
}

func TestGenerateMethodNilBodyLoadsNull(t *testing.T) {
	g, img := newGenerator()
	m := &ir.Method{Name: "abstract_stub", Kind: ir.KindGlobalFun}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	entry := img.Methods[id]

	if len(entry.Bytecodes) == 0 {
		t.Fatalf("expected non-empty bytecode")
	}
	if emitter.Opcode(entry.Bytecodes[0]) != emitter.LOAD_NULL {
		t.Errorf("first opcode = %s, want LOAD_NULL", emitter.Opcode(entry.Bytecodes[0]).Name())
	}
	if last := emitter.Opcode(entry.Bytecodes[len(entry.Bytecodes)-3]); last != emitter.RETURN {
		t.Errorf("final opcode = %s, want RETURN", last.Name())
	}
}

func TestGenerateMethodTrailingExpressionFusesIntoReturnNull(t *testing.T) {
	g, img := newGenerator()
	m := &ir.Method{Name: "ignored_value", Kind: ir.KindGlobalFun, Body: &ir.LiteralInteger{Value: 0}}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	if emitter.Opcode(bc[0]) != emitter.LOAD_SMI_0 {
		t.Fatalf("first opcode = %s, want LOAD_SMI_0", emitter.Opcode(bc[0]).Name())
	}
	// Pop(1) over a freshly pushed value emits POP_1, and RetNull then
	// fuses with that immediately preceding POP_1 into RETURN_NULL,
	// leaving no separate pop in the final stream.
	if got := emitter.Opcode(bc[len(bc)-3]); got != emitter.RETURN_NULL {
		t.Errorf("final opcode = %s, want RETURN_NULL", got.Name())
	}
}

func TestGenerateMethodExplicitReturnSuppressesTrailingRetNull(t *testing.T) {
	g, img := newGenerator()
	m := &ir.Method{
		Name: "explicit_return",
		Kind: ir.KindGlobalFun,
		Body: &ir.Return{Value: &ir.LiteralInteger{Value: 1}},
	}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	if got := emitter.Opcode(bc[len(bc)-3]); got != emitter.RETURN {
		t.Errorf("final opcode = %s, want RETURN (no extra RETURN_NULL appended)", got.Name())
	}
	count := 0
	for _, b := range bc {
		if emitter.Opcode(b) == emitter.RETURN || emitter.Opcode(b) == emitter.RETURN_NULL {
			count++
		}
	}
	if count != 1 {
		t.Errorf("found %d return opcodes in %v, want exactly 1", count, bc)
	}
}

func TestAssignmentDefineThenReferenceLocal(t *testing.T) {
	g, img := newGenerator()
	local := &ir.Local{Name: "x"}
	body := &ir.Sequence{Expressions: []ir.Expression{
		&ir.AssignmentDefine{Assignment: ir.Assignment{Right: &ir.LiteralInteger{Value: 5}}, Local: local},
		&ir.ReferenceLocal{Target: local},
	}}
	m := &ir.Method{Name: "roundtrip", Kind: ir.KindGlobalFun, Body: body}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	if emitter.Opcode(bc[0]) != emitter.LOAD_SMI_U8 && emitter.Opcode(bc[0]) != emitter.LOAD_SMI_0 {
		t.Errorf("first opcode = %s, want a LOAD_SMI* form", emitter.Opcode(bc[0]).Name())
	}
	foundLoadLocal := false
	for _, b := range bc {
		if isLoadLocalOpcode(emitter.Opcode(b)) {
			foundLoadLocal = true
		}
	}
	if !foundLoadLocal {
		t.Errorf("expected a load-local opcode reading the defined local back, got %v", bc)
	}
}

func isLoadLocalOpcode(op emitter.Opcode) bool {
	switch op {
	case emitter.LOAD_LOCAL, emitter.LOAD_LOCAL_WIDE, emitter.POP_LOAD_LOCAL,
		emitter.LOAD_LOCAL_0, emitter.LOAD_LOCAL_1, emitter.LOAD_LOCAL_2,
		emitter.LOAD_LOCAL_3, emitter.LOAD_LOCAL_4, emitter.LOAD_LOCAL_5:
		return true
	default:
		return false
	}
}

func TestIfBothArmsLeaveSameHeightForValue(t *testing.T) {
	g, _ := newGenerator()
	body := &ir.If{
		Condition: &ir.LiteralBoolean{Value: true},
		Yes:       &ir.LiteralInteger{Value: 1},
		No:        &ir.LiteralInteger{Value: 2},
	}
	m := &ir.Method{Name: "branch", Kind: ir.KindGlobalFun, Body: &ir.Return{Value: body}}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	// GenerateMethod must not panic: label.Bind's height-consistency
	// assertion would fire if the two arms left different heights.
	g.GenerateMethod(m)
}

func TestCallStaticInvokesAssignedIndex(t *testing.T) {
	callee := &ir.Method{Name: "callee", Kind: ir.KindGlobalFun, Body: &ir.LiteralNull{}}
	callee.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})
	caller := &ir.Method{
		Name: "caller",
		Kind: ir.KindGlobalFun,
		Body: &ir.CallStatic{
			Call:   ir.Call{Shape: shape.CallShape{Arity: 0}},
			Method: &ir.ReferenceMethod{Target: callee},
		},
	}
	caller.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	program := &ir.Program{Methods: []*ir.Method{callee, caller}}
	table := dispatchtable.Build(program)

	g, img := newGenerator()
	g.Table = table
	g.Program = program

	id := g.GenerateMethod(caller)
	bc := img.Methods[id].Bytecodes

	found := false
	for i, b := range bc {
		if emitter.Opcode(b) == emitter.INVOKE_STATIC {
			found = true
			index := int(bc[i+1]) | int(bc[i+2])<<8
			if index != callee.Index {
				t.Errorf("INVOKE_STATIC index = %d, want %d", index, callee.Index)
			}
		}
	}
	if !found {
		t.Fatalf("no INVOKE_STATIC emitted in %v", bc)
	}
}

func TestCallVirtualUsesDispatchOffset(t *testing.T) {
	mShape := shape.CallShape{Arity: 1}.ToPlainShape()
	class := &ir.Class{Name: "Holder", IsInstantiated: true}
	instanceMethod := &ir.Method{Name: "size", Holder: class, Kind: ir.KindInstance}
	instanceMethod.SetPlainShape(mShape)
	class.Methods = []*ir.Method{instanceMethod}

	call := &ir.CallVirtual{
		Call:   ir.Call{Shape: mShape.CallShape},
		Target: &ir.Dot{Receiver: &ir.LiteralNull{}, Selector: "size"},
	}
	caller := &ir.Method{Name: "caller", Kind: ir.KindGlobalFun, Body: call}
	caller.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	program := &ir.Program{Classes: []*ir.Class{class}, Methods: []*ir.Method{caller}}
	table := dispatchtable.Build(program)

	g, img := newGenerator()
	g.Table = table
	g.Program = program

	id := g.GenerateMethod(caller)
	bc := img.Methods[id].Bytecodes

	offset, ok := table.OffsetOf(shape.DispatchSelector{Name: "size", Shape: mShape})
	if !ok {
		t.Fatalf("selector not found in table")
	}

	found := false
	for i, b := range bc {
		op := emitter.Opcode(b)
		if op == emitter.INVOKE_VIRTUAL_GET {
			found = true
			got := int(bc[i+1]) | int(bc[i+2])<<8
			if got != offset {
				t.Errorf("INVOKE_VIRTUAL_GET offset = %d, want %d", got, offset)
			}
		}
	}
	if !found {
		t.Fatalf("no INVOKE_VIRTUAL_GET emitted in %v", bc)
	}
}

// classChecks is a TypecheckIndex backed by a fixed map, for tests that
// exercise typecheck fusion and the impossible-check rewrite.
type classChecks map[*ir.Class]int

func (c classChecks) ClassCheckIndex(class *ir.Class) (int, bool) {
	idx, ok := c[class]
	return idx, ok
}
func (classChecks) InterfaceCheckIndex(*ir.Class) (int, bool) { return 0, false }

func TestTypecheckDoesNotFuseAsLocalForNullableParameter(t *testing.T) {
	target := &ir.Class{Name: "Foo"}
	g, img := newGenerator()
	g.Typechecks = classChecks{target: 3}

	param := &ir.Parameter{Local: ir.Local{Name: "x"}}
	body := &ir.Typecheck{
		Kind:       ir.ParameterAsCheck,
		Expression: &ir.ReferenceLocal{Target: &param.Local},
		Type:       target,
	}
	m := &ir.Method{Name: "check_param", Kind: ir.KindGlobalFun, Parameters: []*ir.Parameter{param}, Body: body}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 1}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	// ParameterAsCheck is a nullable kind, so the fused AS_LOCAL encoding
	// (which has no room for the nullable bit) must not be used here.
	for _, b := range bc {
		if emitter.Opcode(b) == emitter.AS_LOCAL {
			t.Fatalf("nullable parameter check must not fuse into AS_LOCAL, got %v", bc)
		}
	}
}

func TestTypecheckFusesAsLocalForNonNullableLocal(t *testing.T) {
	target := &ir.Class{Name: "Foo"}
	g, img := newGenerator()
	g.Typechecks = classChecks{target: 3}

	local := &ir.Local{Name: "x"}
	body := &ir.Sequence{Expressions: []ir.Expression{
		&ir.AssignmentDefine{Assignment: ir.Assignment{Right: &ir.LiteralNull{}}, Local: local},
		&ir.Typecheck{Kind: ir.AsCheck, Expression: &ir.ReferenceLocal{Target: local}, Type: target},
	}}
	m := &ir.Method{Name: "check_local", Kind: ir.KindGlobalFun, Body: body}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	found := false
	for _, b := range bc {
		if emitter.Opcode(b) == emitter.AS_LOCAL {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a fused AS_LOCAL opcode, got %v", bc)
	}
}

func TestImpossibleAsCheckRewritesToAsCheckFailure(t *testing.T) {
	target := &ir.Class{Name: "Unreachable"}
	failure := &ir.Method{Name: "as_check_failure", Kind: ir.KindGlobalFun}
	failure.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 1}})
	failure.SetIndex(7)

	g, img := newGenerator()
	g.AsCheckFailure = failure

	body := &ir.Typecheck{Kind: ir.AsCheck, Expression: &ir.LiteralNull{}, Type: target}
	m := &ir.Method{Name: "doomed_check", Kind: ir.KindGlobalFun, Body: body}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	found := false
	for i, b := range bc {
		if emitter.Opcode(b) == emitter.INVOKE_STATIC {
			index := int(bc[i+1]) | int(bc[i+2])<<8
			if index == failure.Index {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected an INVOKE_STATIC to as_check_failure, got %v", bc)
	}
}

func TestImpossibleIsCheckRewritesToFalse(t *testing.T) {
	target := &ir.Class{Name: "Unreachable"}
	g, img := newGenerator()

	body := &ir.Typecheck{Kind: ir.IsCheck, Expression: &ir.LiteralNull{}, Type: target}
	m := &ir.Method{Name: "doomed_is", Kind: ir.KindGlobalFun, Body: &ir.Return{Value: body}}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	found := false
	for _, b := range bc {
		if emitter.Opcode(b) == emitter.LOAD_GLOBAL_VAR && !found {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the impossible is-check to load the false global, got %v", bc)
	}
}

func TestMonitorMethodWrapsBodyInLinkAndIntrinsics(t *testing.T) {
	g, img := newGenerator()
	m := &ir.Method{
		Name:            "locked_increment",
		Kind:            ir.KindMonitorMethod,
		IsMonitorMethod: true,
		Body:            &ir.LiteralInteger{Value: 1},
	}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 1}})

	id := g.GenerateMethod(m)
	bc := img.Methods[id].Bytecodes

	var ops []emitter.Opcode
	for i := 0; i < len(bc); {
		op := emitter.Opcode(bc[i])
		ops = append(ops, op)
		i += op.Length()
	}

	indexOfOp := func(op emitter.Opcode) int {
		for i, o := range ops {
			if o == op {
				return i
			}
		}
		return -1
	}

	linkIdx := indexOfOp(emitter.LINK)
	enterIdx := indexOfOp(emitter.INTRINSIC_MONITOR_ENTER)
	exitIdx := indexOfOp(emitter.INTRINSIC_MONITOR_EXIT)
	unlinkIdx := indexOfOp(emitter.UNLINK)
	if linkIdx < 0 || enterIdx < 0 || exitIdx < 0 || unlinkIdx < 0 {
		t.Fatalf("missing LINK/INTRINSIC_MONITOR_ENTER/INTRINSIC_MONITOR_EXIT/UNLINK in %v", ops)
	}
	if !(linkIdx < enterIdx && enterIdx < exitIdx && exitIdx < unlinkIdx) {
		t.Errorf("expected LINK < ENTER < EXIT < UNLINK, got indices %d %d %d %d", linkIdx, enterIdx, exitIdx, unlinkIdx)
	}
}

func TestSourceMapRecordsCallsAndAsChecks(t *testing.T) {
	target := &ir.Class{Name: "Foo"}
	callee := &ir.Method{Name: "callee", Kind: ir.KindGlobalFun, Body: &ir.LiteralNull{}}
	callee.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	body := &ir.Sequence{Expressions: []ir.Expression{
		&ir.CallStatic{Call: ir.Call{Shape: shape.CallShape{Arity: 0}}, Method: &ir.ReferenceMethod{Target: callee}},
		&ir.Typecheck{Kind: ir.AsCheck, Expression: &ir.LiteralNull{}, Type: target},
	}}
	caller := &ir.Method{Name: "caller", Kind: ir.KindGlobalFun, Body: body}
	caller.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	program := &ir.Program{Methods: []*ir.Method{callee, caller}}
	table := dispatchtable.Build(program)

	g, _ := newGenerator()
	g.Table = table
	g.Program = program
	g.Typechecks = classChecks{target: 0}
	sm := sourcemap.NewMemory()
	g.SourceMap = sm

	g.GenerateMethod(caller)

	rec := sm.Methods[len(sm.Methods)-1]
	if len(rec.Calls) == 0 {
		t.Errorf("expected at least one recorded call site, got none")
	}
	if len(rec.AsChecks) != 1 || rec.AsChecks[0].TypeName != "Foo" {
		t.Errorf("expected one recorded as-check against Foo, got %+v", rec.AsChecks)
	}
}

func TestLogicalAndShortCircuitsOnFalse(t *testing.T) {
	g, _ := newGenerator()
	body := &ir.Return{Value: &ir.LogicalBinary{
		Left:  &ir.LiteralBoolean{Value: false},
		Right: &ir.LiteralBoolean{Value: true},
		Op:    ir.LogicalAnd,
	}}
	m := &ir.Method{Name: "and", Kind: ir.KindGlobalFun, Body: body}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	// Must not panic: both the short-circuit path and the evaluated-right
	// path need to leave matching abstract stack heights.
	g.GenerateMethod(m)
}

func TestLambdaNonLocalReturnEmitsNlr(t *testing.T) {
	g, img := newGenerator()
	g.Program = &ir.Program{LambdaBox: &ir.Class{Name: "LambdaBox"}}

	lambdaMethod := &ir.Method{
		Name: "lambda_body",
		Kind: ir.KindGlobalFun,
		Body: &ir.Return{Value: &ir.LiteralInteger{Value: 1}, Depth: -1},
	}
	lambda := &ir.Lambda{
		CallStatic: ir.CallStatic{
			Call:   ir.Call{},
			Method: &ir.ReferenceMethod{Target: lambdaMethod},
		},
	}

	outer := &ir.Method{Name: "outer", Kind: ir.KindGlobalFun, Body: lambda}
	outer.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	id := g.GenerateMethod(outer)
	_ = img.Methods[id]

	// The lambda body is registered as a separate lambda entry; find it
	// and confirm it emits NON_LOCAL_RETURN rather than a plain RETURN.
	found := false
	for _, entry := range img.Methods {
		for _, b := range entry.Bytecodes {
			if emitter.Opcode(b) == emitter.NON_LOCAL_RETURN {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected NON_LOCAL_RETURN somewhere in the generated lambda body")
	}
}

func TestBlockLiteralSharesEnclosingFrameLocals(t *testing.T) {
	g, img := newGenerator()
	param := &ir.Parameter{Local: ir.Local{Name: "x", IsBlockFlag: true}}
	block := &ir.Code{IsBlock: true, Parameters: []*ir.Parameter{param}, Body: &ir.ReferenceLocal{Target: &param.Local}}

	m := &ir.Method{
		Name: "takes_block",
		Kind: ir.KindGlobalFun,
		Body: &ir.Sequence{Expressions: []ir.Expression{block}},
	}
	m.SetPlainShape(shape.PlainShape{CallShape: shape.CallShape{Arity: 0}})

	// Must not panic: the block's own parameter is declared as a frame
	// local shared with the enclosing method, not a fresh parameter
	// window, and is read back from the same emitter.
	id := g.GenerateMethod(m)
	if len(img.Methods) < 2 {
		t.Fatalf("expected the block to register its own CreateBlock entry, got %d method entries", len(img.Methods))
	}
	_ = id
}
