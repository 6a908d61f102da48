// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codegen walks a resolved method body and emits its bytecode
// via the emitter package, in one of two modes at every node: for-value
// (the node must leave exactly one result on the stack) or for-effect
// (it must leave none). This replaces the original compiler's
// CodeGenerationVisitor/for-value-vs-for-effect pair of traversals with
// a single recursive function carrying a bool, the same "one walk, a
// type switch, a mode flag" shape ir.Walk already established for
// selector collection and stub synthesis.
package codegen

import (
	"github.com/bclang/backend/dispatchtable"
	"github.com/bclang/backend/emitter"
	"github.com/bclang/backend/imagesink"
	"github.com/bclang/backend/internal/fail"
	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/label"
	"github.com/bclang/backend/shape"
	"github.com/bclang/backend/sourcemap"
)

// OperatorOpcodes maps the subset of shape.OperatorSelectors that have a
// dedicated shortcut INVOKE_* opcode (binary operators only; the two
// unary entries, "~" and "-unary", fall through to the general
// INVOKE_VIRTUAL path since the bytecode format has no shortcut for
// them).
var OperatorOpcodes = map[string]emitter.Opcode{
	"==": emitter.INVOKE_EQ,
	"<":  emitter.INVOKE_LT,
	"<=": emitter.INVOKE_LTE,
	">":  emitter.INVOKE_GT,
	">=": emitter.INVOKE_GTE,
	"+":  emitter.INVOKE_ADD,
	"-":  emitter.INVOKE_SUB,
	"*":  emitter.INVOKE_MUL,
	"/":  emitter.INVOKE_DIV,
	"%":  emitter.INVOKE_MOD,
	"|":  emitter.INVOKE_BIT_OR,
	"^":  emitter.INVOKE_BIT_XOR,
	"&":  emitter.INVOKE_BIT_AND,
	"<<": emitter.INVOKE_BIT_SHL,
	">>": emitter.INVOKE_BIT_SHR,
	">>>": emitter.INVOKE_BIT_USHR,
	"[]": emitter.INVOKE_AT,
	"[]=": emitter.INVOKE_AT_PUT,
}

// TypecheckIndex resolves a class/interface to the index used by its
// typecheck opcode family, and is-check/as-check to the nullable bit
// already baked into the IR node's Kind.
type TypecheckIndex interface {
	ClassCheckIndex(c *ir.Class) (int, bool)
	InterfaceCheckIndex(c *ir.Class) (int, bool)
}

// Generator holds everything a method body's emission needs that isn't
// local to one function: the finished dispatch table (for virtual call
// offsets and static slot indices), the typecheck index tables, the
// image and source-map sinks bytecode and debug info are written to,
// and the two synthesized failure-path methods the walker rewrites
// dispatch misses and failed as-checks into.
type Generator struct {
	Program        *ir.Program
	Table          *dispatchtable.Table
	Typechecks     TypecheckIndex
	Image          imagesink.Sink
	SourceMap      sourcemap.Sink
	LookupFailure  *ir.Method
	AsCheckFailure *ir.Method

	// TrueGlobalID/FalseGlobalID are the global-variable slots the
	// backend driver fills via imagesink.Sink.PushBoolean right after the
	// program's own globals; it computes the two ids before any method
	// body is generated and pushes the values afterwards. true/false are Toit heap singletons,
	// not literal-pool entries or smis, so boolean literals load through
	// the global-variable opcode against these two well-known slots.
	TrueGlobalID  int
	FalseGlobalID int

	// lastBytecodeBytes/lastPeepholeFusions report on the most recent
	// GenerateMethod/GenerateGlobal call, for the backend driver's
	// aggregate Stats; they don't change GenerateMethod's own return
	// type since codegen_test.go and the backend driver both depend on
	// it staying imagesink.MethodID.
	lastBytecodeBytes   int
	lastPeepholeFusions int
}

// LastGenerationStats reports the bytecode length and peephole-fusion
// count from the most recent GenerateMethod or GenerateGlobal call.
func (g *Generator) LastGenerationStats() (bytecodeBytes, peepholeFusions int) {
	return g.lastBytecodeBytes, g.lastPeepholeFusions
}

// funcFrame is one real (frame-owning) function: a top-level method, a
// constructor, or a lambda. Blocks never get their own funcFrame — they
// share the nearest enclosing one's local numbering, per the "a block
// shares the outer function's stack" rule — but each still gets its own
// emitter.Emitter, since each is a separately image-registered body.
type funcFrame struct {
	emitter *emitter.Emitter
	outer   *funcFrame
	arity   int // this frame's own parameter count, for Nlr's arity operand

	locals map[*ir.Local]int // AssignmentDefine-introduced locals, frame-relative index
	params map[*ir.Local]int // index within the owning Code/Method's Parameters
	types  map[*ir.Local]emitter.StackType

	nextLocal int
}

// context is the generator's per-emission-site state: which emitter
// bytecode is currently being appended to (own, possibly a block nested
// under frame), which real frame owns the locals being addressed
// (frame), and the innermost loop's break/continue labels.
type context struct {
	g     *Generator
	own   *emitter.Emitter
	frame *funcFrame
	smh   sourcemap.Handle

	loopBreak    *label.Label
	loopContinue *label.Label
}

func newFuncFrame(e *emitter.Emitter, outer *funcFrame) *funcFrame {
	return &funcFrame{
		emitter: e,
		outer:   outer,
		locals:  map[*ir.Local]int{},
		params:  map[*ir.Local]int{},
		types:   map[*ir.Local]emitter.StackType{},
	}
}

func (f *funcFrame) bindParameters(params []*ir.Parameter) {
	f.arity = len(params)
	for i, p := range params {
		f.params[&p.Local] = i
		t := emitter.Object
		if p.IsBlockFlag {
			t = emitter.Block
		}
		f.types[&p.Local] = t
	}
}

func (f *funcFrame) declareLocal(l *ir.Local) int {
	idx := f.nextLocal
	f.nextLocal++
	f.locals[l] = idx
	t := emitter.Object
	if l.IsBlockFlag {
		t = emitter.Block
	}
	f.types[l] = t
	return idx
}

// GenerateMethod assembles a top-level method or class member's body
// and registers it with the image and source-map sinks, returning its
// image id. The method's Index (dispatch-table slot) must already have
// been assigned by the dispatch-table builder before bytecode for any
// virtual call targeting it is emitted, but GenerateMethod itself
// doesn't need it.
func (g *Generator) GenerateMethod(m *ir.Method) imagesink.MethodID {
	arity := m.PlainShape.Arity
	e := emitter.New(arity)
	frame := newFuncFrame(e, nil)
	frame.bindParameters(m.Parameters)

	handle := g.SourceMap.RegisterMethod(m)
	ctx := &context{g: g, own: e, frame: frame, smh: handle}

	if m.Body == nil {
		e.LoadNull()
		e.Ret()
	} else if m.IsMonitorMethod {
		g.generateMonitorBody(ctx, m)
	} else {
		g.generate(ctx, m.Body, false)
		if !alwaysReturns(m.Body) {
			e.RetNull()
		}
	}

	dispatchOffset := -1
	if m.IsInstance() {
		if off, ok := g.Table.OffsetOf(shape.DispatchSelector{Name: m.Name, Shape: m.PlainShape}); ok {
			dispatchOffset = off
		}
	}
	isFieldAccessor := m.Kind == ir.KindFieldStub
	id := g.Image.CreateMethod(dispatchOffset, isFieldAccessor, arity, e.Bytecodes(), e.MaxHeight())
	handle.Finalize(int(id), len(e.Bytecodes()))
	g.lastBytecodeBytes, g.lastPeepholeFusions = len(e.Bytecodes()), e.PeepholeFusions()
	return id
}

// GenerateGlobal assembles a lazy global's initializer body as a
// zero-arity method and registers it with the image and source-map
// sinks, returning its image id; the backend driver pushes this id onto
// the lazy-initializer list with imagesink.Sink.PushLazyInitializerID.
// Grounded on assemble_global in the original backend, which is
// assemble_method with dispatch_offset -1 and is_field_accessor false,
// registered against the source mapper's global (not method) entry.
func (g *Generator) GenerateGlobal(global *ir.Global) imagesink.MethodID {
	e := emitter.New(0)
	frame := newFuncFrame(e, nil)

	handle := g.SourceMap.RegisterGlobal(global)
	ctx := &context{g: g, own: e, frame: frame, smh: handle}

	g.generate(ctx, global.Body, false)
	if !alwaysReturns(global.Body) {
		e.RetNull()
	}

	id := g.Image.CreateMethod(-1, false, 0, e.Bytecodes(), e.MaxHeight())
	handle.Finalize(int(id), len(e.Bytecodes()))
	g.lastBytecodeBytes, g.lastPeepholeFusions = len(e.Bytecodes()), e.PeepholeFusions()
	return id
}

// generateMonitorBody wraps a monitor method's body in the same
// LINK/UNLINK bracket a try-finally uses, with INTRINSIC_MONITOR_ENTER
// right after the LINK and INTRINSIC_MONITOR_EXIT right before the
// UNLINK, so the interpreter only lets one caller at a time run past the
// entry intrinsic for a given instance; an early return still unwinds
// through UNLINK the same way a try-finally handler does.
func (g *Generator) generateMonitorBody(ctx *context, m *ir.Method) {
	e := ctx.own
	e.Link()
	e.IntrinsicMonitorEnter()
	g.generate(ctx, m.Body, false)
	e.IntrinsicMonitorExit()
	e.Unlink()
	if !alwaysReturns(m.Body) {
		e.RetNull()
	}
}

// alwaysReturns reports whether e's every control path ends in an
// explicit Return, so the method body doesn't need a trailing RetNull.
func alwaysReturns(e ir.Expression) bool {
	switch n := e.(type) {
	case *ir.Return:
		return true
	case *ir.Sequence:
		return len(n.Expressions) > 0 && alwaysReturns(n.Expressions[len(n.Expressions)-1])
	case *ir.If:
		return n.No != nil && alwaysReturns(n.Yes) && alwaysReturns(n.No)
	case *ir.TryFinally:
		return alwaysReturns(n.Handler)
	default:
		return false
	}
}

// generate emits e into ctx.own. forValue requests exactly one result
// left on the stack; otherwise the node must leave none. Control-flow
// nodes (If, While, LoopBranch, LogicalBinary, Sequence, TryFinally,
// Return) propagate forValue into their sub-expressions directly, so
// that both arms of a branch leave the same abstract stack height for
// label binding, and already leave the stack exactly as forValue
// demands on their own; their case arms return immediately to skip the
// trailing Pop(1) below, the same way Super and Error do. Everything
// else always computes its one value regardless of forValue and, in
// for-effect mode, falls through to have that trailing Pop(1) discard
// it (cheap: Emitter.Pop fuses with the previous instruction in the
// common cases).
func (g *Generator) generate(ctx *context, e ir.Expression, forValue bool) {
	switch n := e.(type) {
	case *ir.LiteralNull:
		ctx.own.LoadNull()
	case *ir.LiteralUndefined:
		ctx.own.LoadNull()
	case *ir.LiteralBoolean:
		id := g.FalseGlobalID
		if n.Value {
			id = g.TrueGlobalID
		}
		ctx.own.LoadGlobalVar(id, false)
	case *ir.LiteralInteger:
		if n.Value >= 0 && n.Value <= 0xffffffff {
			ctx.own.LoadInteger(n.Value)
		} else {
			idx := g.Image.AddInteger(n.Value)
			ctx.own.LoadLiteral(int(idx))
		}
	case *ir.LiteralFloat:
		idx := g.Image.AddDouble(n.Value)
		ctx.own.LoadLiteral(int(idx))
	case *ir.LiteralString:
		idx := g.Image.AddString(n.Value)
		ctx.own.LoadLiteral(int(idx))
	case *ir.LiteralByteArray:
		idx := g.Image.AddByteArray(n.Data)
		ctx.own.LoadLiteral(int(idx))
	case *ir.ReferenceLocal:
		g.generateReferenceLocal(ctx, n)
	case *ir.ReferenceGlobal:
		ctx.own.LoadGlobalVar(n.Target.GlobalID, n.IsLazy)
	case *ir.FieldLoad:
		g.generate(ctx, n.Receiver, true)
		ctx.own.LoadField(n.Field.ResolvedIndex)
	case *ir.FieldStore:
		g.generate(ctx, n.Receiver, true)
		g.generate(ctx, n.Value, true)
		ctx.own.StoreField(n.Field.ResolvedIndex)
	case *ir.AssignmentLocal:
		g.generateAssignmentLocal(ctx, n)
	case *ir.AssignmentGlobal:
		g.generate(ctx, n.Right, true)
		ctx.own.StoreGlobalVar(n.Global.GlobalID)
		ctx.own.Dup()
	case *ir.AssignmentDefine:
		g.generate(ctx, n.Right, true)
		ctx.frame.declareLocal(n.Local)
		ctx.own.Dup()
	case *ir.Sequence:
		g.generateSequence(ctx, n, forValue)
		return
	case *ir.If:
		g.generateIf(ctx, n, forValue)
		return
	case *ir.Not:
		g.generate(ctx, n.Value, true)
		g.generateNot(ctx)
	case *ir.LogicalBinary:
		g.generateLogicalBinary(ctx, n, forValue)
		return
	case *ir.While:
		g.generateWhile(ctx, n)
		return
	case *ir.LoopBranch:
		g.generateLoopBranch(ctx, n)
		return
	case *ir.Return:
		g.generateReturn(ctx, n)
		return
	case *ir.TryFinally:
		g.generateTryFinally(ctx, n, forValue)
		return
	case *ir.Typecheck:
		g.generateTypecheck(ctx, n, forValue)
		return
	case *ir.CallStatic:
		g.generateCallStatic(ctx, n)
	case *ir.CallConstructor:
		g.generateCallStatic(ctx, &n.CallStatic)
	case *ir.Lambda:
		g.generateLambda(ctx, n)
	case *ir.CallVirtual:
		g.generateCallVirtual(ctx, n)
	case *ir.CallBlock:
		g.generateCallBlock(ctx, n)
	case *ir.CallBuiltin:
		g.generateCallBuiltin(ctx, n)
	case *ir.Super:
		g.generate(ctx, n.Expression, false)
		if forValue {
			ctx.own.LoadNull()
			return
		}
		return
	case *ir.Code:
		fail.Assertf(n.IsBlock, "codegen: a non-block Code literal cannot appear inline in an expression")
		g.generateBlockLiteral(ctx, n)
	case *ir.Error:
		for _, c := range n.Nested {
			g.generate(ctx, c, false)
		}
		if forValue {
			ctx.own.LoadNull()
		}
		return
	default:
		fail.Unreachable("codegen.generate: unhandled node type %T", e)
	}

	if !forValue {
		ctx.own.Pop(1)
	}
}

func (g *Generator) generateReferenceLocal(ctx *context, n *ir.ReferenceLocal) {
	frame := ctx.frame
	for i := 0; i < n.BlockDepth; i++ {
		frame = frame.outer
	}
	sameEmitter := frame == ctx.frame && frame.emitter == ctx.own

	if idx, ok := frame.params[n.Target]; ok {
		if sameEmitter {
			ctx.own.LoadParameter(idx, frame.types[n.Target])
		} else {
			ctx.own.LoadOuterParameter(idx, frame.types[n.Target], frame.emitter)
		}
		return
	}
	idx, ok := frame.locals[n.Target]
	fail.Assertf(ok, "codegen: reference to undeclared local %q", n.Target.Name)
	if n.Target.IsBlockFlag {
		if sameEmitter {
			ctx.own.LoadBlock(idx)
		} else {
			ctx.own.LoadOuterBlock(idx, frame.emitter)
		}
		return
	}
	if sameEmitter {
		ctx.own.LoadLocal(idx)
	} else {
		ctx.own.LoadOuterLocal(idx, frame.emitter)
	}
}

func (g *Generator) generateAssignmentLocal(ctx *context, n *ir.AssignmentLocal) {
	g.generate(ctx, n.Right, true)
	frame := ctx.frame
	for i := 0; i < n.BlockDepth; i++ {
		frame = frame.outer
	}
	sameEmitter := frame == ctx.frame && frame.emitter == ctx.own

	if idx, ok := frame.params[n.Local]; ok {
		if sameEmitter {
			ctx.own.StoreParameter(idx)
		} else {
			ctx.own.StoreOuterParameter(idx, frame.emitter)
		}
	} else {
		idx, ok := frame.locals[n.Local]
		fail.Assertf(ok, "codegen: assignment to undeclared local %q", n.Local.Name)
		if sameEmitter {
			ctx.own.StoreLocal(idx)
		} else {
			ctx.own.StoreOuterLocal(idx, frame.emitter)
		}
	}
	ctx.own.Dup()
}

func (g *Generator) generateSequence(ctx *context, n *ir.Sequence, forValue bool) {
	for i, expr := range n.Expressions {
		last := i == len(n.Expressions)-1
		g.generate(ctx, expr, last && forValue)
	}
}

func (g *Generator) generateIf(ctx *context, n *ir.If, forValue bool) {
	g.generate(ctx, n.Condition, true)
	noLabel := label.New()
	endLabel := label.New()

	ctx.own.Branch(emitter.IfFalse, noLabel)
	g.generate(ctx, n.Yes, forValue)
	ctx.own.Branch(emitter.Unconditional, endLabel)
	ctx.own.Forget(boolToStackDelta(forValue))
	ctx.own.Bind(noLabel)
	g.generate(ctx, n.No, forValue)
	ctx.own.Bind(endLabel)
}

func boolToStackDelta(forValue bool) int {
	if forValue {
		return 1
	}
	return 0
}

func (g *Generator) generateNot(ctx *context) {
	trueLabel := label.New()
	endLabel := label.New()
	ctx.own.Branch(emitter.IfTrue, trueLabel)
	ctx.own.LoadGlobalVar(g.TrueGlobalID, false)
	ctx.own.Branch(emitter.Unconditional, endLabel)
	ctx.own.Forget(1)
	ctx.own.Bind(trueLabel)
	ctx.own.LoadGlobalVar(g.FalseGlobalID, false)
	ctx.own.Bind(endLabel)
}

func (g *Generator) generateLogicalBinary(ctx *context, n *ir.LogicalBinary, forValue bool) {
	g.generate(ctx, n.Left, true)
	shortCircuit := label.New()
	endLabel := label.New()
	cond := emitter.IfFalse
	if n.Op == ir.LogicalOr {
		cond = emitter.IfTrue
	}
	ctx.own.Dup()
	ctx.own.Branch(cond, shortCircuit)
	ctx.own.Pop(1)
	g.generate(ctx, n.Right, true)
	ctx.own.Branch(emitter.Unconditional, endLabel)
	ctx.own.Bind(shortCircuit)
	ctx.own.Bind(endLabel)
	if !forValue {
		ctx.own.Pop(1)
	}
}

func (g *Generator) generateWhile(ctx *context, n *ir.While) {
	start := label.New()
	cond := label.New()
	end := label.New()

	ctx.own.Branch(emitter.Unconditional, cond)
	ctx.own.Forget(0)
	ctx.own.Bind(start)

	inner := *ctx
	inner.loopBreak = end
	inner.loopContinue = cond
	g.generate(&inner, n.Body, false)
	if n.Update != nil {
		g.generate(&inner, n.Update, false)
	}

	ctx.own.Bind(cond)
	g.generate(ctx, n.Condition, true)
	ctx.own.Branch(emitter.IfTrue, start)
	ctx.own.Bind(end)
}

func (g *Generator) generateLoopBranch(ctx *context, n *ir.LoopBranch) {
	target := ctx.loopContinue
	if n.IsBreak {
		target = ctx.loopBreak
	}
	fail.Assertf(target != nil, "codegen: break/continue outside a loop")
	ctx.own.Branch(emitter.Unconditional, target)
}

// generateReturn emits a return. Depth 0 returns from the current real
// frame with a plain RET. A negative depth returns non-locally out of
// -Depth enclosing real frames (a `return` reached from inside a lambda
// body, unwinding back through its captor(s)); Nlr's height/arity
// operands are both static here; the interpreter walks its own call
// stack at runtime, so no label or cross-function patch is needed the
// way a branch target would.
func (g *Generator) generateReturn(ctx *context, n *ir.Return) {
	g.generate(ctx, n.Value, true)
	if n.Depth < 0 {
		height := -n.Depth
		target := ctx.frame
		for i := 0; i < height; i++ {
			fail.Assertf(target.outer != nil, "codegen: non-local return depth %d exceeds enclosing frame nesting", n.Depth)
			target = target.outer
		}
		ctx.own.Nlr(height, target.arity)
		return
	}
	ctx.own.Ret()
}

func (g *Generator) generateTryFinally(ctx *context, n *ir.TryFinally, forValue bool) {
	ctx.own.Link()
	// n.Body is always protected (inline) code sharing this frame's
	// stack, never a separately registered block/lambda, so its
	// parameters (if any) are declared directly as frame locals and its
	// Body expression is generated in place rather than through the
	// ir.Code case of generate, which is reserved for block literals
	// flowing as call arguments.
	for _, p := range n.Body.Parameters {
		ctx.frame.declareLocal(&p.Local)
	}
	g.generate(ctx, n.Body.Body, false)
	ctx.own.Unlink()
	for _, p := range n.HandlerParameters {
		ctx.frame.declareLocal(p)
	}
	g.generate(ctx, n.Handler, false)
	ctx.own.Unwind()
	if forValue {
		ctx.own.LoadNull()
	}
}

// generateTypecheck emits an is/as check. On a class as-check whose
// operand is a same-frame local or parameter reference and whose value
// is discarded afterward (forValue false), it fuses the load and the
// check into the single AS_LOCAL opcode (emitter.TypecheckLocal /
// TypecheckParameter) instead of loading the value, checking it, and
// popping it again, per the "local-index<8 and type-index<32" fused
// encoding. TypecheckLocal/TypecheckParameter are in-place checks with
// zero net stack effect, so the fusion is only sound when the result is
// unused; it additionally only applies to non-nullable as-checks, since
// AS_LOCAL's packed operand has no room for the nullable bit. A check
// against a class or interface with no check index at all can never
// succeed at runtime (nothing in the program implements or extends it);
// an is-check against such a type is rewritten to the constant `false`,
// and an as-check to a call to the program's as_check_failure sentinel,
// the same way a virtual call with no implementing class rewrites to
// lookup_failure.
func (g *Generator) generateTypecheck(ctx *context, n *ir.Typecheck, forValue bool) {
	start := ctx.own.Position()

	if !forValue && n.Type != nil && !n.Type.IsInterface && n.IsAsCheck() && !isNullableCheckKind(n.Kind) {
		if idx, ok := g.Typechecks.ClassCheckIndex(n.Type); ok {
			if g.tryGenerateFusedLocalCheck(ctx, n, idx) {
				g.registerAsCheck(ctx, n, start)
				return
			}
		}
	}

	g.generate(ctx, n.Expression, true)
	if n.Type == nil {
		// "any"/primitive typechecks never fail; the expression's value
		// passes through unchanged.
		if !forValue {
			ctx.own.Pop(1)
		}
		return
	}
	isNullable := isNullableCheckKind(n.Kind)

	if n.Type.IsInterface {
		idx, ok := g.Typechecks.InterfaceCheckIndex(n.Type)
		if !ok {
			g.generateImpossibleCheck(ctx, n)
		} else {
			op := emitter.IS_INTERFACE
			if n.IsAsCheck() {
				op = emitter.AS_INTERFACE
			}
			ctx.own.Typecheck(op, idx, isNullable)
			g.registerAsCheck(ctx, n, start)
		}
		if !forValue {
			ctx.own.Pop(1)
		}
		return
	}
	idx, ok := g.Typechecks.ClassCheckIndex(n.Type)
	if !ok {
		g.generateImpossibleCheck(ctx, n)
	} else {
		op := emitter.IS_CLASS
		if n.IsAsCheck() {
			op = emitter.AS_CLASS
		}
		ctx.own.Typecheck(op, idx, isNullable)
		g.registerAsCheck(ctx, n, start)
	}
	if !forValue {
		ctx.own.Pop(1)
	}
}

// tryGenerateFusedLocalCheck emits the fused AS_LOCAL check for n when
// its operand is a reference to a local or parameter of the currently
// active frame, returning whether it did so. A reference reaching into
// an outer frame (BlockDepth > 0) addresses a different emitter's stack
// entirely and has no fused form.
func (g *Generator) tryGenerateFusedLocalCheck(ctx *context, n *ir.Typecheck, typeIndex int) bool {
	ref, ok := n.Expression.(*ir.ReferenceLocal)
	if !ok || ref.BlockDepth != 0 {
		return false
	}
	if paramIdx, ok := ctx.frame.params[ref.Target]; ok {
		ctx.own.TypecheckParameter(paramIdx, typeIndex)
		return true
	}
	if localIdx, ok := ctx.frame.locals[ref.Target]; ok {
		ctx.own.TypecheckLocal(localIdx, typeIndex)
		return true
	}
	return false
}

// generateImpossibleCheck handles a check against a class/interface with
// no assigned check index: the expression's value (already pushed by the
// caller) is discarded, since it can never satisfy the type either way.
func (g *Generator) generateImpossibleCheck(ctx *context, n *ir.Typecheck) {
	ctx.own.Pop(1)
	if !n.IsAsCheck() {
		ctx.own.LoadGlobalVar(g.FalseGlobalID, false)
		return
	}
	fail.Assertf(g.AsCheckFailure != nil, "codegen: type %q has no check index and no as_check_failure method is wired", n.Type.Name)
	idx := g.Image.AddString(n.Type.Name)
	ctx.own.LoadLiteral(int(idx))
	ctx.own.InvokeGlobal(g.AsCheckFailure.Index, 1, false)
}

// registerAsCheck records n's bytecode range with the source map, for
// `as`-check diagnostics; `is` checks never fail so they carry no
// separate diagnostic entry.
func (g *Generator) registerAsCheck(ctx *context, n *ir.Typecheck, start int) {
	if !n.IsAsCheck() {
		return
	}
	end := ctx.own.Position()
	ctx.smh.RegisterAsCheck(end, sourcemap.BCIRange{Start: start, End: end}, n.Type.Name)
}

// isNullableCheckKind reports whether kind is one of the as-check
// flavors that admit null unless the declared type says otherwise
// (a parameter/local/field's declared type check), as opposed to an
// explicit `is`/`as` expression in source, which never admits null.
func isNullableCheckKind(kind ir.TypecheckKind) bool {
	switch kind {
	case ir.ParameterAsCheck, ir.LocalAsCheck, ir.FieldAsCheck, ir.FieldInitializerAsCheck:
		return true
	default:
		return false
	}
}

func (g *Generator) generateCallStatic(ctx *context, n *ir.CallStatic) {
	start := ctx.own.Position()
	for _, a := range n.Arguments {
		g.generate(ctx, a, true)
	}
	fail.Assertf(n.Method.Target.IndexIsSet(), "codegen: call target %q has no assigned index", n.Method.Target.Name)
	ctx.own.InvokeGlobal(n.Method.Target.Index, len(n.Arguments), n.IsTailCall)
	g.registerCall(ctx, start)
}

func (g *Generator) generateCallVirtual(ctx *context, n *ir.CallVirtual) {
	start := ctx.own.Position()
	g.generate(ctx, n.Receiver(), true)
	for _, a := range n.Arguments {
		g.generate(ctx, a, true)
	}
	arity := len(n.Arguments) + 1

	offset, ok := g.Table.OffsetOf(shape.DispatchSelector{Name: n.Selector(), Shape: n.Shape.ToPlainShape()})
	if !ok {
		fail.Assertf(g.LookupFailure != nil, "codegen: selector %q never matched and no lookup_failure method is wired", n.Selector())
		ctx.own.InvokeGlobal(g.LookupFailure.Index, arity, false)
		g.registerCall(ctx, start)
		return
	}

	op := emitter.INVOKE_VIRTUAL
	if shape.IsOperatorSelector(n.Selector()) {
		if shortcut, ok := OperatorOpcodes[n.Selector()]; ok {
			op = shortcut
		}
	} else if n.Shape.IsSetter {
		op = emitter.INVOKE_VIRTUAL_SET
	} else if arity == 1 && n.Shape.Arity == 1 {
		op = emitter.INVOKE_VIRTUAL_GET
	}
	ctx.own.InvokeVirtual(op, offset, arity)
	g.registerCall(ctx, start)
}

func (g *Generator) generateCallBlock(ctx *context, n *ir.CallBlock) {
	start := ctx.own.Position()
	g.generate(ctx, n.Target, true)
	for _, a := range n.Arguments {
		g.generate(ctx, a, true)
	}
	ctx.own.InvokeBlock(len(n.Arguments) + 1)
	g.registerCall(ctx, start)
}

// registerCall records the bytecode range of a just-emitted call
// expression with the source map, for outline-range diagnostics.
func (g *Generator) registerCall(ctx *context, start int) {
	end := ctx.own.Position()
	ctx.smh.RegisterCall(end, sourcemap.BCIRange{Start: start, End: end})
}

// generateLambda materializes a lambda literal. Unlike a block, a
// lambda gets its own real frame: its body is compiled against a fresh
// funcFrame chained to ctx.frame (captured outer locals are forwarded
// explicitly as arguments, addressed the normal BlockDepth way, rather
// than read directly off the outer emitter's stack). The result is
// boxed as an instance of the program's runtime LambdaBox class: field
// 0 holds the compiled body's method id, the remaining fields hold the
// captured values in n.Arguments order, grounded on ir.Program.LambdaBox
// existing specifically to give closures a runtime representation.
func (g *Generator) generateLambda(ctx *context, n *ir.Lambda) {
	id := g.compileLambdaBody(ctx, n)

	ctx.own.Allocate(g.Program.LambdaBox.ID)
	ctx.own.Dup()
	ctx.own.LoadInteger(int64(id))
	ctx.own.StoreField(0)
	ctx.own.Pop(1)
	for i, arg := range n.Arguments {
		ctx.own.Dup()
		g.generate(ctx, arg, true)
		ctx.own.StoreField(i + 1)
		ctx.own.Pop(1)
	}
}

// compileLambdaBody assembles n.Method.Target's body into a new emitter
// and registers it with the image, returning its method id.
func (g *Generator) compileLambdaBody(ctx *context, n *ir.Lambda) imagesink.MethodID {
	method := n.Method.Target
	arity := len(method.Parameters)
	e := emitter.New(arity)
	frame := newFuncFrame(e, ctx.frame)
	frame.bindParameters(method.Parameters)

	bodyNode := &ir.Code{Parameters: method.Parameters, Body: method.Body}
	handle := ctx.smh.RegisterLambda(bodyNode)
	inner := &context{g: g, own: e, frame: frame, smh: handle}

	if method.Body == nil {
		e.LoadNull()
		e.Ret()
	} else {
		g.generate(inner, method.Body, false)
		if !alwaysReturns(method.Body) {
			e.RetNull()
		}
	}

	id := g.Image.CreateLambda(len(n.CapturedDepths), arity, e.Bytecodes(), e.MaxHeight())
	handle.Finalize(int(id), len(e.Bytecodes()))
	return id
}

// generateBlockLiteral assembles a block literal's body into its own
// emitter and registers it with the image. A block shares its enclosing
// real frame's local numbering (ctx.frame), so its parameters are
// declared as ordinary frame locals rather than a fresh parameter
// window, matching how INVOKE_BLOCK's callee finds them on the same
// physical stack the caller is already using.
//
// The block-construction-token bookkeeping (Remember/Forget around the
// nested compilation) keeps abstract stack-offset arithmetic correct
// for any LoadOuterLocal/LoadOuterParameter call made from inside the
// nested emitter while the literal is mid-construction; it does not
// itself emit any bytecode, since the literal's actual appearance in
// the caller's instruction stream is wired up entirely at the image
// layer once CreateBlock assigns it a method id.
func (g *Generator) generateBlockLiteral(ctx *context, n *ir.Code) {
	blockEmitter := emitter.New(len(n.Parameters))
	for _, p := range n.Parameters {
		ctx.frame.declareLocal(&p.Local)
	}

	ctx.own.Remember(1, emitter.BlockConstructionToken)
	inner := *ctx
	inner.own = blockEmitter
	inner.smh = ctx.smh.RegisterBlock(n)
	g.generate(&inner, n.Body, true)
	blockEmitter.Ret()
	ctx.own.Forget(1)

	id := g.Image.CreateBlock(len(n.Parameters), blockEmitter.Bytecodes(), blockEmitter.MaxHeight())
	inner.smh.Finalize(int(id), len(blockEmitter.Bytecodes()))

	ctx.own.Remember(1, emitter.Block)
}

func (g *Generator) generateCallBuiltin(ctx *context, n *ir.CallBuiltin) {
	switch n.Target {
	case ir.BuiltinThrow:
		g.generate(ctx, n.Arguments[0], true)
		ctx.own.Throw()
	case ir.BuiltinHalt:
		ctx.own.Halt(emitter.HaltExit)
	case ir.BuiltinExit:
		g.generate(ctx, n.Arguments[0], true)
		ctx.own.Halt(emitter.HaltExit)
	case ir.BuiltinYield:
		ctx.own.Halt(emitter.HaltYield)
	case ir.BuiltinDeepSleep:
		g.generate(ctx, n.Arguments[0], true)
		ctx.own.Halt(emitter.HaltDeepSleep)
	case ir.BuiltinStoreGlobal:
		g.generate(ctx, n.Arguments[1], true)
		g.generate(ctx, n.Arguments[0], true)
		ctx.own.StoreGlobalVarDynamic()
	case ir.BuiltinLoadGlobal:
		g.generate(ctx, n.Arguments[0], true)
		ctx.own.LoadGlobalVarDynamic()
	case ir.BuiltinInvokeInitializer:
		g.generate(ctx, n.Arguments[0], true)
		ctx.own.InvokeInitializerTail()
	case ir.BuiltinInvokeLambda:
		for _, a := range n.Arguments {
			g.generate(ctx, a, true)
		}
		ctx.own.InvokeLambdaTail(len(n.Arguments), 0)
	case ir.BuiltinGlobalID, ir.BuiltinIdentical:
		for _, a := range n.Arguments {
			g.generate(ctx, a, true)
		}
		ctx.own.Primitive(0, int(n.Target))
	default:
		fail.Unreachable("codegen: unhandled builtin %d", n.Target)
	}
}
