// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "github.com/bclang/backend/shape"

// Expression is a tree node that, depending on the walker's for-value
// flag, either leaves one value on the stack or none.
type Expression interface {
	Node
	isExpression()
}

type exprBase struct{}

func (exprBase) isNode()       {}
func (exprBase) isExpression() {}

// Error stands in for a node the front end could not resolve; the
// backend never sees one in a well-formed program, but tests use it as
// an inert placeholder.
type Error struct {
	exprBase
	Nested []Expression
}

// Nop does nothing in either mode: for-value pushes null, for-effect
// emits nothing.
type Nop struct{ exprBase }

// FieldStore assigns Value to Receiver's Field.
type FieldStore struct {
	exprBase
	Receiver  Expression
	Field     *Field
	Value     Expression
	IsBoxStore bool
}

// FieldLoad reads Field off Receiver.
type FieldLoad struct {
	exprBase
	Receiver Expression
	Field    *Field
	IsBoxLoad bool
}

// Sequence evaluates Expressions in order; only the last one's value
// (in for-value mode) survives.
type Sequence struct {
	exprBase
	Expressions []Expression
}

// BuiltinKind names a compiler intrinsic operation with no user-level
// method behind it.
type BuiltinKind int

const (
	BuiltinThrow BuiltinKind = iota
	BuiltinHalt
	BuiltinExit
	BuiltinInvokeLambda
	BuiltinYield
	BuiltinDeepSleep
	BuiltinStoreGlobal
	BuiltinLoadGlobal
	BuiltinInvokeInitializer
	BuiltinGlobalID
	BuiltinIdentical
)

// TryFinally runs Body, then always runs Handler, with
// HandlerParameters bound to the outcome (result/reason) on entry.
type TryFinally struct {
	exprBase
	Body              *Code
	HandlerParameters []*Local
	Handler           Expression
}

// If evaluates Condition then Yes or No.
type If struct {
	exprBase
	Condition Expression
	Yes       Expression
	No        Expression
}

// Not negates a boolean value.
type Not struct {
	exprBase
	Value Expression
}

// While loops while Condition holds, running Body then Update each
// iteration. LoopVariable, if non-nil, is the effectively-final loop
// variable the codegen can special-case.
type While struct {
	exprBase
	Condition    Expression
	Body         Expression
	Update       Expression
	LoopVariable *Local
}

// LoopBranch is a break (IsBreak) or continue targeting the loop
// LoopDepth levels out.
type LoopBranch struct {
	exprBase
	IsBreak   bool
	LoopDepth int
}

// Code is a function body: either a top-level method body, a block
// (IsBlock true, shares the outer function's stack and can NLR through
// it), or a lambda (IsBlock false, has its own frame and an explicit
// CapturedCount of forwarded outer values).
type Code struct {
	exprBase
	Parameters    []*Parameter
	Body          Expression
	IsBlock       bool
	CapturedCount int
}

// ReferenceClass names a class, e.g. as a constructor call target.
type ReferenceClass struct {
	exprBase
	Target *Class
}

// ReferenceMethod names a method, e.g. as a static call target.
type ReferenceMethod struct {
	exprBase
	Target *Method
}

// ReferenceGlobal reads or names a global; IsLazy marks that evaluating
// it may trigger the lazy initializer.
type ReferenceGlobal struct {
	exprBase
	Target *Global
	IsLazy bool
}

// ReferenceLocal names a local or block, BlockDepth levels out from the
// current function (0 = the immediately enclosing one).
type ReferenceLocal struct {
	exprBase
	Target     *Local
	BlockDepth int
}

func (r *ReferenceLocal) IsBlock() bool { return r.Target.IsBlockFlag }

// Dot is a receiver plus a selector name, the left-hand side of a
// virtual call or field access before resolution picks one.
type Dot struct {
	Receiver Expression
	Selector string
}

func (*Dot) isNode() {}

// Super marks a constructor's implicit/explicit call to its
// superclass's constructor chain.
type Super struct {
	exprBase
	Expression Expression
	IsExplicit bool
	IsAtEnd    bool
}

// Call is the common shape of every call-like node: the shape-checked
// argument list, the call's resolved shape, and whether the codegen
// has marked it as a tail call.
type Call struct {
	exprBase
	Arguments  []Expression
	Shape      shape.CallShape
	IsTailCall bool
}

// CallStatic calls a free function, static method, or (as Lambda)
// constructs a lambda.
type CallStatic struct {
	Call
	Method *ReferenceMethod
}

// Lambda is a CallStatic to the runtime's lambda constructor, carrying
// the Code to assemble as the lambda body and the outer locals it
// captures (local -> block depth it's captured from).
type Lambda struct {
	CallStatic
	CapturedDepths map[*Local]int
}

// CallConstructor calls a class's constructor.
type CallConstructor struct {
	CallStatic
	IsBoxConstruction bool
}

// CallVirtual dispatches through a selector at runtime. Opcode
// defaults to the general INVOKE_VIRTUAL family member but is
// overridden (e.g. to an IS_INTERFACE check) by callers that synthesize
// a CallVirtual directly rather than from a parsed call expression.
type CallVirtual struct {
	Call
	Target *Dot
	Opcode int
}

func (c *CallVirtual) Receiver() Expression { return c.Target.Receiver }
func (c *CallVirtual) Selector() string     { return c.Target.Selector }

// CallBlock invokes a block or block-typed local.
type CallBlock struct {
	Call
	Target Expression
}

// CallBuiltin invokes a compiler intrinsic.
type CallBuiltin struct {
	Call
	Target BuiltinKind
}

// TypecheckKind distinguishes why a Typecheck node exists, which
// determines which sentinel failure path the codegen wires on mismatch.
type TypecheckKind int

const (
	IsCheck TypecheckKind = iota
	AsCheck
	ParameterAsCheck
	LocalAsCheck
	ReturnAsCheck
	FieldInitializerAsCheck
	FieldAsCheck
)

// Typecheck is an `is`/`as` check of Expression against Type.
type Typecheck struct {
	exprBase
	Kind       TypecheckKind
	Expression Expression
	Type       *Class // nil for non-class types (any, primitive types, ...)
	TypeName   string
}

func (t *Typecheck) IsAsCheck() bool { return t.Kind != IsCheck }
func (t *Typecheck) IsInterfaceCheck() bool {
	return t.Type != nil && t.Type.IsInterface
}

// Return returns Value, unwinding Depth frames (-1 means the next
// outermost function; 0 the immediately enclosing block/lambda).
type Return struct {
	exprBase
	Value              Expression
	Depth              int
	IsEndOfMethodReturn bool
}

// LogicalOp is LogicalBinary's short-circuiting operator.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

// LogicalBinary is a short-circuiting `and`/`or`.
type LogicalBinary struct {
	exprBase
	Left, Right Expression
	Op          LogicalOp
}

// Assignment is the common shape of every assignment-like node.
type Assignment struct {
	exprBase
	Right Expression
}

// AssignmentLocal assigns to a local, BlockDepth levels out.
type AssignmentLocal struct {
	Assignment
	Local      *Local
	BlockDepth int
}

// AssignmentGlobal assigns to a global.
type AssignmentGlobal struct {
	Assignment
	Global *Global
}

// AssignmentDefine introduces a new local and assigns its initial value.
type AssignmentDefine struct {
	Assignment
	Local *Local
}

// LiteralNull is the `null` literal.
type LiteralNull struct{ exprBase }

// LiteralUndefined marks a field/local slot as not-yet-initialized;
// reads of it are a front-end error, never a runtime one.
type LiteralUndefined struct{ exprBase }

// LiteralInteger is an integer literal of arbitrary magnitude; values
// outside the emitter's direct-encoding range are routed through the
// literal pool.
type LiteralInteger struct {
	exprBase
	Value int64
}

// LiteralFloat is a floating-point literal, always routed through the
// literal pool.
type LiteralFloat struct {
	exprBase
	Value float64
}

// LiteralString is a string literal, routed through the literal pool.
type LiteralString struct {
	exprBase
	Value string
}

// LiteralByteArray is a byte-array literal, routed through the literal pool.
type LiteralByteArray struct {
	exprBase
	Data []byte
}

// LiteralBoolean is `true` or `false`.
type LiteralBoolean struct {
	exprBase
	Value bool
}

// PrimitiveInvocation calls into a numbered VM primitive; the stack
// must be empty when the codegen reaches it (the emitter asserts this).
type PrimitiveInvocation struct {
	exprBase
	Module         string
	Primitive      string
	ModuleIndex    int
	PrimitiveIndex int
}
