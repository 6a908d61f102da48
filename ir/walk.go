// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// Walk calls visit on e and then, depth-first, on every Expression
// reachable from it. It is the generic traversal every backend pass
// that only cares about a handful of node kinds (collecting virtual-call
// selectors, counting typecheck usages, ...) builds on, replacing the
// original's per-concern TraversingVisitor subclasses with one walk plus
// a type switch in the visit callback.
func Walk(e Expression, visit func(Expression)) {
	if e == nil {
		return
	}
	visit(e)
	switch n := e.(type) {
	case *Error:
		for _, c := range n.Nested {
			Walk(c, visit)
		}
	case *FieldStore:
		Walk(n.Receiver, visit)
		Walk(n.Value, visit)
	case *FieldLoad:
		Walk(n.Receiver, visit)
	case *Sequence:
		for _, c := range n.Expressions {
			Walk(c, visit)
		}
	case *TryFinally:
		Walk(n.Body, visit)
		Walk(n.Handler, visit)
	case *If:
		Walk(n.Condition, visit)
		Walk(n.Yes, visit)
		Walk(n.No, visit)
	case *Not:
		Walk(n.Value, visit)
	case *While:
		Walk(n.Condition, visit)
		Walk(n.Body, visit)
		Walk(n.Update, visit)
	case *Code:
		Walk(n.Body, visit)
	case *Super:
		Walk(n.Expression, visit)
	case *CallVirtual:
		Walk(n.Target.Receiver, visit)
		for _, a := range n.Arguments {
			Walk(a, visit)
		}
	case *CallBlock:
		Walk(n.Target, visit)
		for _, a := range n.Arguments {
			Walk(a, visit)
		}
	case *CallStatic:
		for _, a := range n.Arguments {
			Walk(a, visit)
		}
	case *Lambda:
		for _, a := range n.Arguments {
			Walk(a, visit)
		}
	case *CallConstructor:
		for _, a := range n.Arguments {
			Walk(a, visit)
		}
	case *CallBuiltin:
		for _, a := range n.Arguments {
			Walk(a, visit)
		}
	case *Typecheck:
		Walk(n.Expression, visit)
	case *Return:
		Walk(n.Value, visit)
	case *LogicalBinary:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *AssignmentLocal:
		Walk(n.Right, visit)
	case *AssignmentGlobal:
		Walk(n.Right, visit)
	case *AssignmentDefine:
		Walk(n.Right, visit)
	}
}
