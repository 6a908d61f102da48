// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shape implements the three layered signature types the backend
// uses to describe call sites and method signatures: CallShape (what a
// call site looks like), PlainShape (what a method looks like once every
// optional parameter has been resolved away by a stub), and
// ResolutionShape (what a method looks like as written, with optional
// unnamed and named parameters still present).
package shape

import (
	"fmt"
	"sort"
	"strings"
)

// CallShape is the signature seen at a call site: how many unnamed
// arguments, how many of those are blocks, and the (sorted) names of any
// named arguments, partitioned into a non-block section followed by a
// block section.
//
// Names is always sorted: non-block names alphabetically, then block
// names alphabetically. NamedBlockCount is the number of trailing
// entries in Names that are blocks.
type CallShape struct {
	Arity           int
	TotalBlockCount int
	NamedBlockCount int
	Names           []string
	IsSetter        bool
}

// NewCallShape builds a CallShape, sorting Names into the canonical
// section order shared between shape construction and call emission:
// (unnamed non-block), (unnamed block), (named non-block, alphabetical),
// (named block, alphabetical). Names passed in must already be
// partitioned into the named-non-block / named-block sections; only the
// alphabetical ordering within each section is imposed here.
func NewCallShape(arity, totalBlockCount, namedBlockCount int, names []string, isSetter bool) CallShape {
	nonBlock := append([]string(nil), names[:len(names)-namedBlockCount]...)
	block := append([]string(nil), names[len(names)-namedBlockCount:]...)
	sort.Strings(nonBlock)
	sort.Strings(block)
	return CallShape{
		Arity:           arity,
		TotalBlockCount: totalBlockCount,
		NamedBlockCount: namedBlockCount,
		Names:           append(nonBlock, block...),
		IsSetter:        isSetter,
	}
}

// StaticCallShape returns the shape of a plain positional static call
// with the given arity and no block arguments.
func StaticCallShape(arity int) CallShape {
	return CallShape{Arity: arity}
}

// UnnamedNonBlockCount returns the number of unnamed, non-block
// arguments.
func (c CallShape) UnnamedNonBlockCount() int {
	return c.Arity - len(c.Names) - c.UnnamedBlockCount()
}

// UnnamedBlockCount returns the number of unnamed block arguments.
func (c CallShape) UnnamedBlockCount() int {
	return c.TotalBlockCount - c.NamedBlockCount
}

// NamedNonBlockCount returns the number of named, non-block arguments.
func (c CallShape) NamedNonBlockCount() int {
	return len(c.Names) - c.NamedBlockCount
}

// HasNamedArguments reports whether the call passes any named arguments.
func (c CallShape) HasNamedArguments() bool {
	return len(c.Names) > 0
}

// IsBlockAt reports whether argument position i is a block, under the
// canonical section layout (unnamed non-block, unnamed block, named
// non-block, named block) every CallShape/ResolutionShape is built in.
func (c CallShape) IsBlockAt(i int) bool {
	unnamedCount := c.Arity - len(c.Names)
	unnamedBlockCount := c.UnnamedBlockCount()
	unnamedNonBlockCount := unnamedCount - unnamedBlockCount
	if i < unnamedNonBlockCount {
		return false
	}
	if i < unnamedCount {
		return true
	}
	return i >= c.Arity-c.NamedBlockCount
}

// NameFor returns the name of argument position i, or "" if it is
// unnamed.
func (c CallShape) NameFor(i int) string {
	unnamedCount := c.Arity - len(c.Names)
	if i < unnamedCount {
		return ""
	}
	return c.Names[i-unnamedCount]
}

// Equal reports whether c and other describe the same call shape.
func (c CallShape) Equal(other CallShape) bool {
	if c.IsSetter != other.IsSetter || c.Arity != other.Arity ||
		c.TotalBlockCount != other.TotalBlockCount ||
		c.NamedBlockCount != other.NamedBlockCount ||
		len(c.Names) != len(other.Names) {
		return false
	}
	for i := range c.Names {
		if c.Names[i] != other.Names[i] {
			return false
		}
	}
	return true
}

// WithImplicitThis returns the shape with the implicit receiver argument
// added as an extra unnamed argument.
func (c CallShape) WithImplicitThis() CallShape {
	c.Arity++
	return c
}

// PlainShape is a CallShape with the further guarantee that the method
// it describes has no optional parameters: every call accepted by the
// method has exactly this shape.
type PlainShape struct {
	CallShape
}

// ToEquivalentCallShape returns the CallShape a call site must use to
// reach a method with this plain shape. Round-trips with
// CallShape.ToPlainShape for any call shape with no optional parameters.
func (p PlainShape) ToEquivalentCallShape() CallShape {
	return p.CallShape
}

// ToPlainShape reinterprets a call shape (one with no optional
// parameters by construction, e.g. a static call site) as a PlainShape.
func (c CallShape) ToPlainShape() PlainShape {
	return PlainShape{CallShape: c}
}

// ResolutionShape is a method's signature as written: a CallShape
// describing its maximal arity, plus which of the unnamed and named
// parameters are optional.
//
// OptionalUnnamedCount is how many of the trailing unnamed non-block
// parameters are optional (optional unnamed parameters are always
// trailing). OptionalNames[i] is true when the i-th entry of Names is
// optional.
type ResolutionShape struct {
	CallShape
	OptionalUnnamedCount int
	OptionalNames        []bool

	// Warnings records non-fatal parameter-name collisions that
	// NewResolutionShape resolved by renaming, one entry per rename.
	Warnings []string
}

// NewResolutionShape builds a ResolutionShape for a static method (no
// implicit receiver) with the given maximal shape and optionality
// bitmap. Two parameters sharing a name (a malformed but not fatal
// declaration) are disambiguated by appending "#1", "#2", ... to every
// occurrence rather than rejected; each rename is recorded in Warnings.
func NewResolutionShape(call CallShape, optionalUnnamed int, optionalNames []bool) ResolutionShape {
	names, warnings := dedupNames(call.Names)
	call.Names = names
	return ResolutionShape{CallShape: call, OptionalUnnamedCount: optionalUnnamed, OptionalNames: optionalNames, Warnings: warnings}
}

// dedupNames renames every occurrence of a name that appears more than
// once in names to "name#1", "name#2", ... in order of appearance, so
// every entry stays unique; names with no collision pass through
// unchanged.
func dedupNames(names []string) ([]string, []string) {
	counts := make(map[string]int, len(names))
	for _, n := range names {
		counts[n]++
	}
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	var warnings []string
	for i, n := range names {
		if counts[n] <= 1 {
			out[i] = n
			continue
		}
		seen[n]++
		renamed := fmt.Sprintf("%s#%d", n, seen[n])
		out[i] = renamed
		warnings = append(warnings, fmt.Sprintf("duplicate parameter name %q renamed to %q", n, renamed))
	}
	return out, warnings
}

// MinUnnamedNonBlock returns the minimal number of unnamed non-block
// arguments a call must supply to be accepted.
func (r ResolutionShape) MinUnnamedNonBlock() int {
	return r.UnnamedNonBlockCount() - r.OptionalUnnamedCount
}

// MaxUnnamedNonBlock returns the maximal number of unnamed non-block
// arguments a call may supply.
func (r ResolutionShape) MaxUnnamedNonBlock() int {
	return r.UnnamedNonBlockCount()
}

// HasOptionalParameters reports whether the method has any optional
// unnamed or named parameter at all (setters never do).
func (r ResolutionShape) HasOptionalParameters() bool {
	if r.IsSetter {
		return false
	}
	if r.OptionalUnnamedCount != 0 {
		return true
	}
	for _, opt := range r.OptionalNames {
		if opt {
			return true
		}
	}
	return false
}

// ToPlainShape returns the shape of the method once every optional
// parameter has been supplied (the "fully applied" shape): no parameter
// is missing, so this is the shape of the generated adapter stub chain's
// innermost target.
func (r ResolutionShape) ToPlainShape() PlainShape {
	return PlainShape{CallShape: r.CallShape}
}

// Accepts reports whether a call with the given CallShape matches this
// method: the non-block unnamed count is in range, the unnamed/named
// block counts match exactly, every call-site named argument is present
// on the method, and every non-optional named parameter is supplied.
func (r ResolutionShape) Accepts(call CallShape) bool {
	if r.IsSetter != call.IsSetter {
		return false
	}
	unb := call.UnnamedNonBlockCount()
	if unb < r.MinUnnamedNonBlock() || unb > r.MaxUnnamedNonBlock() {
		return false
	}
	if call.UnnamedBlockCount() != r.UnnamedBlockCount() {
		return false
	}
	if call.NamedBlockCount != r.NamedBlockCount {
		return false
	}

	paramNonBlockCount := len(r.Names) - r.NamedBlockCount
	paramIdx := 0
	for _, argName := range call.Names {
		for paramIdx < len(r.Names) && r.Names[paramIdx] != argName {
			if !r.optionalAt(paramIdx) {
				return false
			}
			paramIdx++
		}
		if paramIdx == len(r.Names) {
			return false
		}
		paramIsBlock := paramIdx >= paramNonBlockCount
		argPos := indexOf(call.Names, argName)
		argIsBlock := argPos >= call.NamedNonBlockCount()
		if argIsBlock != paramIsBlock {
			return false
		}
		paramIdx++
	}
	for ; paramIdx < len(r.Names); paramIdx++ {
		if !r.optionalAt(paramIdx) {
			return false
		}
	}
	return true
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func (r ResolutionShape) optionalAt(i int) bool {
	if i < 0 || i >= len(r.OptionalNames) {
		return false
	}
	return r.OptionalNames[i]
}

// OverlapsWith reports whether there exists a call shape accepted by
// both r and other. Blocks must match exactly (never optional); unnamed
// non-block ranges must intersect; every name present in one shape as
// non-optional must be matched (and block-compatible) by the other.
func (r ResolutionShape) OverlapsWith(other ResolutionShape) bool {
	if r.IsSetter != other.IsSetter {
		return false
	}
	if r.IsSetter {
		return true
	}
	if r.TotalBlockCount != other.TotalBlockCount {
		return false
	}
	if r.UnnamedBlockCount() != other.UnnamedBlockCount() {
		return false
	}
	if r.MinUnnamedNonBlock() > other.MaxUnnamedNonBlock() {
		return false
	}
	if r.MaxUnnamedNonBlock() < other.MinUnnamedNonBlock() {
		return false
	}

	rNonBlock := len(r.Names) - r.NamedBlockCount
	oNonBlock := len(other.Names) - other.NamedBlockCount
	seen := map[string]bool{}
	for i, name := range r.Names {
		seen[name] = true
		oi := indexOf(other.Names, name)
		if oi < 0 {
			if !r.optionalAt(i) {
				return false
			}
			continue
		}
		if (i >= rNonBlock) != (oi >= oNonBlock) {
			return false
		}
	}
	for i, name := range other.Names {
		if seen[name] {
			continue
		}
		if !other.optionalAt(i) {
			return false
		}
	}
	return true
}

// IsFullyShadowedBy reports whether every call shape this method accepts
// is also accepted by at least one of overriders. If it is not, a
// witness CallShape escaping every overrider is returned as the second
// value.
//
// The search enumerates candidate unnamed arities in range and, when the
// method has optional named parameters, every subset of the optional
// names (each subset corresponds to a distinct call shape this method
// accepts); this is exhaustive because the number of optional named
// parameters on a single method is always small in practice.
func (r ResolutionShape) IsFullyShadowedBy(overriders []ResolutionShape) (bool, CallShape) {
	var overlapping []ResolutionShape
	for _, o := range overriders {
		if r.OverlapsWith(o) {
			overlapping = append(overlapping, o)
		}
	}
	if len(overlapping) == 0 {
		return false, CallShape{}
	}
	if !r.HasOptionalParameters() {
		return true, CallShape{}
	}

	for _, call := range r.acceptedCallShapes() {
		shadowed := false
		for _, o := range overlapping {
			if o.Accepts(call) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			return false, call
		}
	}
	return true, CallShape{}
}

// acceptedCallShapes enumerates every distinct CallShape this
// resolution shape accepts, varying the number of supplied optional
// unnamed arguments and which optional named arguments are present.
func (r ResolutionShape) acceptedCallShapes() []CallShape {
	var optionalIdx []int
	for i, opt := range r.OptionalNames {
		if opt {
			optionalIdx = append(optionalIdx, i)
		}
	}
	var out []CallShape
	for unb := r.MinUnnamedNonBlock(); unb <= r.MaxUnnamedNonBlock(); unb++ {
		subsets := 1 << len(optionalIdx)
		for mask := 0; mask < subsets; mask++ {
			drop := map[int]bool{}
			for bit, idx := range optionalIdx {
				if mask&(1<<bit) == 0 {
					drop[idx] = true
				}
			}
			var names []string
			namedBlock := 0
			nonBlockCount := len(r.Names) - r.NamedBlockCount
			for i, name := range r.Names {
				if drop[i] {
					continue
				}
				names = append(names, name)
				if i >= nonBlockCount {
					namedBlock++
				}
			}
			out = append(out, CallShape{
				Arity:           unb + r.TotalBlockCount + len(names),
				TotalBlockCount: r.TotalBlockCount,
				NamedBlockCount: namedBlock,
				Names:           names,
				IsSetter:        r.IsSetter,
			})
		}
	}
	return out
}

// Selector identifies a method family by name and shape.
type Selector[S any] struct {
	Name  string
	Shape S
}

// Key returns a string identifying the selector: its name, then its
// shape's canonical string form; used for deterministic iteration when
// building dispatch table rows.
func (s Selector[S]) Key() string {
	return s.Name + "\x00" + shapeKey(s.Shape)
}

func shapeKey(s any) string {
	switch v := s.(type) {
	case CallShape:
		return callShapeKey(v)
	case PlainShape:
		return callShapeKey(v.CallShape)
	case ResolutionShape:
		return callShapeKey(v.CallShape)
	default:
		return ""
	}
}

func callShapeKey(c CallShape) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d,%d,%d,%t:", c.Arity, c.TotalBlockCount, c.NamedBlockCount, c.IsSetter)
	b.WriteString(strings.Join(c.Names, ","))
	return b.String()
}

// DispatchSelector is a Selector whose shape is a PlainShape: the unit
// the dispatch table is built from.
type DispatchSelector = Selector[PlainShape]

// ResolutionSelector is a Selector whose shape is a ResolutionShape,
// used by the stub synthesizer before shapes have been collapsed.
type ResolutionSelector = Selector[ResolutionShape]

// setterSuffix is the suffix SetterName appends to form a setter's
// selector name.
const setterSuffix = "="

// SetterName appends the setter suffix to a field or method name.
func SetterName(name string) string {
	return name + setterSuffix
}

// OperatorSelectors is the canonical name table for built-in operator
// selectors, shared between the dispatch-table builder's row sort (an
// operator==row always sorts last) and the shortcut-offset table
// (§4.3 step 6): the interpreter needs to know, for each of these, the
// offset at which the corresponding handler lives so it can fall back to
// generic dispatch when the optimized opcode misses.
var OperatorSelectors = []string{
	"==", "<", "<=", ">", ">=",
	"+", "-", "*", "/", "%",
	"~", "&", "|", "^", "-unary",
	">>", ">>>", "<<",
	"[]", "[]=",
}

// IsOperatorSelector reports whether name is one of the built-in
// operator selectors.
func IsOperatorSelector(name string) bool {
	for _, op := range OperatorSelectors {
		if op == name {
			return true
		}
	}
	return false
}
