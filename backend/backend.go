// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backend assembles a resolved ir.Program into a runnable
// image: it builds the dispatch table, lays out per-class metadata and
// the global-variable vector, walks every global and method body
// through codegen, wires the results into the dispatch table and
// source map, and cooks the finished image.
//
// Grounded on Backend::emit in the original compiler's backend.cc,
// adapted where this port's imagesink.Sink and ir.Program shapes
// diverge from the original's ProgramBuilder and ir::Program.
package backend

import (
	"sort"

	"github.com/bclang/backend/codegen"
	"github.com/bclang/backend/dispatchtable"
	"github.com/bclang/backend/emitter"
	"github.com/bclang/backend/imagesink"
	"github.com/bclang/backend/internal/fail"
	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/shape"
	"github.com/bclang/backend/sourcemap"
)

// objectHeaderBytes and wordSizeBytes size an instance's storage the
// way the original's Instance::allocation_size does; that method's
// body isn't in the retrieved sources, so instanceSizeBytes stands in
// with the straightforward header-plus-fields formula it almost
// certainly computes.
const (
	objectHeaderBytes = 8
	wordSizeBytes     = 8
)

// Stats summarizes one Generate call, for build tooling and tests.
type Stats struct {
	MethodCount     int
	BytecodeBytes   int
	PeepholeFusions int
	Holes           int
}

// Driver emits a resolved program into an image and source map. Both
// sinks must be freshly constructed; Generate writes to them
// left-to-right and never reads them back.
type Driver struct {
	Image     imagesink.Sink
	SourceMap sourcemap.Sink
}

// Generate runs the full emission pipeline: dispatch table, typecheck
// index tables, class metadata, global vector, method bodies, operator
// shortcut offsets, and entry points, then cooks the image.
//
// Generate assumes program has already been through adapter/interface
// stub synthesis (see the stubs package) and that program.Methods
// already holds every statically-dispatched method body - free
// functions, constructors, factories, and stubs alike - the way the
// original's ir_program->methods() does; Class.Constructors and
// Class.Factories are resolution-time lookup views over those same
// Method values, not a second source of bodies to emit.
func (d *Driver) Generate(program *ir.Program) Stats {
	table := dispatchtable.Build(program)
	table.ForEachSelectorOffset(func(sel shape.DispatchSelector, offset int) {
		d.SourceMap.RegisterSelectorOffset(offset, sel.Name)
	})
	d.Image.CreateDispatchTable(table.Length())

	typechecks, checkedClasses, checkedInterfaces := buildTypecheckIndex(program)
	d.Image.SetClassCheckIDs(encodeTypecheckClassList(checkedClasses))
	d.Image.SetInterfaceCheckOffsets(encodeTypecheckInterfaceList(checkedInterfaces, table))

	d.emitClasses(program, table)

	gen := &codegen.Generator{
		Program:        program,
		Table:          table,
		Typechecks:     typechecks,
		Image:          d.Image,
		SourceMap:      d.SourceMap,
		LookupFailure:  program.LookupFailure,
		AsCheckFailure: program.AsCheckFailure,
		// true/false live in the global-variable vector, in the two
		// slots right after the program's own globals; see emitGlobals.
		FalseGlobalID: len(program.Globals),
		TrueGlobalID:  len(program.Globals) + 1,
	}

	var stats Stats
	d.emitGlobals(program, gen, &stats)
	d.emitMethods(program, table, gen, &stats)
	d.emitInvokeBytecodeOffsets(table)
	d.emitEntryPoints(program, table)

	d.Image.Cook()

	for _, m := range table.Slots() {
		if m == nil {
			stats.Holes++
		}
	}
	return stats
}

// emitClasses installs per-class runtime metadata for every
// instantiated class and, for source-map purposes only, records every
// uninstantiated one too; it mirrors the two-pass loop in the original
// so the source mapper's entries come out in id order.
func (d *Driver) emitClasses(program *ir.Program, table *dispatchtable.Table) int {
	classSink, hasClassSink := d.SourceMap.(sourcemap.ClassSink)

	instantiatedCount := 0
	for _, c := range program.Classes {
		if c.IsInstantiated {
			instantiatedCount++
		}
	}
	d.Image.CreateClassBitsTable(instantiatedCount)

	for _, c := range program.Classes {
		if !c.IsInstantiated {
			continue
		}
		id := table.IDFor(c)
		d.Image.CreateClass(id, c.Name, instanceSizeBytes(c), c.IsRuntime)
		if hasClassSink {
			classSink.AddClassEntry(id, c)
		}
	}

	uninstantiatedID := instantiatedCount
	for _, c := range program.Classes {
		if c.IsInstantiated {
			continue
		}
		if hasClassSink {
			classSink.AddClassEntry(uninstantiatedID, c)
		}
		uninstantiatedID++
	}
	return instantiatedCount
}

// instanceSizeBytes is a documented simplification of
// Instance::allocation_size: a fixed object header plus one word per
// field. The original's implementation file was never retrieved, so
// the true header layout (mark bits, class id width, ...) is unknown;
// this keeps every instantiated class's size internally consistent
// without claiming to match the original's exact byte count.
func instanceSizeBytes(c *ir.Class) int {
	return objectHeaderBytes + c.TotalFieldCount*wordSizeBytes
}

// emitGlobals sizes and fills the global-variable vector: the
// program's own globals first, each landing in the vector slot its
// resolved GlobalID names, then the two skeleton boolean singletons
// codegen addresses through Generator.TrueGlobalID/FalseGlobalID.
// Pushing the skeleton booleans after the real globals, rather than
// before as the original's set_up_skeleton_program does, is what keeps
// their slots from colliding with a real global's GlobalID; Generate
// computes their ids up front (len(program.Globals), +1) so every
// method body generated later - including a lazy global's own
// initializer - can reference them before they're actually pushed.
func (d *Driver) emitGlobals(program *ir.Program, gen *codegen.Generator, stats *Stats) {
	classSink, hasClassSink := d.SourceMap.(sourcemap.ClassSink)

	d.Image.CreateGlobalVariables(len(program.Globals) + 2)
	for i, g := range program.Globals {
		fail.Assertf(g.GlobalID == i, "backend: global %q out of order (id %d, position %d)", g.Name, g.GlobalID, i)
		if hasClassSink {
			classSink.AddGlobalEntry(g)
		}
		if g.IsLazy {
			id := gen.GenerateGlobal(g)
			accumulate(stats, gen)
			d.Image.PushLazyInitializerID(id)
			continue
		}
		pushGlobalLiteral(d.Image, g.Body)
	}
	d.Image.PushBoolean(false)
	d.Image.PushBoolean(true)
}

// pushGlobalLiteral pushes a non-lazy global's constant value directly,
// without going through codegen; every non-lazy global's body is a
// single return of a literal, the way the resolver leaves it after
// constant-folding.
func pushGlobalLiteral(image imagesink.Sink, body ir.Expression) {
	if seq, ok := body.(*ir.Sequence); ok && len(seq.Expressions) == 1 {
		body = seq.Expressions[0]
	}
	ret, ok := body.(*ir.Return)
	fail.Assertf(ok, "backend: non-lazy global body is not a single return")

	switch v := ret.Value.(type) {
	case *ir.LiteralNull:
		image.PushNull()
	case *ir.LiteralInteger:
		if v.Value >= 0 && v.Value <= 0xffffffff {
			image.PushSmi(v.Value)
		} else {
			image.PushLargeInteger(v.Value)
		}
	case *ir.LiteralString:
		image.PushString(v.Value)
	case *ir.LiteralFloat:
		image.PushDouble(v.Value)
	case *ir.LiteralBoolean:
		image.PushBoolean(v.Value)
	default:
		fail.Unreachable("backend: non-lazy global body has unsupported literal type %T", ret.Value)
	}
}

// emitMethods walks every free/static method and then every class's
// instance methods, generating each body once and writing its image id
// into every dispatch-table slot that selects it.
func (d *Driver) emitMethods(program *ir.Program, table *dispatchtable.Table, gen *codegen.Generator, stats *Stats) {
	emitOne := func(m *ir.Method) {
		id := gen.GenerateMethod(m)
		accumulate(stats, gen)

		if m.IsStatic() {
			idx, ok := table.SlotIndexFor(m)
			fail.Assertf(ok, "backend: static method %q has no dispatch-table slot", m.Name)
			d.Image.SetDispatchTableEntry(idx, id)
			return
		}

		offset, ok := table.OffsetOf(shape.DispatchSelector{Name: m.Name, Shape: m.PlainShape})
		fail.Assertf(ok, "backend: instance method %q has no dispatch offset", m.Name)
		executed := false
		table.ForEachSlotIndex(m, offset, func(idx int) {
			executed = true
			d.Image.SetDispatchTableEntry(idx, id)
		})
		fail.Assertf(executed, "backend: instance method %q was never installed in the dispatch table", m.Name)
	}

	for _, m := range program.Methods {
		emitOne(m)
	}
	for _, c := range program.Classes {
		for _, m := range c.Methods {
			emitOne(m)
		}
	}
}

// emitInvokeBytecodeOffsets records, for every binary-operator shortcut
// opcode, the dispatch offset a call site would compute for the
// equivalent plain virtual call; the interpreter falls back to this
// offset when an operand's class doesn't support the opcode's own
// inline fast path.
func (d *Driver) emitInvokeBytecodeOffsets(table *dispatchtable.Table) {
	for name, op := range codegen.OperatorOpcodes {
		arity := 2
		if op == emitter.INVOKE_AT_PUT {
			arity = 3
		}
		selector := shape.DispatchSelector{Name: name, Shape: shape.StaticCallShape(arity).ToPlainShape()}
		offset, ok := table.OffsetOf(selector)
		if !ok {
			offset = -1
		}
		d.Image.SetInvokeBytecodeOffset(int(op), offset)
	}
}

// emitEntryPoints resolves every named VM entry point method to its
// dispatch-table slot, in the fixed order the interpreter expects them.
func (d *Driver) emitEntryPoints(program *ir.Program, table *dispatchtable.Table) {
	for i, m := range program.EntryPoints {
		idx, ok := table.SlotIndexFor(m)
		fail.Assertf(ok, "backend: entry point %q has no dispatch-table slot", m.Name)
		d.Image.SetEntryPointIndex(i, idx)
	}
}

func accumulate(stats *Stats, gen *codegen.Generator) {
	bytes, fusions := gen.LastGenerationStats()
	stats.MethodCount++
	stats.BytecodeBytes += bytes
	stats.PeepholeFusions += fusions
}

// typecheckIndex is the concrete codegen.TypecheckIndex built from a
// program's sorted usage counts.
type typecheckIndex struct {
	classes    map[*ir.Class]int
	interfaces map[*ir.Class]int
}

func (t *typecheckIndex) ClassCheckIndex(c *ir.Class) (int, bool) {
	idx, ok := t.classes[c]
	return idx, ok
}

func (t *typecheckIndex) InterfaceCheckIndex(c *ir.Class) (int, bool) {
	idx, ok := t.interfaces[c]
	return idx, ok
}

// buildTypecheckIndex counts how many Typecheck nodes target each
// class/interface across every method, constructor, factory, and
// global body, then returns the two lists sorted by descending usage
// (most-used first, so its index fits a single byte), each paired with
// a codegen.TypecheckIndex over that order.
//
// Ties break on class name for determinism: Go map iteration order
// isn't stable across runs the way the original's single-process C++
// map iteration happened to be, so sort.SliceStable alone would let two
// equally-used classes trade places from one build to the next.
func buildTypecheckIndex(program *ir.Program) (codegen.TypecheckIndex, []*ir.Class, []*ir.Class) {
	classCounts := map[*ir.Class]int{}
	interfaceCounts := map[*ir.Class]int{}

	visit := func(e ir.Expression) {
		tc, ok := e.(*ir.Typecheck)
		if !ok || tc.Type == nil {
			return
		}
		if tc.Type.IsInterface {
			interfaceCounts[tc.Type]++
		} else {
			classCounts[tc.Type]++
		}
	}
	for _, m := range program.Methods {
		if m.Body != nil {
			ir.Walk(m.Body, visit)
		}
	}
	for _, c := range program.Classes {
		for _, m := range c.Methods {
			if m.Body != nil {
				ir.Walk(m.Body, visit)
			}
		}
	}
	for _, g := range program.Globals {
		if g.Body != nil {
			ir.Walk(g.Body, visit)
		}
	}

	classes := sortedByUsage(classCounts)
	interfaces := sortedByUsage(interfaceCounts)
	return &typecheckIndex{
		classes:    indexOf(classes),
		interfaces: indexOf(interfaces),
	}, classes, interfaces
}

func sortedByUsage(counts map[*ir.Class]int) []*ir.Class {
	result := make([]*ir.Class, 0, len(counts))
	for c := range counts {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if counts[result[i]] != counts[result[j]] {
			return counts[result[i]] > counts[result[j]]
		}
		return result[i].Name < result[j].Name
	})
	return result
}

func indexOf(ordered []*ir.Class) map[*ir.Class]int {
	index := make(map[*ir.Class]int, len(ordered))
	for i, c := range ordered {
		index[c] = i
	}
	return index
}

func encodeTypecheckClassList(classes []*ir.Class) []uint16 {
	result := make([]uint16, len(classes)*2)
	for i, c := range classes {
		result[2*i] = uint16(c.StartID)
		result[2*i+1] = uint16(c.EndID)
	}
	return result
}

func encodeTypecheckInterfaceList(interfaces []*ir.Class, table *dispatchtable.Table) []uint16 {
	result := make([]uint16, len(interfaces))
	for i, iface := range interfaces {
		fail.Assertf(iface.HasTypecheckSelector(), "backend: interface %q has no typecheck selector", iface.Name)
		offset, ok := table.OffsetOf(iface.TypecheckSelector)
		// Every interface in this list has a typecheck selector; the
		// assertion below requires that the dispatch table also gave that
		// selector a row.
		fail.Assertf(ok, "backend: interface %q has no dispatch offset", iface.Name)
		result[i] = uint16(offset)
	}
	return result
}
