// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatchtable builds the single flat array every virtual call
// indexes into at runtime: one row-displacement-packed table mapping
// (class id, selector offset) pairs to the ir.Method that answers them.
//
// The packing problem is: each class occupies a contiguous id range
// [start_id, end_id), each selector wants a slot in every class range
// that implements it, and slots for distinct selectors can share a
// table offset as long as their occupied class ranges never overlap.
// Greedily placing the widest selector rows first, reusing holes left by
// earlier rows before growing the table, is the same row-displacement
// scheme hash-table perfect-hashing and sparse-matrix packing use.
package dispatchtable

import (
	"container/heap"
	"sort"

	"github.com/bclang/backend/internal/fail"
	"github.com/bclang/backend/ir"
	"github.com/bclang/backend/shape"
)

// Table is the built dispatch table: a flat slot array plus the offset
// assigned to each selector.
type Table struct {
	slots   []*ir.Method
	offsets map[string]offsetEntry
}

type offsetEntry struct {
	selector shape.DispatchSelector
	offset   int
}

// Length returns the number of slots in the table.
func (t *Table) Length() int { return len(t.slots) }

// Slots returns the raw backing array; an image sink walks it to emit
// the table verbatim.
func (t *Table) Slots() []*ir.Method { return t.slots }

// SlotIndexFor returns the slot holding a static method, i.e. one never
// reached by a selector probe. Instance methods can occupy more than one
// slot (once per overriding class range) and must use ForEachSlotIndex
// instead.
func (t *Table) SlotIndexFor(method *ir.Method) (int, bool) {
	if method.IsDead {
		return 0, false
	}
	fail.Assertf(method.IndexIsSet(), "dispatchtable.SlotIndexFor: %s has no assigned index", method.Name)
	fail.Assertf(t.slots[method.Index] == method, "dispatchtable.SlotIndexFor: slot %d does not hold %s", method.Index, method.Name)
	return method.Index, true
}

// ForEachSlotIndex calls fn for every slot in [dispatchOffset+holder.StartID,
// dispatchOffset+holder.EndID) that holds member. If member's own index
// falls outside that range it was placed there as an effective static
// call (a super call, or an optimizer-devirtualized call site) and fn is
// called once with that index instead.
func (t *Table) ForEachSlotIndex(member *ir.Method, dispatchOffset int, fn func(int)) {
	holder := member.Holder
	fail.Assertf(holder != nil, "dispatchtable.ForEachSlotIndex: %s has no holder", member.Name)

	start := dispatchOffset + holder.StartID
	limit := dispatchOffset + holder.EndID
	index, ok := t.SlotIndexFor(member)
	if !ok {
		return
	}
	if start <= index && index < limit {
		for i := start; i < limit; i++ {
			if t.slots[i] == member {
				fn(i)
			}
		}
		return
	}
	fn(index)
}

// OffsetOf returns the offset assigned to selector, i.e. the value a
// virtual call site computes `receiver_class_id + offset` with to find
// its slot. The second value is false if no call site ever used this
// selector (it never got a row, never got an offset).
func (t *Table) OffsetOf(selector shape.DispatchSelector) (int, bool) {
	entry, ok := t.offsets[selector.Key()]
	if !ok {
		return 0, false
	}
	return entry.offset, true
}

// IDFor returns a class's dispatch id, i.e. the id its instances carry
// and virtual calls add the selector's offset to.
func (t *Table) IDFor(c *ir.Class) int { return c.StartID }

// ForEachSelectorOffset calls fn once per selector that was assigned a
// row in the table.
func (t *Table) ForEachSelectorOffset(fn func(shape.DispatchSelector, int)) {
	for _, e := range t.offsets {
		fn(e.selector, e.offset)
	}
}

// Build assigns dispatch ids to every class in program.Classes and packs
// a dispatch table covering every selector reachable through a
// CallVirtual node in the program, plus every static method, into one
// flat slot array.
//
// program.Classes must already be in the order the front end resolves
// classes in: superclasses before their subclasses. Build walks it in
// reverse so that, for id assignment and row filling, subclasses are
// always handled before the superclasses that narrow their range.
func Build(program *ir.Program) *Table {
	selectors := collectVirtualSelectors(program)

	instantiatedCount := assignClassIDs(program.Classes)

	fitter := newRowFitter()
	for i := len(program.Classes) - 1; i >= 0; i-- {
		holder := program.Classes[i]
		for _, method := range holder.Methods {
			fail.Assertf(!method.IsDead, "dispatchtable.Build: dead method %s still present", method.Name)
			sel := shape.DispatchSelector{Name: method.Name, Shape: method.PlainShape}
			_, selectorSeen := selectors[sel.Key()]
			if method.Kind != ir.KindIsInterfaceStub && !selectorSeen {
				continue
			}
			fitter.define(sel, holder, method)
		}
	}

	var result []*ir.Method
	offsets := map[string]offsetEntry{}
	for _, row := range fitter.sortedRows() {
		offset := fitter.fitAndFill(&result, row)
		offsets[row.selector.Key()] = offsetEntry{selector: row.selector, offset: offset}
	}

	unusedSlots := fitter.popAllHoles()

	tableSize := len(result)
	for i := 0; i < tableSize; i++ {
		method := result[i]
		if method == nil || method.IndexIsSet() {
			continue
		}
		method.SetIndex(i)
	}

	tableIndex := 0
	extraMethodCount := 0
	for _, class := range program.Classes {
		for _, method := range class.Methods {
			if method.IndexIsSet() {
				continue
			}
			extraMethodCount++
			for tableIndex < tableSize && result[tableIndex] != nil {
				tableIndex++
			}
			if tableIndex < tableSize {
				result[tableIndex] = method
				method.SetIndex(tableIndex)
			} else {
				method.SetIndex(len(result))
				result = append(result, method)
			}
		}
	}

	if unusedSlots >= extraMethodCount {
		unusedSlots -= extraMethodCount
		extraMethodCount = 0
	} else {
		extraMethodCount -= unusedSlots
		unusedSlots = 0
	}
	finalSize := fitter.limit + instantiatedCount + extraMethodCount
	staticMethodCount := len(program.Methods)
	if staticMethodCount > unusedSlots {
		finalSize += staticMethodCount - unusedSlots
	}
	if finalSize > len(result) {
		grown := make([]*ir.Method, finalSize)
		copy(grown, result)
		result = grown
	} else {
		result = result[:finalSize]
	}

	handleStaticMethods(result, program.Methods)

	t := &Table{slots: result, offsets: offsets}
	fail.Assertf(t.indexesAreCorrect(), "dispatchtable.Build: a method's recorded index does not match its table slot")
	return t
}

func (t *Table) indexesAreCorrect() bool {
	for _, method := range t.slots {
		if method == nil {
			continue
		}
		if t.slots[method.Index] != method {
			return false
		}
	}
	return true
}

// handleStaticMethods drops every method never reached by a virtual
// selector into the remaining null slots, in order, assigning each its
// index as it goes.
func handleStaticMethods(table []*ir.Method, methods []*ir.Method) {
	methodIndex := 0
	for i := 0; i < len(table) && methodIndex < len(methods); i++ {
		if table[i] != nil {
			continue
		}
		method := methods[methodIndex]
		methodIndex++
		fail.Assertf(!method.IsDead, "dispatchtable.handleStaticMethods: dead method %s still present", method.Name)
		table[i] = method
		fail.Assertf(!method.IndexIsSet(), "dispatchtable.handleStaticMethods: %s already has an index", method.Name)
		method.SetIndex(i)
	}
	fail.Assertf(methodIndex == len(methods), "dispatchtable.handleStaticMethods: not enough free slots for every static method")
}

// collectVirtualSelectors walks every method body in the program and
// records the (name, shape) of every selector a CallVirtual node probes.
// Only these selectors get a row; a method nobody ever calls virtually
// is placed as a plain static entry instead.
func collectVirtualSelectors(program *ir.Program) map[string]struct{} {
	seen := map[string]struct{}{}
	visit := func(e ir.Expression) {
		call, ok := e.(*ir.CallVirtual)
		if !ok {
			return
		}
		sel := shape.DispatchSelector{Name: call.Selector(), Shape: call.Shape.ToPlainShape()}
		seen[sel.Key()] = struct{}{}
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
	for _, g := range program.Globals {
		if g.Body != nil {
			ir.Walk(g.Body, visit)
		}
	}
	return seen
}

// assignClassIDs gives every instantiated class a contiguous id, walking
// classes in reverse (subclasses before superclasses) so each class's
// end id can be derived from the highest id any of its subclasses
// received. Returns the number of instantiated classes.
//
// Ported directly from DispatchTableBuilder::assign_class_ids: classes
// with no subclass get a singleton [id, id+1) range; instantiated
// classes with subclasses extend that range upward as their subclasses
// are visited; uninstantiated classes get a start id borrowed from their
// first instantiated descendant (so a selector row spanning them still
// has somewhere concrete to begin) and their own id from the
// uninstantiated id space, which runs downward from the top of the
// whole id space.
func assignClassIDs(classes []*ir.Class) int {
	instantiatedCount := 0
	for _, c := range classes {
		if c.IsInstantiated {
			instantiatedCount++
		}
	}

	id := instantiatedCount - 1
	uninstantiatedID := len(classes) - 1
	for i := len(classes) - 1; i >= 0; i-- {
		class := classes[i]
		switch {
		case !class.HasEndID():
			fail.Assertf(class.IsInstantiated, "dispatchtable.assignClassIDs: uninstantiated leaf class %s was not tree-shaken", class.Name)
			class.SetID(id)
			class.SetStartID(id)
			class.SetEndID(id + 1)
			id--
		case class.IsInstantiated:
			class.SetID(id)
			class.SetStartID(id)
			id--
		default:
			class.SetID(uninstantiatedID)
			uninstantiatedID--
			j := i
			for !classes[j].IsInstantiated {
				j++
			}
			class.SetStartID(classes[j].StartID)
		}
		if class.Super != nil && !class.Super.HasEndID() {
			class.Super.SetEndID(class.EndID)
		}
	}
	return instantiatedCount
}

// selectorRow collects every (holder, member) pair implementing one
// selector and fills a window of a table with them.
type selectorRow struct {
	selector shape.DispatchSelector
	holders  []*ir.Class
	members  []*ir.Method
	begin    int
	end      int
}

func newSelectorRow(selector shape.DispatchSelector) *selectorRow {
	return &selectorRow{selector: selector, begin: -1, end: -1}
}

func (r *selectorRow) size() int { return r.end - r.begin }

func (r *selectorRow) define(holder *ir.Class, member *ir.Method) {
	fail.Assertf(holder == member.Holder, "selectorRow.define: holder/method mismatch")
	r.holders = append(r.holders, holder)
	r.members = append(r.members, member)
}

func (r *selectorRow) finalize() {
	fail.Assertf(r.begin == -1 && r.end == -1, "selectorRow.finalize: called twice")
	first := r.holders[0]
	r.begin, r.end = first.StartID, first.EndID
	for i := 1; i < len(r.holders); i++ {
		holder := r.holders[i]
		if holder.StartID < r.begin {
			r.begin = holder.StartID
		}
		if holder.EndID > r.end {
			r.end = holder.EndID
		}
	}
}

// fill places each (holder, member) pair into table[offset+holder.StartID
// : offset+holder.EndID), relying on r.holders already being ordered most-
// specialized first: an overriding subclass's range is filled before its
// superclass's wider range reaches the same slots, so the superclass's
// fill only needs to skip what's already there.
func (r *selectorRow) fill(table *[]*ir.Method, offset int) {
	fail.Assertf(sortedSpecializedFirst(r.holders), "selectorRow.fill: holders not sorted specialized-first")
	var skipStack []int
	for i, holder := range r.holders {
		member := r.members[i]
		start := offset + holder.StartID
		end := offset + holder.EndID
		id := start
		for id < end {
			if (*table)[id] == nil {
				(*table)[id] = member
				id++
			} else {
				fail.Assertf(len(skipStack) > 0, "selectorRow.fill: skip stack empty with an occupied slot")
				id = skipStack[len(skipStack)-1]
				skipStack = skipStack[:len(skipStack)-1]
			}
		}
		skipStack = append(skipStack, end)
	}
}

func sortedSpecializedFirst(holders []*ir.Class) bool {
	for i := 1; i < len(holders); i++ {
		if holders[i-1].StartID < holders[i].StartID {
			return false
		}
		if holders[i-1].StartID == holders[i].StartID && holders[i-1].EndID > holders[i].EndID {
			return false
		}
	}
	return true
}

// equalsOperatorShape is the plain shape every `==` operator method has:
// one implicit receiver plus one explicit argument, no blocks, no names.
var equalsOperatorShape = shape.CallShape{Arity: 1}.WithImplicitThis().ToPlainShape()

// compareRows orders rows for packing: the `==` operator row always
// sorts last (every instantiated class defines `==`, so its row never
// needs trailing null padding), then by decreasing size and, among
// equal sizes, decreasing begin — empirically the ordering that leaves
// the fewest holes and the cheapest offset search.
func compareRows(rows []*selectorRow) {
	isEquals := func(r *selectorRow) bool {
		return r.selector.Name == "==" && r.selector.Shape.Equal(equalsOperatorShape.CallShape)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		aEq, bEq := isEquals(a), isEquals(b)
		if aEq != bEq {
			return bEq // a before b iff b is the == row (a sorts first, i.e. not last)
		}
		if a.size() != b.size() {
			return a.size() > b.size()
		}
		return a.begin > b.begin
	})
}

// rowFitter packs selector rows into one flat slot array via row
// displacement: each row is assigned an offset such that
// table[offset+begin : offset+end) doesn't collide with any
// previously-placed row, reusing holes left behind by earlier rows
// before growing the table.
type rowFitter struct {
	rows        map[string]*selectorRow
	usedOffsets map[int]bool
	limit       int
	holes       *holeHeap
}

func newRowFitter() *rowFitter {
	return &rowFitter{
		rows:        map[string]*selectorRow{},
		usedOffsets: map[int]bool{},
		holes:       &holeHeap{},
	}
}

func (f *rowFitter) define(selector shape.DispatchSelector, holder *ir.Class, member *ir.Method) {
	row, ok := f.rows[selector.Key()]
	if !ok {
		row = newSelectorRow(selector)
		f.rows[selector.Key()] = row
	}
	row.define(holder, member)
}

func (f *rowFitter) sortedRows() []*selectorRow {
	rows := make([]*selectorRow, 0, len(f.rows))
	for _, row := range f.rows {
		row.finalize()
		rows = append(rows, row)
	}
	compareRows(rows)
	return rows
}

type hole struct {
	size int
	at   int
}

// holeHeap is a max-heap on hole.size, the direct analogue of the
// original's std::push_heap/pop_heap pair over a size-ordered vector.
type holeHeap []hole

func (h holeHeap) Len() int            { return len(h) }
func (h holeHeap) Less(i, j int) bool  { return h[i].size > h[j].size }
func (h holeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *holeHeap) Push(x any)         { *h = append(*h, x.(hole)) }
func (h *holeHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

func (f *rowFitter) insertHole(h hole) { heap.Push(f.holes, h) }

// popHoleOfSize pops and returns the largest hole if it is at least
// size, otherwise leaves the heap untouched and reports no hole.
func (f *rowFitter) popHoleOfSize(size int) (hole, bool) {
	if f.holes.Len() > 0 && (*f.holes)[0].size >= size {
		h := heap.Pop(f.holes).(hole)
		return h, true
	}
	return hole{}, false
}

// fitAndFill finds an offset for row that doesn't collide with any
// already-placed row, grows table if needed, fills row's window, and
// records any new holes the fill left behind.
func (f *rowFitter) fitAndFill(table *[]*ir.Method, row *selectorRow) int {
	rowSize := row.size()
	var offset, start int
	var unusedHoles []hole
	for {
		h, found := f.popHoleOfSize(rowSize)
		inHole := found
		if inHole {
			start = h.at
		} else {
			start = len(*table)
		}
		offset = start - row.begin

		if inHole && (offset < 0 || f.usedOffsets[offset]) {
			unusedHoles = append(unusedHoles, h)
			continue
		}

		if inHole && h.size > rowSize {
			f.insertHole(hole{size: h.size - rowSize, at: h.at + rowSize})
		}

		if offset < 0 {
			fail.Assertf(!inHole, "rowFitter.fitAndFill: negative offset while in a hole")
			start += -offset
			offset = 0
		}

		originalOffset := offset
		for f.usedOffsets[offset] {
			fail.Assertf(!inHole, "rowFitter.fitAndFill: offset collision while in a hole")
			start++
			offset++
		}
		if offset != originalOffset {
			holeSize := offset - originalOffset
			f.insertHole(hole{size: holeSize, at: start - holeSize})
		}
		break
	}
	for _, h := range unusedHoles {
		f.insertHole(h)
	}
	f.usedOffsets[offset] = true

	if offset > f.limit {
		f.limit = offset
	}

	if len(*table) < offset+row.end {
		grown := make([]*ir.Method, offset+row.end)
		copy(grown, *table)
		*table = grown
	}

	row.fill(table, offset)
	fail.Assertf((*table)[offset+row.end-1] != nil, "rowFitter.fitAndFill: row's last slot left empty")
	for i := offset + row.begin; i < offset+row.end; i++ {
		if (*table)[i] == nil {
			holeBegin := i
			for (*table)[i] == nil {
				i++
			}
			f.insertHole(hole{size: i - holeBegin, at: holeBegin})
		}
	}
	return offset
}

// popAllHoles drains every remaining hole and returns the total slack
// left in the table, the count of slots static methods can still be
// dropped into before the table needs to grow further.
func (f *rowFitter) popAllHoles() int {
	result := 0
	for f.holes.Len() > 0 {
		h, _ := f.popHoleOfSize(1)
		result += h.size
	}
	return result
}
