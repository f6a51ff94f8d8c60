package analysis

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/simt/ir"
	"github.com/gomlx/simt/types"
	"github.com/gomlx/simt/types/xslices"
)

// TopologicalSort returns the given operations reordered so that every operation
// appears after the operations defining its operands, considering only dependencies
// between members of ops. The result is a permutation of ops and deterministic:
// ties are resolved by the original input order, so two runs over the same input
// yield the same sequence.
//
// The traversal is a depth-first search with an explicit work stack and a visited
// set that persists across roots, so an operation shared by many roots is ordered
// exactly once. A dependency cycle means a broken invariant in whatever built the
// operations and panics.
func TopologicalSort(ops []*ir.Op) []*ir.Op {
	inSet := types.MakeSet[*ir.Op](len(ops))
	for _, op := range ops {
		inSet.Insert(op)
	}

	sorted := make([]*ir.Op, 0, len(ops))
	visited := types.MakeSet[*ir.Op](len(ops))
	onPath := types.MakeSet[*ir.Op]()
	type frame struct {
		op   *ir.Op
		next int // Next operand index to examine.
	}
	var stack []frame

	for _, root := range ops {
		if visited.Has(root) {
			continue
		}
		visited.Insert(root)
		onPath.Insert(root)
		stack = append(stack, frame{op: root})
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			descended := false
			for inputs := f.op.Inputs(); f.next < len(inputs); {
				def := inputs[f.next].Def()
				f.next++
				if def == nil || !inSet.Has(def) {
					continue
				}
				if onPath.Has(def) {
					if def == f.op {
						exceptions.Panicf("cycle detected while ordering operations: %s consumes its own output", f.op)
					}
					exceptions.Panicf("cycle detected while ordering operations: %s and %s depend on each other",
						f.op, def)
				}
				if visited.Has(def) {
					continue
				}
				visited.Insert(def)
				onPath.Insert(def)
				stack = append(stack, frame{op: def})
				descended = true
				break
			}
			if descended {
				continue
			}
			// All dependencies ordered: emit and backtrack.
			sorted = append(sorted, f.op)
			onPath.Delete(f.op)
			_, stack = xslices.Pop(stack)
		}
	}
	return sorted
}

// SliceFilter decides whether the transitive closure computed by Slice includes an
// operation. Excluding an operation also stops the traversal through it.
type SliceFilter func(*ir.Op) bool

// Slice returns the transitive closure of op over operand edges (admitted by
// backward) and use edges (admitted by forward), topologically sorted. A nil filter
// admits every operation in its direction. Every operation added to the closure is
// itself expanded in both directions, to a fixpoint, so the unfiltered slice is the
// whole weakly-connected component of op.
func Slice(op *ir.Op, backward, forward SliceFilter) []*ir.Op {
	if op == nil {
		exceptions.Panicf("Slice: nil operation")
	}
	slice := []*ir.Op{op}
	inSlice := types.SetWith(op)
	for idx := 0; idx < len(slice); idx++ {
		expand(slice[idx], backward, operandDefs, &slice, inSlice)
		expand(slice[idx], forward, userOps, &slice, inSlice)
	}
	return TopologicalSort(slice)
}

// expand adds to slice the transitive closure of next-edges from start (exclusive)
// admitted by the filter.
func expand(start *ir.Op, admit SliceFilter, next func(*ir.Op) []*ir.Op, slice *[]*ir.Op, inSlice types.Set[*ir.Op]) {
	stack := []*ir.Op{start}
	for len(stack) > 0 {
		var current *ir.Op
		current, stack = xslices.Pop(stack)
		for _, op := range next(current) {
			if inSlice.Has(op) {
				continue
			}
			if admit != nil && !admit(op) {
				continue
			}
			inSlice.Insert(op)
			*slice = append(*slice, op)
			stack = append(stack, op)
		}
	}
}

// operandDefs returns the operations defining op's operands, in operand order.
func operandDefs(op *ir.Op) []*ir.Op {
	defs := make([]*ir.Op, 0, len(op.Inputs()))
	for _, input := range op.Inputs() {
		if def := input.Def(); def != nil {
			defs = append(defs, def)
		}
	}
	return defs
}

// userOps returns the operations consuming op's outputs, in output then use order.
func userOps(op *ir.Op) []*ir.Op {
	var users []*ir.Op
	for _, output := range op.Outputs() {
		users = append(users, output.Uses()...)
	}
	return users
}
