// Package analysis derives execution plans from tile programs: how a reduction
// executes across the lane/warp/block grid (ReducePlan), dependency orderings and
// transitive slices of operations (TopologicalSort, Slice), and an interprocedural
// call graph with per-function payloads (CallGraph).
//
// Everything here is synchronous and single-threaded: a plan or a traversal runs to
// completion within one call, and no state is shared between calls. Inconsistencies
// in otherwise well-formed programs (mismatched reduction operands, unsupported
// layouts) are reported as errors or gate predicates; structural violations that
// mark a bug in an earlier pass (dependency or call cycles) panic.
package analysis

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/gomlx/simt/ir"
	"github.com/gomlx/simt/types/layouts"
	"github.com/gomlx/simt/types/xmath"
	"github.com/gomlx/simt/types/xslices"
)

// ReducePlan decides how one reduction operation executes across the execution
// grid: whether the reduced axis collapses through cheap intra-warp exchange (the
// fast path) or through shared-memory staging, how many lanes and warps cover the
// axis, and the shape and byte size of the scratch buffers the chosen path needs.
//
// A plan is built fresh per operation by NewReducePlan, is immutable afterward, and
// is never cached across operations. All derived quantities use integer arithmetic
// only; the product of an empty extent sequence is 1, so scalar-shaped scratch
// configurations are well-defined.
type ReducePlan struct {
	op           *ir.Op
	axis         int
	srcDims      []int
	srcLayout    layouts.Layout
	elementTypes []dtypes.DType
	numWarps     int
	lanesPerWarp int
}

// NewReducePlan validates a reduction operation's inputs and captures the state the
// plan derives from. Every input must have the first input's dimensions and layout;
// a mismatch is returned as a diagnostic error attributed to the operation, and no
// plan is produced. Calling it with anything but a Reduce operation panics.
func NewReducePlan(op *ir.Op) (*ReducePlan, error) {
	if op == nil {
		exceptions.Panicf("NewReducePlan: nil operation")
	}
	if op.Type() != ir.OpTypeReduce {
		exceptions.Panicf("NewReducePlan: %s is not a Reduce operation", op)
	}
	inputs := op.Inputs()
	if len(inputs) == 0 {
		exceptions.Panicf("NewReducePlan: %s has no inputs", op)
	}

	first := inputs[0]
	srcShape := first.Shape()
	srcLayout := first.Layout()
	for ii, input := range inputs[1:] {
		if !input.Shape().EqualDimensions(srcShape) {
			return nil, op.Errorf("shape mismatch: input #%d has dimensions %v, input #0 has %v",
				ii+1, input.Shape().Dimensions, srcShape.Dimensions)
		}
		if !input.Layout().Equal(srcLayout) {
			return nil, op.Errorf("layout mismatch: input #%d has %s, input #0 has %s",
				ii+1, input.Layout(), srcLayout)
		}
	}
	if op.Axis() >= srcShape.Rank() {
		return nil, op.Errorf("reduction axis %d out of range for rank %d", op.Axis(), srcShape.Rank())
	}

	module := op.Func().Module()
	plan := &ReducePlan{
		op:           op,
		axis:         op.Axis(),
		srcDims:      srcShape.Dimensions,
		srcLayout:    srcLayout,
		elementTypes: xslices.Map(inputs, func(v *ir.Value) dtypes.DType { return v.Shape().DType }),
		numWarps:     module.NumWarps(),
		lanesPerWarp: module.LanesPerWarp(),
	}
	klog.V(2).Infof("planned reduction %s: %s", op, plan)
	return plan, nil
}

// Axis returns the reduced axis.
func (p *ReducePlan) Axis() int { return p.axis }

// SourceDims returns the dimensions shared by all inputs. Owned by the plan; don't
// modify.
func (p *ReducePlan) SourceDims() []int { return p.srcDims }

// SourceLayout returns the layout shared by all inputs.
func (p *ReducePlan) SourceLayout() layouts.Layout { return p.srcLayout }

// ElementTypes returns the element type of each input, in input order.
func (p *ReducePlan) ElementTypes() []dtypes.DType { return p.elementTypes }

// IsFastReduction returns whether the reduced axis is the fastest-varying lane axis
// of the source layout, so the axis collapses through intra-warp exchange without a
// shared-memory round trip per element.
func (p *ReducePlan) IsFastReduction() bool {
	return p.srcLayout.Order()[0] == p.axis
}

// IntraWarpSize returns how many lanes of one warp cover the reduced axis.
func (p *ReducePlan) IntraWarpSize() int {
	return min(p.srcDims[p.axis], p.srcLayout.LanesPerWarp()[p.axis])
}

// InterWarpSize returns how many warps of one block cover the reduced axis.
func (p *ReducePlan) InterWarpSize() int {
	return min(p.srcDims[p.axis]/p.IntraWarpSize(), p.srcLayout.WarpsPerBlock()[p.axis])
}

// IntraWarpSizeWithUniqueData is IntraWarpSize counting only lanes that hold
// distinct data: a layout may partition the axis more finely than the tensor has
// elements, and the replicated surplus must not be counted.
func (p *ReducePlan) IntraWarpSizeWithUniqueData() int {
	return min(p.srcDims[p.axis], p.srcLayout.UniqueLanesPerWarp(p.srcDims)[p.axis])
}

// InterWarpSizeWithUniqueData is InterWarpSize counting only warps that hold
// distinct data.
func (p *ReducePlan) InterWarpSizeWithUniqueData() int {
	return min(p.srcDims[p.axis]/p.IntraWarpSizeWithUniqueData(),
		p.srcLayout.UniqueWarpsPerBlock(p.srcDims)[p.axis])
}

// ThreadsAlongReductionAxis returns the total lanes covering the reduced axis. It
// always equals InterWarpSize() * IntraWarpSize().
func (p *ReducePlan) ThreadsAlongReductionAxis() int {
	return p.InterWarpSize() * p.IntraWarpSize()
}

// ScratchConfigBasic returns the staging buffer shape of the non-fast path: the
// source dimensions with the reduced axis clamped to one partial result per lane
// covering it.
func (p *ReducePlan) ScratchConfigBasic() []int {
	config := slices.Clone(p.srcDims)
	config[p.axis] = min(config[p.axis], p.ThreadsAlongReductionAxis())
	return config
}

// ScratchConfigsFast returns the staging buffer shapes of the fast path. Intra-warp
// exchange leaves one partial per covering warp: when a single warp covers the axis
// the result is final and a lone scalar-shaped configuration (empty extents, one
// element) keeps the cross-warp codegen uniform; otherwise a first buffer holds the
// per-warp partials and a second, linear buffer carries the cross-warp combine over
// the whole block.
func (p *ReducePlan) ScratchConfigsFast() [][]int {
	interWarpSize := p.InterWarpSize()
	if interWarpSize == 1 {
		return [][]int{{}}
	}
	stage := slices.Clone(p.srcDims)
	stage[p.axis] = interWarpSize
	return [][]int{stage, {p.numWarps * p.lanesPerWarp}}
}

// ScratchConfigs returns the staging buffer shapes of the path the plan selects.
func (p *ReducePlan) ScratchConfigs() [][]int {
	if p.IsFastReduction() {
		return p.ScratchConfigsFast()
	}
	return [][]int{p.ScratchConfigBasic()}
}

// ScratchSizeInBytes returns the total scratch memory the plan requests: the sum
// over all scratch configurations of their element count, times the widest input
// element width. A scalar-shaped configuration counts one element.
func (p *ReducePlan) ScratchSizeInBytes() int {
	elems := 0
	for _, config := range p.ScratchConfigs() {
		elems += xmath.Product(config)
	}
	widest := 0
	for _, dtype := range p.elementTypes {
		widest = max(widest, dtype.Size())
	}
	return elems * widest
}

// IsSupportedLayout returns whether the planner has a strategy for the source
// layout: Blocked always, TensorCore only version 2, Sliced when its parent is
// supported. It returns false rather than erroring, so the caller can fall back.
func (p *ReducePlan) IsSupportedLayout() bool {
	return isSupportedLayout(p.srcLayout)
}

func isSupportedLayout(l layouts.Layout) bool {
	switch l := l.(type) {
	case layouts.Blocked:
		return true
	case layouts.TensorCore:
		return l.Version == 2
	case layouts.Sliced:
		return isSupportedLayout(l.Parent)
	}
	return false
}

// String implements fmt.Stringer.
func (p *ReducePlan) String() string {
	if !p.IsSupportedLayout() {
		return fmt.Sprintf("ReducePlan{unsupported layout %s}", p.srcLayout)
	}
	path := "staged"
	if p.IsFastReduction() {
		path = "fast"
	}
	return fmt.Sprintf("ReducePlan{%s, axis=%d, warps x lanes = %d x %d, scratch %s}",
		path, p.axis, p.InterWarpSize(), p.IntraWarpSize(),
		humanize.Bytes(uint64(p.ScratchSizeInBytes())))
}
