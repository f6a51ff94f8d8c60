// Package layouts describes how the elements of a tensor tile are distributed over a
// hierarchical SIMD execution grid.
//
// The grid has three levels: lanes (the smallest unit of parallel execution), grouped
// into warps that execute in lockstep (intra-warp exchange is cheap and needs no
// shared memory), grouped in turn into blocks. A Layout answers, per tensor axis, how
// many lanes of one warp and how many warps of one block partition that axis, and
// along which axis consecutive lanes vary fastest.
//
// A layout may partition an axis more finely than the tensor has data, in which case
// the surplus lanes (or warps) hold replicated copies of the same elements. The
// UniqueLanesPerWarp and UniqueWarpsPerBlock queries report partition extents with
// that replication divided out; reduction planning counts only uniquely held data.
//
// Three implementations are provided: Blocked, the general register tiling; TensorCore,
// the fixed accumulator tiling of the matrix-multiply units; and Sliced, the
// rank-reduced view left behind by a reduction along one axis.
package layouts

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/simt/types/xmath"
)

// Layout describes the distribution of a tensor tile over lanes, warps and blocks.
//
// Implementations are small immutable values; treat every slice returned by a query
// as read-only. Equal compares layout values structurally, and two values must be
// Equal for tensors to be combined element-wise without data movement.
type Layout interface {
	// Rank returns the number of tensor axes the layout distributes.
	Rank() int

	// Order returns the axis precedence, fastest-varying first: consecutive lanes of
	// a warp hold consecutive elements along Order()[0].
	Order() []int

	// LanesPerWarp returns, per axis, how many lanes of one warp partition the axis.
	LanesPerWarp() []int

	// WarpsPerBlock returns, per axis, how many warps of one block partition the axis.
	WarpsPerBlock() []int

	// UniqueLanesPerWarp returns LanesPerWarp clamped, per axis, to the number of
	// lanes that hold distinct data for a tensor of the given dimensions.
	UniqueLanesPerWarp(dims []int) []int

	// UniqueWarpsPerBlock returns WarpsPerBlock clamped, per axis, to the number of
	// warps that hold distinct data for a tensor of the given dimensions.
	UniqueWarpsPerBlock(dims []int) []int

	// Equal reports whether other describes the same distribution.
	Equal(other Layout) bool

	// String returns a compact, human-readable description.
	String() string
}

// AxisIsReplicated returns whether the layout assigns the same elements of the given
// axis to more than one lane (or warp), for a tensor of the given dimensions. A
// replicated axis reports a smaller unique extent than its raw partition extent.
func AxisIsReplicated(l Layout, dims []int, axis int) bool {
	return l.UniqueLanesPerWarp(dims)[axis] < l.LanesPerWarp()[axis] ||
		l.UniqueWarpsPerBlock(dims)[axis] < l.WarpsPerBlock()[axis]
}

// uniqueExtents clamps each partition extent to the number of partitions that hold
// distinct data: an axis of dims[axis] elements where each partition already covers
// covered[axis] contiguous elements has at most ceil(dims/covered) distinct holders.
func uniqueExtents(extents, covered, dims []int) []int {
	unique := make([]int, len(extents))
	for axis := range extents {
		unique[axis] = min(extents[axis], xmath.CeilDiv(dims[axis], covered[axis]))
	}
	return unique
}

func assertDims(l Layout, dims []int) {
	if len(dims) != l.Rank() {
		exceptions.Panicf("layout %s queried with %d dimensions, want %d", l, len(dims), l.Rank())
	}
}

// Blocked is the general register tiling: each lane holds a small contiguous patch of
// EltsPerLane elements per axis, lanes of a warp tile the patches LanesPerWarpDims
// times per axis, and warps of a block tile those WarpsPerBlockDims times per axis.
// Create it with NewBlocked and treat it as immutable afterward.
type Blocked struct {
	// EltsPerLane is the number of contiguous elements each lane holds, per axis.
	EltsPerLane []int
	// LanesPerWarpDims is the number of lanes of one warp along each axis.
	LanesPerWarpDims []int
	// WarpsPerBlockDims is the number of warps of one block along each axis.
	WarpsPerBlockDims []int
	// AxisOrder lists the axes fastest-varying first at the lane level.
	AxisOrder []int
}

// NewBlocked creates a Blocked layout. All four slices must have one entry per axis,
// extents must be >= 1 and order must be a permutation of the axes. It panics on
// malformed input, which is always a programming error in the caller.
func NewBlocked(eltsPerLane, lanesPerWarp, warpsPerBlock, order []int) Blocked {
	rank := len(eltsPerLane)
	if rank == 0 {
		exceptions.Panicf("NewBlocked: a blocked layout requires at least one axis")
	}
	if len(lanesPerWarp) != rank || len(warpsPerBlock) != rank || len(order) != rank {
		exceptions.Panicf("NewBlocked: mismatched ranks: elts=%d, lanes=%d, warps=%d, order=%d",
			rank, len(lanesPerWarp), len(warpsPerBlock), len(order))
	}
	for axis := range eltsPerLane {
		if eltsPerLane[axis] < 1 || lanesPerWarp[axis] < 1 || warpsPerBlock[axis] < 1 {
			exceptions.Panicf("NewBlocked: axis %d has non-positive extent (elts=%d, lanes=%d, warps=%d)",
				axis, eltsPerLane[axis], lanesPerWarp[axis], warpsPerBlock[axis])
		}
	}
	seen := make([]bool, rank)
	for _, axis := range order {
		if axis < 0 || axis >= rank || seen[axis] {
			exceptions.Panicf("NewBlocked: order %v is not a permutation of the %d axes", order, rank)
		}
		seen[axis] = true
	}
	return Blocked{
		EltsPerLane:       slices.Clone(eltsPerLane),
		LanesPerWarpDims:  slices.Clone(lanesPerWarp),
		WarpsPerBlockDims: slices.Clone(warpsPerBlock),
		AxisOrder:         slices.Clone(order),
	}
}

// Rank returns the number of axes.
func (l Blocked) Rank() int { return len(l.EltsPerLane) }

// Order returns the axis precedence, fastest-varying first.
func (l Blocked) Order() []int { return l.AxisOrder }

// LanesPerWarp returns the per-axis lane partition extents.
func (l Blocked) LanesPerWarp() []int { return l.LanesPerWarpDims }

// WarpsPerBlock returns the per-axis warp partition extents.
func (l Blocked) WarpsPerBlock() []int { return l.WarpsPerBlockDims }

// UniqueLanesPerWarp returns the per-axis count of lanes holding distinct data for a
// tensor of the given dimensions.
func (l Blocked) UniqueLanesPerWarp(dims []int) []int {
	assertDims(l, dims)
	return uniqueExtents(l.LanesPerWarpDims, l.EltsPerLane, dims)
}

// UniqueWarpsPerBlock returns the per-axis count of warps holding distinct data for a
// tensor of the given dimensions.
func (l Blocked) UniqueWarpsPerBlock(dims []int) []int {
	assertDims(l, dims)
	covered := make([]int, l.Rank())
	for axis := range covered {
		covered[axis] = l.EltsPerLane[axis] * l.LanesPerWarpDims[axis]
	}
	return uniqueExtents(l.WarpsPerBlockDims, covered, dims)
}

// Equal reports whether other is a Blocked layout with the same extents and order.
func (l Blocked) Equal(other Layout) bool {
	o, ok := other.(Blocked)
	if !ok {
		return false
	}
	return slices.Equal(l.EltsPerLane, o.EltsPerLane) &&
		slices.Equal(l.LanesPerWarpDims, o.LanesPerWarpDims) &&
		slices.Equal(l.WarpsPerBlockDims, o.WarpsPerBlockDims) &&
		slices.Equal(l.AxisOrder, o.AxisOrder)
}

// String implements fmt.Stringer.
func (l Blocked) String() string {
	return fmt.Sprintf("Blocked{elts=%v, lanes=%v, warps=%v, order=%v}",
		l.EltsPerLane, l.LanesPerWarpDims, l.WarpsPerBlockDims, l.AxisOrder)
}

// Version 2 tensor cores distribute the 32 lanes of a warp as an 8x4 grid over a
// 2-dimensional accumulator tile, each lane holding a 2x2 patch, minor axis fastest.
var (
	tensorCoreLanes = []int{8, 4}
	tensorCoreElts  = []int{2, 2}
	tensorCoreOrder = []int{1, 0}
)

// TensorCore is the accumulator tiling produced by the matrix-multiply units. It is
// always 2-dimensional. Only Version 2 has its lane grid modeled here; other versions
// can be carried through programs and compared, but partition queries on them panic
// and reduction planning gates them out via IsSupportedLayout.
type TensorCore struct {
	// Version selects the tensor-core generation.
	Version int
	// Warps is the number of warps of one block along each of the two axes.
	Warps []int
}

// NewTensorCore creates a TensorCore layout with the given per-axis warp counts.
func NewTensorCore(version int, warps []int) TensorCore {
	if len(warps) != 2 {
		exceptions.Panicf("NewTensorCore: accumulator tiles are 2-dimensional, got %d warp extents", len(warps))
	}
	if warps[0] < 1 || warps[1] < 1 {
		exceptions.Panicf("NewTensorCore: non-positive warp extents %v", warps)
	}
	return TensorCore{Version: version, Warps: slices.Clone(warps)}
}

func (l TensorCore) assertModeled() {
	if l.Version != 2 {
		exceptions.Panicf("tensor-core version %d lane grid is not modeled; gate with IsSupportedLayout before querying", l.Version)
	}
}

// Rank returns 2: accumulator tiles are always 2-dimensional.
func (l TensorCore) Rank() int { return 2 }

// Order returns the axis precedence, minor axis fastest.
func (l TensorCore) Order() []int { return tensorCoreOrder }

// LanesPerWarp returns the fixed lane grid of the accumulator tile.
func (l TensorCore) LanesPerWarp() []int {
	l.assertModeled()
	return tensorCoreLanes
}

// WarpsPerBlock returns the per-axis warp partition extents.
func (l TensorCore) WarpsPerBlock() []int { return l.Warps }

// UniqueLanesPerWarp returns the lane grid clamped to lanes holding distinct data.
func (l TensorCore) UniqueLanesPerWarp(dims []int) []int {
	l.assertModeled()
	assertDims(l, dims)
	return uniqueExtents(tensorCoreLanes, tensorCoreElts, dims)
}

// UniqueWarpsPerBlock returns the warp extents clamped to warps holding distinct data.
func (l TensorCore) UniqueWarpsPerBlock(dims []int) []int {
	l.assertModeled()
	assertDims(l, dims)
	covered := []int{tensorCoreElts[0] * tensorCoreLanes[0], tensorCoreElts[1] * tensorCoreLanes[1]}
	return uniqueExtents(l.Warps, covered, dims)
}

// Equal reports whether other is a TensorCore layout of the same version and warps.
func (l TensorCore) Equal(other Layout) bool {
	o, ok := other.(TensorCore)
	if !ok {
		return false
	}
	return l.Version == o.Version && slices.Equal(l.Warps, o.Warps)
}

// String implements fmt.Stringer.
func (l TensorCore) String() string {
	return fmt.Sprintf("TensorCore{v%d, warps=%v}", l.Version, l.Warps)
}

// Sliced is the layout of a value whose Axis was removed from a parent layout, as a
// reduction along that axis produces. Queries delegate to the parent with the sliced
// axis dropped; the surplus lanes that covered the axis now hold replicated results.
type Sliced struct {
	// Parent is the layout of the value before the axis was removed.
	Parent Layout
	// Axis is the parent axis that was removed.
	Axis int
}

// NewSliced creates the layout of a parent value with one axis reduced away.
func NewSliced(parent Layout, axis int) Sliced {
	if parent == nil {
		exceptions.Panicf("NewSliced: nil parent layout")
	}
	if axis < 0 || axis >= parent.Rank() {
		exceptions.Panicf("NewSliced: axis %d out of range for parent %s", axis, parent)
	}
	return Sliced{Parent: parent, Axis: axis}
}

// Rank returns the parent rank minus the sliced axis.
func (l Sliced) Rank() int { return l.Parent.Rank() - 1 }

// Order returns the parent order with the sliced axis removed and the remaining axes
// renumbered.
func (l Sliced) Order() []int {
	order := make([]int, 0, l.Rank())
	for _, axis := range l.Parent.Order() {
		if axis == l.Axis {
			continue
		}
		if axis > l.Axis {
			axis--
		}
		order = append(order, axis)
	}
	return order
}

// LanesPerWarp returns the parent lane extents with the sliced axis removed.
func (l Sliced) LanesPerWarp() []int {
	return slices.Delete(slices.Clone(l.Parent.LanesPerWarp()), l.Axis, l.Axis+1)
}

// WarpsPerBlock returns the parent warp extents with the sliced axis removed.
func (l Sliced) WarpsPerBlock() []int {
	return slices.Delete(slices.Clone(l.Parent.WarpsPerBlock()), l.Axis, l.Axis+1)
}

// parentDims re-inserts a 1-extent at the sliced axis, recovering dimensions the
// parent layout can be queried with.
func (l Sliced) parentDims(dims []int) []int {
	return slices.Insert(slices.Clone(dims), l.Axis, 1)
}

// UniqueLanesPerWarp returns the parent unique lane extents with the sliced axis
// removed, for a tensor of the given (sliced) dimensions.
func (l Sliced) UniqueLanesPerWarp(dims []int) []int {
	assertDims(l, dims)
	unique := l.Parent.UniqueLanesPerWarp(l.parentDims(dims))
	return slices.Delete(unique, l.Axis, l.Axis+1)
}

// UniqueWarpsPerBlock returns the parent unique warp extents with the sliced axis
// removed, for a tensor of the given (sliced) dimensions.
func (l Sliced) UniqueWarpsPerBlock(dims []int) []int {
	assertDims(l, dims)
	unique := l.Parent.UniqueWarpsPerBlock(l.parentDims(dims))
	return slices.Delete(unique, l.Axis, l.Axis+1)
}

// Equal reports whether other slices the same axis off an equal parent layout.
func (l Sliced) Equal(other Layout) bool {
	o, ok := other.(Sliced)
	if !ok {
		return false
	}
	return l.Axis == o.Axis && l.Parent.Equal(o.Parent)
}

// String implements fmt.Stringer.
func (l Sliced) String() string {
	return fmt.Sprintf("Sliced{axis=%d, parent=%s}", l.Axis, l.Parent)
}
