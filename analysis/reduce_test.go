package analysis

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/simt/ir"
	"github.com/gomlx/simt/types/layouts"
	"github.com/gomlx/simt/types/shapes"
)

// planFor builds a single-function module with one reduction over loads of the given
// types and returns its plan, which must build cleanly.
func planFor(t *testing.T, axis int, inputTypes ...ir.TensorType) *ReducePlan {
	t.Helper()
	m := ir.NewModule("test")
	f := m.NewFunc("main")
	inputs := make([]*ir.Value, len(inputTypes))
	for ii, typ := range inputTypes {
		inputs[ii] = f.AddLoad(typ)
	}
	return must.M1(NewReducePlan(f.AddReduce(ir.ReduceOpSum, axis, inputs...)))
}

func TestReducePlanFastSingleWarp(t *testing.T) {
	// Axis 1 is the fastest lane axis and one warp of 32 lanes covers it.
	plan := planFor(t, 1, rowMajor(8, 128))
	assert.True(t, plan.IsFastReduction())
	assert.True(t, plan.IsSupportedLayout())
	assert.Equal(t, 1, plan.Axis())
	assert.Equal(t, []int{8, 128}, plan.SourceDims())

	assert.Equal(t, 32, plan.IntraWarpSize())
	assert.Equal(t, 1, plan.InterWarpSize())
	assert.Equal(t, 32, plan.ThreadsAlongReductionAxis())
	// A single covering warp means the intra-warp exchange finishes the reduction.
	assert.Equal(t, plan.ThreadsAlongReductionAxis(), plan.IntraWarpSize())

	// One element per lane: every lane holds distinct data.
	assert.Equal(t, 32, plan.IntraWarpSizeWithUniqueData())
	assert.Equal(t, 1, plan.InterWarpSizeWithUniqueData())

	// The lone scratch configuration is scalar shaped: one element.
	assert.Equal(t, [][]int{{}}, plan.ScratchConfigs())
	assert.Equal(t, 4, plan.ScratchSizeInBytes())
	assert.Contains(t, plan.String(), "fast")
}

func TestReducePlanFastMultiWarp(t *testing.T) {
	// Four warps cover axis 1: the fast path still needs a cross-warp stage.
	typ := tileType(dtypes.Float32, []int{8, 256},
		[]int{1, 1}, []int{1, 32}, []int{1, 4}, []int{1, 0})
	plan := planFor(t, 1, typ)
	assert.True(t, plan.IsFastReduction())
	assert.Equal(t, 32, plan.IntraWarpSize())
	assert.Equal(t, 4, plan.InterWarpSize())
	assert.Equal(t, 128, plan.ThreadsAlongReductionAxis())
	assert.Equal(t, plan.InterWarpSize()*plan.IntraWarpSize(), plan.ThreadsAlongReductionAxis())

	// One per-warp partial per remaining element, plus the block-wide combine buffer
	// (4 warps x 32 lanes from the module grid defaults).
	assert.Equal(t, [][]int{{8, 4}, {128}}, plan.ScratchConfigsFast())
	assert.Equal(t, (8*4+128)*4, plan.ScratchSizeInBytes())
}

func TestReducePlanStaged(t *testing.T) {
	// Axis 0 is the slow axis: shared-memory staging, no warp exchange.
	plan := planFor(t, 0, rowMajor(8, 128))
	assert.False(t, plan.IsFastReduction())
	assert.Equal(t, 1, plan.IntraWarpSize())
	assert.Equal(t, 4, plan.InterWarpSize())
	assert.Equal(t, 4, plan.ThreadsAlongReductionAxis())
	assert.Equal(t, plan.InterWarpSize()*plan.IntraWarpSize(), plan.ThreadsAlongReductionAxis())

	// One partial per covering lane across the non-reduced extent.
	assert.Equal(t, []int{4, 128}, plan.ScratchConfigBasic())
	assert.Equal(t, [][]int{{4, 128}}, plan.ScratchConfigs())
	assert.Equal(t, 4*128*4, plan.ScratchSizeInBytes())
	assert.Contains(t, plan.String(), "staged")
}

func TestReducePlanUniqueData(t *testing.T) {
	// Two elements per lane over a 16-wide axis: 32 lanes but only 8 hold distinct
	// data, and every warp past the first replicates the whole axis.
	typ := tileType(dtypes.Float32, []int{4, 16},
		[]int{1, 2}, []int{1, 32}, []int{1, 4}, []int{1, 0})
	plan := planFor(t, 1, typ)
	assert.Equal(t, 16, plan.IntraWarpSize())
	assert.Equal(t, 8, plan.IntraWarpSizeWithUniqueData())
	assert.Equal(t, 1, plan.InterWarpSize())
	assert.Equal(t, 1, plan.InterWarpSizeWithUniqueData())
	assert.True(t, layouts.AxisIsReplicated(plan.SourceLayout(), plan.SourceDims(), 1))
}

func TestReducePlanWidestElement(t *testing.T) {
	// Mixed element widths (e.g. values and indices): scratch sizing takes the widest.
	f64 := tileType(dtypes.Float64, []int{8, 128},
		[]int{1, 1}, []int{1, 32}, []int{4, 1}, []int{1, 0})
	i32 := tileType(dtypes.Int32, []int{8, 128},
		[]int{1, 1}, []int{1, 32}, []int{4, 1}, []int{1, 0})
	plan := planFor(t, 1, f64, i32)
	assert.Equal(t, []dtypes.DType{dtypes.Float64, dtypes.Int32}, plan.ElementTypes())
	assert.Equal(t, [][]int{{}}, plan.ScratchConfigs())
	assert.Equal(t, 8, plan.ScratchSizeInBytes(), "scalar config contributes one widest element")
}

func TestReducePlanShapeMismatch(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("main")
	a := f.AddLoad(rowMajor(4, 8))
	b := f.AddLoad(rowMajor(4, 16))
	shapes.AssertDims(a, 4, 8)
	shapes.AssertDims(b, 4, 16)
	op := f.AddReduce(ir.ReduceOpSum, 0, a, b).WithLoc(ir.Loc{File: "softmax.tile", Line: 3, Col: 1})

	plan, err := NewReducePlan(op)
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.Contains(t, err.Error(), "shape mismatch")
	assert.Contains(t, err.Error(), "softmax.tile:3:1", "diagnostic carries the op provenance")
}

func TestReducePlanLayoutMismatch(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("main")
	a := f.AddLoad(rowMajor(4, 8))
	colMajor := tileType(dtypes.Float32, []int{4, 8},
		[]int{1, 1}, []int{32, 1}, []int{1, 4}, []int{0, 1})
	b := f.AddLoad(colMajor)

	plan, err := NewReducePlan(f.AddReduce(ir.ReduceOpSum, 0, a, b))
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.Contains(t, err.Error(), "layout mismatch")
}

func TestReducePlanAxisOutOfRange(t *testing.T) {
	// The builder validates axes, so an out-of-range axis only reaches the planner
	// through a later rewrite.
	m := ir.NewModule("test")
	f := m.NewFunc("main")
	mat := f.AddLoad(rowMajor(4, 8))
	vec := f.AddLoad(rowMajor(4))
	shapes.AssertRank(vec, 1)
	op := f.AddReduce(ir.ReduceOpSum, 1, mat)
	op.ReplaceInput(0, vec)

	plan, err := NewReducePlan(op)
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.Contains(t, err.Error(), "axis 1 out of range for rank 1")
}

func TestReducePlanSupportedLayouts(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("main")

	// TensorCore version 2 has its lane grid modeled; version 1 gates out, without
	// erroring, so the caller can fall back.
	v2 := f.AddLoad(ir.TensorType{
		Shape:  shapes.Make(dtypes.Float32, 16, 8),
		Layout: layouts.NewTensorCore(2, []int{2, 2}),
	})
	plan := must.M1(NewReducePlan(f.AddReduce(ir.ReduceOpMax, 0, v2)))
	assert.True(t, plan.IsSupportedLayout())
	assert.False(t, plan.IsFastReduction())
	assert.Equal(t, 8, plan.IntraWarpSize())
	assert.Equal(t, 2, plan.InterWarpSize())
	assert.Equal(t, [][]int{{16, 8}}, plan.ScratchConfigs())

	v1 := f.AddLoad(ir.TensorType{
		Shape:  shapes.Make(dtypes.Float32, 16, 8),
		Layout: layouts.NewTensorCore(1, []int{2, 2}),
	})
	plan = must.M1(NewReducePlan(f.AddReduce(ir.ReduceOpMax, 0, v1)))
	assert.False(t, plan.IsSupportedLayout())
	assert.Contains(t, plan.String(), "unsupported")

	// A sliced layout is supported whenever its parent is: reduce of a reduce.
	x := f.AddLoad(rowMajor(4, 8))
	first := f.AddReduce(ir.ReduceOpSum, 1, x)
	shapes.AssertDims(first.Outputs()[0], 4)
	second := f.AddReduce(ir.ReduceOpSum, 0, first.Outputs()[0])
	plan = must.M1(NewReducePlan(second))
	assert.True(t, plan.IsSupportedLayout())
	assert.Equal(t, plan.InterWarpSize()*plan.IntraWarpSize(), plan.ThreadsAlongReductionAxis())
}

func TestReducePlanMisuse(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("main")
	x := f.AddLoad(rowMajor(4, 8))
	store := f.AddStore(x)

	require.Panics(t, func() { _, _ = NewReducePlan(nil) })
	require.Panics(t, func() { _, _ = NewReducePlan(store) }, "not a Reduce operation")
}
