package analysis

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/simt/ir"
	"github.com/gomlx/simt/types/layouts"
	"github.com/gomlx/simt/types/shapes"
	"github.com/gomlx/simt/types/xslices"
)

// tileType builds a tensor type with an explicit blocked layout.
func tileType(dtype dtypes.DType, dims, eltsPerLane, lanesPerWarp, warpsPerBlock, order []int) ir.TensorType {
	return ir.TensorType{
		Shape:  shapes.Make(dtype, dims...),
		Layout: layouts.NewBlocked(eltsPerLane, lanesPerWarp, warpsPerBlock, order),
	}
}

// rowMajor builds a float32 tensor type with a plain row-major blocked layout: one
// element per lane, the last axis fastest and fully lane-partitioned.
func rowMajor(dims ...int) ir.TensorType {
	rank := len(dims)
	eltsPerLane := xslices.SliceWithValue(rank, 1)
	lanes := xslices.SliceWithValue(rank, 1)
	lanes[rank-1] = 32
	warps := xslices.SliceWithValue(rank, 1)
	warps[0] = 4
	order := make([]int, rank)
	for ii := range order {
		order[ii] = rank - 1 - ii
	}
	return tileType(dtypes.Float32, dims, eltsPerLane, lanes, warps, order)
}
