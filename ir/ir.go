// Package ir is a small tile-program representation: a module of functions whose
// bodies are flat sequences of tensor operations, every value carrying a shape, an
// element type and a layout describing its distribution over the execution grid
// (see types/layouts).
//
// The representation exists to be analyzed. The analysis package derives reduction
// plans and dependency orderings from it; nothing here generates code. Programs are
// built once through the Func builder methods and then only read. Builder methods
// panic on misuse (nil operands, foreign values, out-of-range axes), marking a bug
// in the frontend building the program. Consistency conditions that depend on a
// whole well-formed operation, like matching operand tiles of a reduction, are
// deliberately left to the analyses, which report them as diagnostics instead.
package ir

import (
	"github.com/gomlx/exceptions"
	"github.com/xyproto/env/v2"

	"github.com/gomlx/simt/types/layouts"
)

// Environment variables providing the default execution-grid parameters for new
// modules. Explicit WithNumWarps / WithLanesPerWarp calls take precedence.
const (
	EnvNumWarps     = "SIMT_NUM_WARPS"
	EnvLanesPerWarp = "SIMT_LANES_PER_WARP"
)

// Module is an ordered collection of functions plus the execution-grid parameters
// of the target the program is compiled for.
type Module struct {
	name         string
	numWarps     int
	lanesPerWarp int

	funcs       []*Func
	funcsByName map[string]*Func

	nextOpID    int
	nextValueID int
}

// NewModule creates an empty module. The grid parameters default from the
// SIMT_NUM_WARPS (4) and SIMT_LANES_PER_WARP (32) environment variables.
func NewModule(name string) *Module {
	return &Module{
		name:         name,
		numWarps:     env.Int(EnvNumWarps, 4),
		lanesPerWarp: env.Int(EnvLanesPerWarp, 32),
		funcsByName:  make(map[string]*Func),
	}
}

// WithNumWarps sets the number of warps per block and returns the module.
func (m *Module) WithNumWarps(numWarps int) *Module {
	if numWarps < 1 {
		exceptions.Panicf("Module %q: NumWarps must be >= 1, got %d", m.name, numWarps)
	}
	m.numWarps = numWarps
	return m
}

// WithLanesPerWarp sets the warp width and returns the module.
func (m *Module) WithLanesPerWarp(lanesPerWarp int) *Module {
	if lanesPerWarp < 1 {
		exceptions.Panicf("Module %q: LanesPerWarp must be >= 1, got %d", m.name, lanesPerWarp)
	}
	m.lanesPerWarp = lanesPerWarp
	return m
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// NumWarps returns the number of warps per block the target launches.
func (m *Module) NumWarps() int { return m.numWarps }

// LanesPerWarp returns the warp width of the target.
func (m *Module) LanesPerWarp() int { return m.lanesPerWarp }

// Funcs returns the module's functions in creation order. The slice is owned by
// the module; don't modify it.
func (m *Module) Funcs() []*Func { return m.funcs }

// FuncByName returns the named function, or nil if the module has none: call sites
// may legally name functions outside the module.
func (m *Module) FuncByName(name string) *Func { return m.funcsByName[name] }

// NewFunc creates an empty function in the module. Names must be unique and
// non-empty.
func (m *Module) NewFunc(name string) *Func {
	if name == "" {
		exceptions.Panicf("Module %q: function name must not be empty", m.name)
	}
	if _, found := m.funcsByName[name]; found {
		exceptions.Panicf("Module %q: duplicate function %q", m.name, name)
	}
	f := &Func{name: name, module: m}
	m.funcs = append(m.funcs, f)
	m.funcsByName[name] = f
	return f
}

// Func is one function of a module: named arguments and a flat body of operations
// in execution order.
type Func struct {
	name   string
	module *Module
	args   []*Value
	ops    []*Op
}

// Name returns the function name, unique within the module.
func (f *Func) Name() string { return f.name }

// Module returns the module owning the function.
func (f *Func) Module() *Module { return f.module }

// Args returns the function arguments in declaration order. Owned by the function;
// don't modify.
func (f *Func) Args() []*Value { return f.args }

// Ops returns the body operations in construction order. Owned by the function;
// don't modify.
func (f *Func) Ops() []*Op { return f.ops }

// String implements fmt.Stringer.
func (f *Func) String() string {
	return "func " + f.name
}

// NewArg declares a function argument of the given type and returns its value.
func (f *Func) NewArg(name string, typ TensorType) *Value {
	if name == "" {
		exceptions.Panicf("%s: argument name must not be empty", f)
	}
	f.assertValidType(typ)
	v := &Value{id: f.module.nextValueID, fn: f, name: name, typ: typ}
	f.module.nextValueID++
	f.args = append(f.args, v)
	return v
}

// assertValidType panics unless typ carries a valid shape and a layout of the same
// rank.
func (f *Func) assertValidType(typ TensorType) {
	if !typ.Shape.Ok() {
		exceptions.Panicf("%s: invalid shape in tensor type", f)
	}
	if typ.Layout == nil {
		exceptions.Panicf("%s: tensor type %s has no layout", f, typ.Shape)
	}
	if typ.Layout.Rank() != typ.Shape.Rank() {
		exceptions.Panicf("%s: layout %s has rank %d, shape %s has rank %d",
			f, typ.Layout, typ.Layout.Rank(), typ.Shape, typ.Shape.Rank())
	}
}

// newOp allocates an op, checks and wires its operands and appends it to the body.
func (f *Func) newOp(opType OpType, inputs []*Value) *Op {
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("%s: %s: operand #%d is nil", f, opType, ii)
		}
		if input.fn != f {
			exceptions.Panicf("%s: %s: operand #%d (%s) belongs to %s", f, opType, ii, input, input.fn)
		}
	}
	op := &Op{id: f.module.nextOpID, fn: f, opType: opType, inputs: inputs}
	f.module.nextOpID++
	for _, input := range inputs {
		input.uses = append(input.uses, op)
	}
	f.ops = append(f.ops, op)
	return op
}

// newResult allocates one output value of op.
func (f *Func) newResult(op *Op, typ TensorType) *Value {
	v := &Value{id: f.module.nextValueID, fn: f, def: op, typ: typ}
	f.module.nextValueID++
	op.outputs = append(op.outputs, v)
	return v
}

// AddConstant appends a compile-time constant tile of the given type and returns
// its value.
func (f *Func) AddConstant(typ TensorType) *Value {
	f.assertValidType(typ)
	return f.newResult(f.newOp(OpTypeConstant, nil), typ)
}

// AddLoad appends a load of a tile of the given type from global memory and returns
// the loaded value.
func (f *Func) AddLoad(typ TensorType) *Value {
	f.assertValidType(typ)
	return f.newResult(f.newOp(OpTypeLoad, nil), typ)
}

// AddStore appends a store of the value to global memory.
func (f *Func) AddStore(value *Value) *Op {
	return f.newOp(OpTypeStore, []*Value{value})
}

// AddUnary appends an element-wise unary operation (OpTypeExp) and returns its
// result, which has the operand's type.
func (f *Func) AddUnary(opType OpType, x *Value) *Value {
	if opType != OpTypeExp {
		exceptions.Panicf("%s: %s is not a unary operation", f, opType)
	}
	op := f.newOp(opType, []*Value{x})
	return f.newResult(op, x.typ)
}

// AddBinary appends an element-wise binary operation (OpTypeAdd or OpTypeMul) and
// returns its result. Both operands must have equal type: same shape, element type
// and layout, so no data movement is implied.
func (f *Func) AddBinary(opType OpType, lhs, rhs *Value) *Value {
	if opType != OpTypeAdd && opType != OpTypeMul {
		exceptions.Panicf("%s: %s is not a binary operation", f, opType)
	}
	if lhs == nil || rhs == nil {
		exceptions.Panicf("%s: %s: nil operand", f, opType)
	}
	if !lhs.typ.Equal(rhs.typ) {
		exceptions.Panicf("%s: %s operands have mismatched types: %s vs %s", f, opType, lhs.typ, rhs.typ)
	}
	op := f.newOp(opType, []*Value{lhs, rhs})
	return f.newResult(op, lhs.typ)
}

// AddReduce appends a reduction of the given inputs along axis, combining elements
// with reduceOp. It yields one output per input, with the axis dropped from shape
// and layout. The axis must be valid for every input's rank, and there must be at
// least one input; whether the inputs agree on dimensions and layout is not checked
// here, it is the planner's diagnosable condition.
func (f *Func) AddReduce(reduceOp ReduceOpType, axis int, inputs ...*Value) *Op {
	if len(inputs) == 0 {
		exceptions.Panicf("%s: Reduce requires at least one input", f)
	}
	if axis < 0 {
		exceptions.Panicf("%s: Reduce axis must be >= 0, got %d", f, axis)
	}
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("%s: Reduce: operand #%d is nil", f, ii)
		}
		if axis >= input.Shape().Rank() {
			exceptions.Panicf("%s: Reduce axis %d out of range for operand #%d with shape %s",
				f, axis, ii, input.Shape())
		}
	}
	op := f.newOp(OpTypeReduce, inputs)
	op.axis = axis
	op.reduceOp = reduceOp
	for _, input := range inputs {
		typ := TensorType{
			Shape:  input.Shape().DropAxis(axis),
			Layout: layouts.NewSliced(input.Layout(), axis),
		}
		f.newResult(op, typ)
	}
	return op
}

// AddCall appends a call of the function named callee with the given operands. The
// callee doesn't have to resolve within the module, and call results are not
// modeled: the analyses only need call sites and their operands.
func (f *Func) AddCall(callee string, inputs ...*Value) *Op {
	if callee == "" {
		exceptions.Panicf("%s: Call requires a callee name", f)
	}
	op := f.newOp(OpTypeCall, inputs)
	op.callee = callee
	return op
}

// AddReturn appends a return of the given values, terminating the function body.
func (f *Func) AddReturn(values ...*Value) *Op {
	return f.newOp(OpTypeReturn, values)
}
