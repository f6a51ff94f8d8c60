package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/simt/types/layouts"
	"github.com/gomlx/simt/types/shapes"
	"github.com/gomlx/simt/types/xslices"
)

// OpType identifies the operation an Op performs.
type OpType int

const (
	// OpTypeInvalid is the zero OpType and never appears in a built program.
	OpTypeInvalid OpType = iota

	// OpTypeConstant materializes a tile whose contents are known at compile time.
	// The payload itself is irrelevant to analysis and is not carried.
	OpTypeConstant

	// OpTypeLoad reads a tile from global memory.
	OpTypeLoad

	// OpTypeStore writes a tile to global memory.
	OpTypeStore

	// OpTypeAdd and OpTypeMul are element-wise binary arithmetic.
	OpTypeAdd
	OpTypeMul

	// OpTypeExp is element-wise exponentiation.
	OpTypeExp

	// OpTypeReduce collapses one axis of each input tile. It is the only
	// multi-output operation: one output per input, rank reduced by one.
	OpTypeReduce

	// OpTypeCall invokes another function of the module by name.
	OpTypeCall

	// OpTypeReturn terminates a function body.
	OpTypeReturn
)

// String returns a human-readable name for the OpType.
func (t OpType) String() string {
	switch t {
	case OpTypeConstant:
		return "Constant"
	case OpTypeLoad:
		return "Load"
	case OpTypeStore:
		return "Store"
	case OpTypeAdd:
		return "Add"
	case OpTypeMul:
		return "Mul"
	case OpTypeExp:
		return "Exp"
	case OpTypeReduce:
		return "Reduce"
	case OpTypeCall:
		return "Call"
	case OpTypeReturn:
		return "Return"
	default:
		return fmt.Sprintf("OpType(%d)", t)
	}
}

// ReduceOpType selects the combining function of a reduction.
type ReduceOpType int

const (
	ReduceOpSum ReduceOpType = iota
	ReduceOpProduct
	ReduceOpMax
	ReduceOpMin
)

// String returns a human-readable name for the ReduceOpType.
func (t ReduceOpType) String() string {
	switch t {
	case ReduceOpSum:
		return "Sum"
	case ReduceOpProduct:
		return "Product"
	case ReduceOpMax:
		return "Max"
	case ReduceOpMin:
		return "Min"
	default:
		return fmt.Sprintf("ReduceOpType(%d)", t)
	}
}

// Loc is the source-program provenance of an operation. The zero Loc means the
// location is unknown.
type Loc struct {
	File      string
	Line, Col int
}

// IsUnknown returns whether the location carries no provenance.
func (l Loc) IsUnknown() bool { return l == Loc{} }

// String implements fmt.Stringer, as file:line:col.
func (l Loc) String() string {
	if l.IsUnknown() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// TensorType is the type of a value: its shape (dimensions and element type) plus
// the layout distributing the elements over the execution grid.
type TensorType struct {
	Shape  shapes.Shape
	Layout layouts.Layout
}

// Equal reports whether both shape and layout match.
func (t TensorType) Equal(other TensorType) bool {
	return t.Shape.Equal(other.Shape) && t.Layout.Equal(other.Layout)
}

// String implements fmt.Stringer.
func (t TensorType) String() string {
	return fmt.Sprintf("%s @ %s", t.Shape, t.Layout)
}

// Value is an SSA-like value of a tile program: a function argument or one output of
// an operation. Identity is the pointer; ids are unique within the module.
type Value struct {
	id   int
	fn   *Func
	name string // Only set for function arguments.
	def  *Op    // nil for function arguments.
	typ  TensorType
	uses []*Op // Ordered by construction; one entry per use, repeated operands repeat.
}

// ID returns the module-unique id of the value.
func (v *Value) ID() int { return v.id }

// Func returns the function the value belongs to.
func (v *Value) Func() *Func { return v.fn }

// Def returns the operation defining the value, or nil for a function argument.
func (v *Value) Def() *Op { return v.def }

// Uses returns the operations consuming the value, in the order they were built.
// The returned slice is owned by the value; don't modify it.
func (v *Value) Uses() []*Op { return v.uses }

// Type returns the value's tensor type.
func (v *Value) Type() TensorType { return v.typ }

// Shape returns the value's shape.
func (v *Value) Shape() shapes.Shape { return v.typ.Shape }

// Layout returns the value's layout.
func (v *Value) Layout() layouts.Layout { return v.typ.Layout }

// String returns %name for arguments and %id for operation results.
func (v *Value) String() string {
	if v.name != "" {
		return "%" + v.name
	}
	return fmt.Sprintf("%%%d", v.id)
}

// Op is one operation of a function body. Ops are created through the Func builder
// methods and immutable afterward, except for the provenance set by WithLoc and
// operand rewiring through ReplaceInput.
type Op struct {
	id      int
	fn      *Func
	opType  OpType
	inputs  []*Value
	outputs []*Value
	loc     Loc

	axis     int          // OpTypeReduce only.
	reduceOp ReduceOpType // OpTypeReduce only.
	callee   string       // OpTypeCall only.
}

// ID returns the module-unique id of the operation.
func (op *Op) ID() int { return op.id }

// Func returns the function whose body contains the operation.
func (op *Op) Func() *Func { return op.fn }

// Type returns the operation type.
func (op *Op) Type() OpType { return op.opType }

// Inputs returns the operand values, owned by the op; don't modify.
func (op *Op) Inputs() []*Value { return op.inputs }

// Outputs returns the result values, owned by the op; don't modify.
func (op *Op) Outputs() []*Value { return op.outputs }

// Axis returns the reduced axis of an OpTypeReduce.
func (op *Op) Axis() int { return op.axis }

// ReduceOp returns the combining function of an OpTypeReduce.
func (op *Op) ReduceOp() ReduceOpType { return op.reduceOp }

// Callee returns the called function name of an OpTypeCall. The name may not
// resolve within the module; unresolved calls are legal.
func (op *Op) Callee() string { return op.callee }

// Loc returns the operation's source provenance, zero if unknown.
func (op *Op) Loc() Loc { return op.loc }

// WithLoc sets the operation's source provenance in place and returns the op.
func (op *Op) WithLoc(loc Loc) *Op {
	op.loc = loc
	return op
}

// ReplaceInput replaces operand idx with value, rewiring the use lists of both the
// old and the new operand. Rewriting passes (inlining, value substitution) use it.
// It does not re-check the def-before-use discipline of the original construction:
// a rewrite that introduces a dependency cycle is caught later by the traversals in
// the analysis package, not here.
func (op *Op) ReplaceInput(idx int, value *Value) {
	if idx < 0 || idx >= len(op.inputs) {
		exceptions.Panicf("%s: ReplaceInput index %d out of range for %d operands", op, idx, len(op.inputs))
	}
	if value == nil {
		exceptions.Panicf("%s: ReplaceInput: nil value", op)
	}
	if value.fn != op.fn {
		exceptions.Panicf("%s: ReplaceInput: %s belongs to %s", op, value, value.fn)
	}
	old := op.inputs[idx]
	if old == value {
		return
	}
	for ii, use := range old.uses {
		if use == op {
			old.uses = slices.Delete(old.uses, ii, ii+1)
			break
		}
	}
	op.inputs[idx] = value
	value.uses = append(value.uses, op)
}

// Errorf builds a diagnostic error attributed to the operation, carrying its
// provenance and a stack trace.
func (op *Op) Errorf(format string, args ...any) error {
	return errors.Errorf("%s: %s#%d: %s", op.loc, op.opType, op.id, fmt.Sprintf(format, args...))
}

// String returns a single-line rendering like "Sum#3(%1, %2) -> (%4, %5)".
func (op *Op) String() string {
	var sb strings.Builder
	if op.opType == OpTypeReduce {
		fmt.Fprintf(&sb, "%s.%s#%d[axis=%d]", op.opType, op.reduceOp, op.id, op.axis)
	} else {
		fmt.Fprintf(&sb, "%s#%d", op.opType, op.id)
	}
	if op.callee != "" {
		fmt.Fprintf(&sb, "@%s", op.callee)
	}
	names := func(values []*Value) string {
		return strings.Join(xslices.Map(values, (*Value).String), ", ")
	}
	fmt.Fprintf(&sb, "(%s)", names(op.inputs))
	if len(op.outputs) > 0 {
		fmt.Fprintf(&sb, " -> (%s)", names(op.outputs))
	}
	return sb.String()
}
