package backends

import "fmt"

// OpType is an enum of the operations that can be recorded in a trace and
// lowered to a Backend.Builder.
//
// The set is closed on purpose: shape inference, lowering and execution all
// dispatch through tables keyed by OpType, so every entry here has a row in
// each table.
type OpType int

const (
	OpTypeInvalid OpType = iota

	// OpTypeParameter is an external input bound at execution time. Trace
	// device-data nodes lower to parameters, so constant data stays out of
	// the lowered computation (and out of the structural signature).
	OpTypeParameter

	// OpTypeIota generates values 0, 1, 2, ... along a given axis.
	OpTypeIota

	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeNeg

	OpTypeBitwiseAnd
	OpTypeBitwiseOr
	OpTypeBitwiseXor
	OpTypeBitwiseNot

	OpTypeShiftLeft
	OpTypeShiftRightArithmetic
	OpTypeShiftRightLogical

	OpTypeLogicalAnd
	OpTypeLogicalOr
	OpTypeLogicalXor
	OpTypeLogicalNot

	// opTypeLast is a sentinel, keep it last.
	opTypeLast
)

// NumOpTypes is the number of valid OpType values, usable to size dispatch
// tables indexed by OpType.
const NumOpTypes = int(opTypeLast)

var opTypeNames = [NumOpTypes]string{
	OpTypeInvalid:              "Invalid",
	OpTypeParameter:            "Parameter",
	OpTypeIota:                 "Iota",
	OpTypeAdd:                  "Add",
	OpTypeSub:                  "Sub",
	OpTypeMul:                  "Mul",
	OpTypeNeg:                  "Neg",
	OpTypeBitwiseAnd:           "BitwiseAnd",
	OpTypeBitwiseOr:            "BitwiseOr",
	OpTypeBitwiseXor:           "BitwiseXor",
	OpTypeBitwiseNot:           "BitwiseNot",
	OpTypeShiftLeft:            "ShiftLeft",
	OpTypeShiftRightArithmetic: "ShiftRightArithmetic",
	OpTypeShiftRightLogical:    "ShiftRightLogical",
	OpTypeLogicalAnd:           "LogicalAnd",
	OpTypeLogicalOr:            "LogicalOr",
	OpTypeLogicalXor:           "LogicalXor",
	OpTypeLogicalNot:           "LogicalNot",
}

// String implements fmt.Stringer.
func (t OpType) String() string {
	if t < 0 || int(t) >= NumOpTypes {
		return fmt.Sprintf("OpType(%d)", int(t))
	}
	return opTypeNames[t]
}
