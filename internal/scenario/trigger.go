package scenario

import (
	"math"

	"github.com/sedsim/sedsim/internal/pharma"
)

// Param is the closed set of physiological values a trigger may reference.
// Using a closed enum mapped explicitly to vitals fields keeps invalid keys
// out of live sessions; validation rejects anything else at load time.
type Param string

const (
	ParamSpO2          Param = "spo2"
	ParamHR            Param = "hr"
	ParamSBP           Param = "sbp"
	ParamDBP           Param = "dbp"
	ParamRR            Param = "rr"
	ParamEtCO2         Param = "etco2"
	ParamSedationDepth Param = "sedation_depth"
)

// Valid reports whether p is a known parameter.
func (p Param) Valid() bool {
	switch p {
	case ParamSpO2, ParamHR, ParamSBP, ParamDBP, ParamRR, ParamEtCO2, ParamSedationDepth:
		return true
	}
	return false
}

// Value extracts the parameter's current value from a snapshot.
func (p Param) Value(s pharma.Snapshot) (float64, bool) {
	switch p {
	case ParamSpO2:
		return s.Vitals.SpO2, true
	case ParamHR:
		return s.Vitals.HR, true
	case ParamSBP:
		return s.Vitals.SBP, true
	case ParamDBP:
		return s.Vitals.DBP, true
	case ParamRR:
		return s.Vitals.RR, true
	case ParamEtCO2:
		return s.Vitals.EtCO2, true
	case ParamSedationDepth:
		return float64(s.SedationDepth), true
	}
	return 0, false
}

// Op is a comparison operator in a trigger condition.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
)

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	switch o {
	case OpLT, OpLE, OpGT, OpGE:
		return true
	}
	return false
}

// Compare applies the operator to value vs threshold.
func (o Op) Compare(value, threshold float64) bool {
	switch o {
	case OpLT:
		return value < threshold
	case OpLE:
		return value <= threshold
	case OpGT:
		return value > threshold
	case OpGE:
		return value >= threshold
	}
	return false
}

// Direction classifies which side of normal a condition watches.
type Direction int

const (
	DirectionLow Direction = iota
	DirectionHigh
)

func (d Direction) String() string {
	if d == DirectionHigh {
		return "high"
	}
	return "low"
}

// Direction returns the derangement direction the operator watches for.
func (o Op) Direction() Direction {
	if o == OpGT || o == OpGE {
		return DirectionHigh
	}
	return DirectionLow
}

// SeverityTier grades how far a value has crossed its threshold, 1..3,
// monotone in the exceedance.
func SeverityTier(value, threshold float64, op Op) int {
	var exceed float64
	if op.Direction() == DirectionLow {
		exceed = threshold - value
	} else {
		exceed = value - threshold
	}
	if exceed < 0 {
		exceed = 0
	}
	base := math.Max(math.Abs(threshold), 1)
	switch ratio := exceed / base; {
	case ratio >= 0.25:
		return 3
	case ratio >= 0.10:
		return 2
	default:
		return 1
	}
}
