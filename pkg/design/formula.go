package design

import (
	"math"

	"github.com/chazu/rapidchiplet/pkg/errs"
)

// FormulaKind selects the shape of a link formula.
type FormulaKind string

const (
	FormulaConstant FormulaKind = "constant"
	FormulaLinear   FormulaKind = "linear"
	FormulaPowerLaw FormulaKind = "power"
)

// Formula maps a link length in mm to a latency or power figure.
//
//	constant:  Value
//	linear:    Offset + Coef*x
//	power:     Offset + Coef*x^Exponent
type Formula struct {
	Kind     FormulaKind `json:"kind"`
	Value    float64     `json:"value,omitempty"`
	Offset   float64     `json:"offset,omitempty"`
	Coef     float64     `json:"coef,omitempty"`
	Exponent float64     `json:"exponent,omitempty"`
}

// Constant returns a formula that ignores its argument.
func Constant(v float64) Formula {
	return Formula{Kind: FormulaConstant, Value: v}
}

// Linear returns offset + coef*x.
func Linear(offset, coef float64) Formula {
	return Formula{Kind: FormulaLinear, Offset: offset, Coef: coef}
}

// PowerLaw returns offset + coef*x^exponent.
func PowerLaw(offset, coef, exponent float64) Formula {
	return Formula{Kind: FormulaPowerLaw, Offset: offset, Coef: coef, Exponent: exponent}
}

// IsConstant reports whether f ignores the link length.
func (f Formula) IsConstant() bool {
	return f.Kind == FormulaConstant
}

// Eval evaluates f at x.
func (f Formula) Eval(x float64) float64 {
	switch f.Kind {
	case FormulaLinear:
		return f.Offset + f.Coef*x
	case FormulaPowerLaw:
		return f.Offset + f.Coef*math.Pow(x, f.Exponent)
	default:
		return f.Value
	}
}

// Check reports an unknown kind or a non-finite coefficient.
func (f Formula) Check(field string) error {
	switch f.Kind {
	case FormulaConstant, FormulaLinear, FormulaPowerLaw:
	default:
		return errs.Config(field, "unknown formula kind %q", f.Kind)
	}
	for _, v := range []float64{f.Value, f.Offset, f.Coef, f.Exponent} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Config(field, "non-finite coefficient")
		}
	}
	return nil
}
