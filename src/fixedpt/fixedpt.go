// Package fixedpt implements the 17.14 fixed-point arithmetic the MLFQS
// scheduler uses for load_avg and recent_cpu. Keeping the representation a
// distinct type, rather than a bare int, stops mixed int/fixed-point
// expressions from silently losing the fractional bits (spec design note,
// §9 "Fixed-point arithmetic").
package fixedpt

// / F is the scale factor of the 17.14 fixed-point format: 14 fractional
// / bits, so 1.0 is represented as 1<<14.
const F int64 = 1 << 14

// / Fixedpt_t is a 17.14 fixed-point number: 17 integer bits, 14 fractional
// / bits, stored scaled by F in an int64 so intermediate products never
// / overflow.
type Fixedpt_t int64

// / Zero is the fixed-point representation of 0.
const Zero Fixedpt_t = 0

// / FromInt converts an integer to fixed-point.
func FromInt(n int) Fixedpt_t {
	return Fixedpt_t(int64(n) * F)
}

// / ToIntTrunc converts x to an integer, rounding toward zero.
func ToIntTrunc(x Fixedpt_t) int {
	return int(int64(x) / F)
}

// / ToIntRound converts x to an integer, rounding to the nearest integer
// / (ties away from zero). This is the rounding convention this
// / implementation settles on for the ambiguity spec §9 open question 1
// / flags in the original source.
func ToIntRound(x Fixedpt_t) int {
	v := int64(x)
	if v >= 0 {
		return int((v + F/2) / F)
	}
	return int((v - F/2) / F)
}

// / Add returns x + y.
func Add(x, y Fixedpt_t) Fixedpt_t {
	return x + y
}

// / Sub returns x - y.
func Sub(x, y Fixedpt_t) Fixedpt_t {
	return x - y
}

// / AddInt returns x + n.
func AddInt(x Fixedpt_t, n int) Fixedpt_t {
	return x + FromInt(n)
}

// / SubInt returns x - n.
func SubInt(x Fixedpt_t, n int) Fixedpt_t {
	return x - FromInt(n)
}

// / Mul returns x * y.
func Mul(x, y Fixedpt_t) Fixedpt_t {
	return Fixedpt_t((int64(x) * int64(y)) / F)
}

// / MulInt returns x * n.
func MulInt(x Fixedpt_t, n int) Fixedpt_t {
	return x * Fixedpt_t(n)
}

// / Div returns x / y.
func Div(x, y Fixedpt_t) Fixedpt_t {
	return Fixedpt_t((int64(x) * F) / int64(y))
}

// / DivInt returns x / n.
func DivInt(x Fixedpt_t, n int) Fixedpt_t {
	return x / Fixedpt_t(n)
}
