package simd

import "math"

// Scalar helpers used by the compute kernels. The loops are unrolled by hand
// so the Go compiler keeps four independent multiply-adds in flight.

// DotProduct computes the dot product of two float64 vectors.
// len(b) must be at least len(a).
func DotProduct(a, b []float64) float64 {
	var s0, s1, s2, s3 float64
	b = b[:len(a)]
	i := 0
	for ; i <= len(a)-4; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// CrossSum returns the sum of the four von Neumann neighbours of cell idx in
// a row-major buffer with the given column count. The caller guarantees idx
// is an interior cell.
func CrossSum(data []float64, idx, cols int) float64 {
	return data[idx-cols] + data[idx+cols] + data[idx-1] + data[idx+1]
}

// ExpFast is a fast approximation of exp(x)
// Uses the identity exp(x) = 2^(x/ln2) and a cubic polynomial for 2^f.
func ExpFast(x float64) float64 {
	// Clamp to avoid overflow
	if x > 88 {
		return 1e38
	}
	if x < -88 {
		return 0
	}

	const log2e = 1.4426950408889634

	t := x * log2e
	k := int(t)
	if t < 0 {
		k--
	}

	// Fractional part in [0, 1)
	f := t - float64(k)
	p := 1.0 + f*(0.6931471805599453+f*(0.24022650695910072+f*0.05550410866482157))

	return math.Ldexp(p, k)
}

// TanhFast is a Padé approximation of tanh(x), saturating beyond |x| > 4.
func TanhFast(x float64) float64 {
	if x > 4 {
		return 1
	}
	if x < -4 {
		return -1
	}
	x2 := x * x
	return x * (27.0 + x2) / (27.0 + 9.0*x2)
}

// Gelu applies the tanh approximation of GELU to a single value.
func Gelu(x float64) float64 {
	const (
		sqrt2overPi = 0.7978845608
		coeff       = 0.044715
	)
	return 0.5 * x * (1 + TanhFast(sqrt2overPi*(x+coeff*x*x*x)))
}
