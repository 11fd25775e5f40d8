package thermo

// Polynomial holds ascending-order coefficients c0 + c1*x + c2*x^2 + ...
// The zero value is an absent polynomial.
type Polynomial struct {
	c []float32
}

func poly(c ...float32) Polynomial {
	return Polynomial{c: c}
}

// Defined reports whether the polynomial carries coefficients.
func (p Polynomial) Defined() bool {
	return len(p.c) > 0
}

// Degree returns the polynomial degree, or -1 when absent.
func (p Polynomial) Degree() int {
	return len(p.c) - 1
}

// Coefficient returns the i-th coefficient, zero when out of range.
func (p Polynomial) Coefficient(i int) float32 {
	if i < 0 || i >= len(p.c) {
		return 0
	}
	return p.c[i]
}

// Eval evaluates the polynomial at x using Horner's scheme.
func (p Polynomial) Eval(x float32) float32 {
	var y float32
	for i := len(p.c) - 1; i >= 0; i-- {
		y = y*x + p.c[i]
	}
	return y
}
