package filter

var _ Filter = (*AlphaBeta)(nil)

// AlphaBeta tracks a value and its derivative with two fixed gains.
type AlphaBeta struct {
	alpha, beta float32
	x, dx       float32
}

// NewAlphaBeta creates a filter with gains clamped to [0,1].
func NewAlphaBeta(alpha, beta float32) *AlphaBeta {
	f := &AlphaBeta{}
	f.SetGains(alpha, beta)
	return f
}

// SetGains assigns both gains, clamping each to [0,1].
func (f *AlphaBeta) SetGains(alpha, beta float32) {
	f.alpha = clamp01(alpha)
	f.beta = clamp01(beta)
}

// SetGain assigns alpha and derives beta = alpha^2/2, the critically damped choice.
func (f *AlphaBeta) SetGain(alpha float32) {
	a := clamp01(alpha)
	f.SetGains(a, 0.5*a*a)
}

// Gains returns alpha and beta.
func (f *AlphaBeta) Gains() (alpha, beta float32) {
	return f.alpha, f.beta
}

func (f *AlphaBeta) Update(x, dt float32) float32 {
	delta := x - f.x
	f.x += f.dx*dt + f.alpha*delta
	if dt > 0 {
		f.dx += f.beta * delta / dt
	}
	return f.x
}

func (f *AlphaBeta) Value() float32 { return f.x }
func (f *AlphaBeta) Deriv() float32 { return f.dx }

func (f *AlphaBeta) SetState(x float32) {
	f.x = x
	f.dx = 0
}
