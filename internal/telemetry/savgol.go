package telemetry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Interval smoothing parameters. The FIA tower interval updates every
// ~240 ms and carries quantization jitter; a short quadratic
// Savitzky-Golay fit removes it without lagging genuine gap changes.
const (
	savgolMaxWindow = 7
	savgolOrder     = 2
)

// SmoothInterval filters an interval-to-ahead series with a Savitzky-Golay
// filter. NaN entries mark missing tower samples: they are excluded from
// the fit and remain NaN in the output. The window is the largest odd
// length not exceeding savgolMaxWindow that the valid sample count
// supports; series too short to fit are returned unchanged.
func SmoothInterval(ys []float64) []float64 {
	out := make([]float64, len(ys))
	copy(out, ys)

	valid := make([]int, 0, len(ys))
	for i, v := range ys {
		if !math.IsNaN(v) {
			valid = append(valid, i)
		}
	}

	window := (len(valid)/2)*2 - 1
	if window > savgolMaxWindow {
		window = savgolMaxWindow
	}
	if window < savgolOrder+1 {
		return out
	}

	compact := make([]float64, len(valid))
	for i, j := range valid {
		compact[i] = ys[j]
	}
	smoothed := savitzkyGolay(compact, window, savgolOrder)
	for i, j := range valid {
		out[j] = smoothed[i]
	}
	return out
}

// savitzkyGolay smooths ys with a moving least-squares polynomial fit of
// the given window length (odd) and order. Near the edges the window is
// anchored at the boundary and the fitted polynomial is evaluated at the
// sample's own offset, so no samples are dropped.
func savitzkyGolay(ys []float64, window, order int) []float64 {
	n := len(ys)
	out := make([]float64, n)
	if n < window || window <= order {
		copy(out, ys)
		return out
	}

	half := window / 2
	a := mat.NewDense(window, order+1, nil)
	b := mat.NewVecDense(window, nil)
	coef := mat.NewVecDense(order+1, nil)
	var qr mat.QR

	for i := 0; i < n; i++ {
		start := i - half
		if start < 0 {
			start = 0
		}
		if start > n-window {
			start = n - window
		}

		for r := 0; r < window; r++ {
			x := float64(start + r - i)
			p := 1.0
			for c := 0; c <= order; c++ {
				a.Set(r, c, p)
				p *= x
			}
			b.SetVec(r, ys[start+r])
		}

		qr.Factorize(a)
		if err := qr.SolveVecTo(coef, false, b); err != nil {
			out[i] = ys[i]
			continue
		}
		// The fit is centred on sample i (x = 0), so the smoothed value is
		// the constant term.
		out[i] = coef.AtVec(0)
	}
	return out
}
