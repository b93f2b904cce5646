package model

// InterpolateLinear resamples x to size points the way 1-D linear interpolation with
// align_corners=false does: output i reads source position (i+0.5)*len(x)/size - 0.5,
// clamped at the left edge.
func InterpolateLinear(x []float64, size int) []float64 {
	w := interpolationWeights(len(x), size)
	out := make([]float64, size)
	for i, taps := range w {
		for _, tp := range taps {
			out[i] += tp.weight * x[tp.src]
		}
	}
	return out
}

type tap struct {
	src    int
	weight float64
}

func interpolationWeights(in, size int) [][]tap {
	w := make([][]tap, size)
	if in == 0 {
		return w
	}
	scale := float64(in) / float64(size)
	for i := 0; i < size; i++ {
		src := (float64(i)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(src)
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := i0 + 1
		if i1 > in-1 {
			i1 = in - 1
		}
		l1 := src - float64(i0)
		w[i] = []tap{{src: i0, weight: 1 - l1}, {src: i1, weight: l1}}
	}
	return w
}

// TemporalMean maps per-frame logits (K x T') to clip logits (K) by first upsampling every row
// to frames points and then averaging over time. Because both steps are linear, the result is a
// fixed weighting of the T' inputs; Weights exposes it so gradients can flow back.
type TemporalMean struct {
	Weights []float64
}

func NewTemporalMean(in, frames int) TemporalMean {
	w := make([]float64, in)
	for _, taps := range interpolationWeights(in, frames) {
		for _, tp := range taps {
			w[tp.src] += tp.weight / float64(frames)
		}
	}
	return TemporalMean{Weights: w}
}

func (tm TemporalMean) Apply(frameLogits [][]float64) []float64 {
	out := make([]float64, len(frameLogits))
	for k, row := range frameLogits {
		for t, v := range row {
			out[k] += tm.Weights[t] * v
		}
	}
	return out
}

// Backward spreads dLoss/dClipLogits (K) back onto the per-frame logits (K x T').
func (tm TemporalMean) Backward(dClip []float64) [][]float64 {
	out := make([][]float64, len(dClip))
	for k, g := range dClip {
		row := make([]float64, len(tm.Weights))
		for t, w := range tm.Weights {
			row[t] = w * g
		}
		out[k] = row
	}
	return out
}
