package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rhsieh91/sife-net/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// TemporalStride is how many input frames collapse into one per-frame logit, matching the
// downsampling of an I3D backbone.
const TemporalStride = 8

// PooledSIFE is a lightweight stand-in for the I3D + SIFE network: grid-pooled colour features
// per temporal chunk feed a linear action head (one logit vector per chunk) and a linear scene head
// on the clip-averaged feature.
type PooledSIFE struct {
	grid       int
	channels   int
	numActions int
	numScenes  int

	actionW *Param
	actionB *Param
	sceneW  *Param
	sceneB  *Param
}

type PooledSIFEConfig struct {
	Channels   int
	Grid       int
	NumActions int
	NumScenes  int
	Seed       int64
}

type sifeCache struct {
	// per clip: T' x F chunk features and the 1 x F clip mean
	features []*mat.Dense
	means    []*mat.VecDense
}

func NewPooledSIFE(cfg PooledSIFEConfig) (*PooledSIFE, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 3
	}
	if cfg.Grid <= 0 {
		cfg.Grid = 4
	}
	if cfg.NumActions <= 0 || cfg.NumScenes <= 0 {
		return nil, fmt.Errorf("need positive class counts, got %d actions and %d scenes", cfg.NumActions, cfg.NumScenes)
	}
	m := &PooledSIFE{
		grid:       cfg.Grid,
		channels:   cfg.Channels,
		numActions: cfg.NumActions,
		numScenes:  cfg.NumScenes,
	}
	f := m.featureDim()
	m.actionW = NewParam("action_head.weight", cfg.NumActions, f)
	m.actionB = NewParam("action_head.bias", 1, cfg.NumActions)
	m.sceneW = NewParam("scene_head.weight", cfg.NumScenes, f)
	m.sceneB = NewParam("scene_head.bias", 1, cfg.NumScenes)

	rng := rand.New(rand.NewSource(cfg.Seed))
	glorot(rng, m.actionW)
	glorot(rng, m.sceneW)
	return m, nil
}

func glorot(rng *rand.Rand, p *Param) {
	limit := math.Sqrt(6 / float64(p.Rows+p.Cols))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (m *PooledSIFE) featureDim() int { return m.channels * m.grid * m.grid }

func (m *PooledSIFE) NumActions() int { return m.numActions }
func (m *PooledSIFE) NumScenes() int  { return m.numScenes }

func (m *PooledSIFE) Params() []*Param {
	return []*Param{m.actionW, m.actionB, m.sceneW, m.sceneB}
}

func (m *PooledSIFE) Forward(inputs []*tensor.Clip, _ bool) (*Output, error) {
	out := &Output{
		FrameLogits: make([][][]float64, len(inputs)),
		SceneLogits: make([][]float64, len(inputs)),
	}
	cache := &sifeCache{
		features: make([]*mat.Dense, len(inputs)),
		means:    make([]*mat.VecDense, len(inputs)),
	}

	wa, ba := m.actionW.Mat(), m.actionB.Value
	ws, bs := m.sceneW.Mat(), m.sceneB.Value
	for b, clip := range inputs {
		if clip.C != m.channels {
			return nil, fmt.Errorf("clip %d has %d channels, want %d", b, clip.C, m.channels)
		}
		if clip.H < m.grid || clip.W < m.grid {
			return nil, fmt.Errorf("clip %d is %dx%d, smaller than the %dx%d pooling grid", b, clip.H, clip.W, m.grid, m.grid)
		}
		feats := m.chunkFeatures(clip)
		chunks, _ := feats.Dims()

		// A x T' = Wa (A x F) * feats^T (F x T'), plus bias per action
		var z mat.Dense
		z.Mul(wa, feats.T())
		frame := make([][]float64, m.numActions)
		for a := range frame {
			frame[a] = make([]float64, chunks)
			for k := 0; k < chunks; k++ {
				frame[a][k] = z.At(a, k) + ba[a]
			}
		}

		mean := mat.NewVecDense(m.featureDim(), nil)
		for k := 0; k < chunks; k++ {
			mean.AddVec(mean, feats.RowView(k))
		}
		mean.ScaleVec(1/float64(chunks), mean)

		var s mat.VecDense
		s.MulVec(ws, mean)
		scene := make([]float64, m.numScenes)
		for i := range scene {
			scene[i] = s.AtVec(i) + bs[i]
		}

		out.FrameLogits[b] = frame
		out.SceneLogits[b] = scene
		cache.features[b] = feats
		cache.means[b] = mean
	}
	out.cache = cache
	return out, nil
}

// chunkFeatures averages each channel over a grid x grid spatial partition and over every
// TemporalStride frames, giving a T' x F matrix.
func (m *PooledSIFE) chunkFeatures(clip *tensor.Clip) *mat.Dense {
	chunks := (clip.T + TemporalStride - 1) / TemporalStride
	f := m.featureDim()
	feats := mat.NewDense(chunks, f, nil)
	counts := make([]float64, chunks*f)
	for c := 0; c < clip.C; c++ {
		for t := 0; t < clip.T; t++ {
			k := t / TemporalStride
			for y := 0; y < clip.H; y++ {
				gy := y * m.grid / clip.H
				for x := 0; x < clip.W; x++ {
					gx := x * m.grid / clip.W
					j := (c*m.grid+gy)*m.grid + gx
					feats.Set(k, j, feats.At(k, j)+float64(clip.At(c, t, y, x)))
					counts[k*f+j]++
				}
			}
		}
	}
	for k := 0; k < chunks; k++ {
		for j := 0; j < f; j++ {
			if n := counts[k*f+j]; n > 0 {
				feats.Set(k, j, feats.At(k, j)/n)
			}
		}
	}
	return feats
}

func (m *PooledSIFE) Backward(out *Output, dFrame [][][]float64, dScene [][]float64) error {
	cache, ok := out.cache.(*sifeCache)
	if !ok {
		return fmt.Errorf("backward: output was not produced by this network")
	}
	if len(dFrame) != len(cache.features) || len(dScene) != len(cache.features) {
		return fmt.Errorf("backward: gradient batch size mismatch")
	}

	gwa, gba := m.actionW.GradMat(), m.actionB.Grad
	gws, gbs := m.sceneW.GradMat(), m.sceneB.Grad
	for b, feats := range cache.features {
		chunks, _ := feats.Dims()
		dz := mat.NewDense(m.numActions, chunks, nil)
		for a := 0; a < m.numActions; a++ {
			for k := 0; k < chunks; k++ {
				dz.Set(a, k, dFrame[b][a][k])
				gba[a] += dFrame[b][a][k]
			}
		}
		// dWa += dz (A x T') * feats (T' x F)
		var dwa mat.Dense
		dwa.Mul(dz, feats)
		gwa.Add(gwa, &dwa)

		ds := mat.NewVecDense(m.numScenes, append([]float64(nil), dScene[b]...))
		var dws mat.Dense
		dws.Outer(1, ds, cache.means[b])
		gws.Add(gws, &dws)
		for i, g := range dScene[b] {
			gbs[i] += g
		}
	}
	return nil
}
