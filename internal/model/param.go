// Package model holds the trainable pieces the training loop drives: parameters, the reference
// SIFE-style network, losses, optimizers and learning-rate schedules.
package model

import (
	"fmt"

	"github.com/rhsieh91/sife-net/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// Param is a trainable tensor stored row-major with its accumulated gradient.
type Param struct {
	Name  string
	Rows  int
	Cols  int
	Value []float64
	Grad  []float64
}

func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Value: make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

// Mat views the value as a matrix sharing the same backing array.
func (p *Param) Mat() *mat.Dense { return mat.NewDense(p.Rows, p.Cols, p.Value) }

// GradMat views the gradient as a matrix sharing the same backing array.
func (p *Param) GradMat() *mat.Dense { return mat.NewDense(p.Rows, p.Cols, p.Grad) }

func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Output is what a forward pass produces for a batch of B clips.
type Output struct {
	// FrameLogits is B x NumActions x T', where T' is the temporally downsampled length.
	FrameLogits [][][]float64
	// SceneLogits is B x NumScenes.
	SceneLogits [][]float64

	cache any
}

// Network is the contract between the training loop and a classifier. Implementations keep
// whatever they need for Backward inside Output.
type Network interface {
	Forward(inputs []*tensor.Clip, train bool) (*Output, error)
	// Backward accumulates parameter gradients given dLoss/dFrameLogits and dLoss/dSceneLogits.
	Backward(out *Output, dFrame [][][]float64, dScene [][]float64) error
	Params() []*Param
	NumActions() int
	NumScenes() int
}

// State copies every parameter value keyed by name.
func State(net Network) map[string][]float64 {
	st := make(map[string][]float64)
	for _, p := range net.Params() {
		st[p.Name] = append([]float64(nil), p.Value...)
	}
	return st
}

// LoadState overwrites parameter values from a State snapshot.
func LoadState(net Network, st map[string][]float64) error {
	for _, p := range net.Params() {
		v, ok := st[p.Name]
		if !ok {
			return fmt.Errorf("load state: missing parameter %s", p.Name)
		}
		if len(v) != len(p.Value) {
			return fmt.Errorf("load state: parameter %s has %d values, want %d", p.Name, len(v), len(p.Value))
		}
		copy(p.Value, v)
	}
	return nil
}
