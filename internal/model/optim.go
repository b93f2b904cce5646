package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
	State() OptimizerState
	LoadState(OptimizerState) error
}

// OptimizerState is the serialisable part of an optimizer, stored in checkpoints.
type OptimizerState struct {
	Kind  string
	LR    float64
	Steps int
	// Slots holds per-parameter buffers such as Adam moments, keyed "<param>/<slot>".
	Slots map[string][]float64
}

func NewOptimizer(kind string, params []*Param, lr float64) (Optimizer, error) {
	switch kind {
	case "adam", "":
		return NewAdam(params, lr), nil
	case "sgd":
		return NewSGD(params, lr, 0.9), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", kind)
	}
}

type base struct {
	params []*Param
	lr     float64
	steps  int
}

func (o *base) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *base) LR() float64      { return o.lr }
func (o *base) SetLR(lr float64) { o.lr = lr }

// SGD is stochastic gradient descent with classical momentum.
type SGD struct {
	base
	momentum float64
	velocity map[string][]float64
}

func NewSGD(params []*Param, lr, momentum float64) *SGD {
	return &SGD{base: base{params: params, lr: lr}, momentum: momentum, velocity: make(map[string][]float64)}
}

func (o *SGD) Step() {
	for _, p := range o.params {
		v, ok := o.velocity[p.Name]
		if !ok {
			v = make([]float64, len(p.Value))
			o.velocity[p.Name] = v
		}
		floats.Scale(o.momentum, v)
		floats.Add(v, p.Grad)
		floats.AddScaled(p.Value, -o.lr, v)
	}
	o.steps++
}

func (o *SGD) State() OptimizerState {
	st := OptimizerState{Kind: "sgd", LR: o.lr, Steps: o.steps, Slots: make(map[string][]float64)}
	for name, v := range o.velocity {
		st.Slots[name+"/velocity"] = append([]float64(nil), v...)
	}
	return st
}

func (o *SGD) LoadState(st OptimizerState) error {
	if st.Kind != "sgd" {
		return fmt.Errorf("load optimizer state: have sgd, checkpoint holds %q", st.Kind)
	}
	o.lr, o.steps = st.LR, st.Steps
	for _, p := range o.params {
		if v, ok := st.Slots[p.Name+"/velocity"]; ok {
			o.velocity[p.Name] = append([]float64(nil), v...)
		}
	}
	return nil
}

// Adam uses the usual defaults: beta1 0.9, beta2 0.999, eps 1e-8.
type Adam struct {
	base
	beta1, beta2, eps float64
	m, v              map[string][]float64
}

func NewAdam(params []*Param, lr float64) *Adam {
	return &Adam{
		base:  base{params: params, lr: lr},
		beta1: 0.9, beta2: 0.999, eps: 1e-8,
		m: make(map[string][]float64),
		v: make(map[string][]float64),
	}
}

func (o *Adam) Step() {
	o.steps++
	c1 := 1 - math.Pow(o.beta1, float64(o.steps))
	c2 := 1 - math.Pow(o.beta2, float64(o.steps))
	for _, p := range o.params {
		m, ok := o.m[p.Name]
		if !ok {
			m = make([]float64, len(p.Value))
			o.m[p.Name] = m
		}
		v, ok := o.v[p.Name]
		if !ok {
			v = make([]float64, len(p.Value))
			o.v[p.Name] = v
		}
		for i, g := range p.Grad {
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			p.Value[i] -= o.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.eps)
		}
	}
}

func (o *Adam) State() OptimizerState {
	st := OptimizerState{Kind: "adam", LR: o.lr, Steps: o.steps, Slots: make(map[string][]float64)}
	for name, m := range o.m {
		st.Slots[name+"/exp_avg"] = append([]float64(nil), m...)
	}
	for name, v := range o.v {
		st.Slots[name+"/exp_avg_sq"] = append([]float64(nil), v...)
	}
	return st
}

func (o *Adam) LoadState(st OptimizerState) error {
	if st.Kind != "adam" {
		return fmt.Errorf("load optimizer state: have adam, checkpoint holds %q", st.Kind)
	}
	o.lr, o.steps = st.LR, st.Steps
	for _, p := range o.params {
		if m, ok := st.Slots[p.Name+"/exp_avg"]; ok {
			o.m[p.Name] = append([]float64(nil), m...)
		}
		if v, ok := st.Slots[p.Name+"/exp_avg_sq"]; ok {
			o.v[p.Name] = append([]float64(nil), v...)
		}
	}
	return nil
}
