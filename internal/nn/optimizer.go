/*
Copyright 2022 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package nn

import (
	"fmt"
	"math"
)

// Optimizer applies one update step from accumulated gradients. Optimizers
// expose their slot tensors so checkpoints can capture and restore them.
type Optimizer interface {
	Name() string
	Step(params []Param)
	State() OptimizerState
	LoadState(state OptimizerState) error
}

// OptimizerState is the serializable state of an optimizer.
type OptimizerState struct {
	Type  string       `json:"type"`
	Step  int          `json:"step,omitempty"`
	Slots []SlotTensor `json:"slots,omitempty"`
}

// SlotTensor is one optimizer slot (momentum, first/second moment) for one parameter.
type SlotTensor struct {
	Param string    `json:"param"`
	Slot  string    `json:"slot"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// SGD is stochastic gradient descent with classic momentum.
type SGD struct {
	LearningRate float64
	Momentum     float64

	velocity map[string]*Tensor
}

func NewSGD(learningRate, momentum float64) *SGD {
	return &SGD{
		LearningRate: learningRate,
		Momentum:     momentum,
		velocity:     make(map[string]*Tensor),
	}
}

func (s *SGD) Name() string { return "SGD" }

func (s *SGD) Step(params []Param) {
	for _, p := range params {
		v := s.velocity[p.Name]
		if v == nil {
			v = NewTensor(p.Value.Shape...)
			s.velocity[p.Name] = v
		}
		for i := range p.Value.Data {
			v.Data[i] = s.Momentum*v.Data[i] + p.Grad.Data[i]
			p.Value.Data[i] -= s.LearningRate * v.Data[i]
		}
	}
}

func (s *SGD) State() OptimizerState {
	return OptimizerState{Type: s.Name(), Slots: exportSlots(map[string]map[string]*Tensor{"momentum": s.velocity})}
}

func (s *SGD) LoadState(state OptimizerState) error {
	if state.Type != s.Name() {
		return fmt.Errorf("cannot restore %s state into SGD", state.Type)
	}
	slots, err := importSlots(state.Slots, "momentum")
	if err != nil {
		return err
	}
	s.velocity = slots["momentum"]
	return nil
}

// Adam is the Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m    map[string]*Tensor
	v    map[string]*Tensor
}

func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		m:            make(map[string]*Tensor),
		v:            make(map[string]*Tensor),
	}
}

func (a *Adam) Name() string { return "Adam" }

func (a *Adam) Step(params []Param) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		m := a.m[p.Name]
		v := a.v[p.Name]
		if m == nil {
			m = NewTensor(p.Value.Shape...)
			v = NewTensor(p.Value.Shape...)
			a.m[p.Name] = m
			a.v[p.Name] = v
		}
		for i := range p.Value.Data {
			g := p.Grad.Data[i]
			m.Data[i] = a.Beta1*m.Data[i] + (1-a.Beta1)*g
			v.Data[i] = a.Beta2*v.Data[i] + (1-a.Beta2)*g*g
			p.Value.Data[i] -= a.LearningRate * (m.Data[i] / c1) / (math.Sqrt(v.Data[i]/c2) + a.Epsilon)
		}
	}
}

func (a *Adam) State() OptimizerState {
	return OptimizerState{
		Type:  a.Name(),
		Step:  a.step,
		Slots: exportSlots(map[string]map[string]*Tensor{"m": a.m, "v": a.v}),
	}
}

func (a *Adam) LoadState(state OptimizerState) error {
	if state.Type != a.Name() {
		return fmt.Errorf("cannot restore %s state into Adam", state.Type)
	}
	slots, err := importSlots(state.Slots, "m", "v")
	if err != nil {
		return err
	}
	a.step = state.Step
	a.m = slots["m"]
	a.v = slots["v"]
	return nil
}

func exportSlots(slots map[string]map[string]*Tensor) []SlotTensor {
	var out []SlotTensor
	for slot, params := range slots {
		for name, t := range params {
			out = append(out, SlotTensor{
				Param: name,
				Slot:  slot,
				Shape: append([]int(nil), t.Shape...),
				Data:  append([]float64(nil), t.Data...),
			})
		}
	}
	return out
}

func importSlots(tensors []SlotTensor, slots ...string) (map[string]map[string]*Tensor, error) {
	out := make(map[string]map[string]*Tensor, len(slots))
	for _, s := range slots {
		out[s] = make(map[string]*Tensor)
	}
	for i := range tensors {
		st := &tensors[i]
		params, ok := out[st.Slot]
		if !ok {
			return nil, fmt.Errorf("unexpected optimizer slot %q for parameter %q", st.Slot, st.Param)
		}
		t := NewTensor(st.Shape...)
		if len(st.Data) != t.Size() {
			return nil, fmt.Errorf("optimizer slot %q/%q has %d values, expected %d", st.Slot, st.Param, len(st.Data), t.Size())
		}
		copy(t.Data, st.Data)
		params[st.Param] = t
	}
	return out, nil
}
