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
	"math"
	"math/rand"
)

// Layer is one stage of a sequential network. Forward saves whatever activation
// state Backward needs, so a layer instance must not be shared between
// concurrently training networks.
type Layer interface {
	Name() string
	Forward(x *Tensor, training bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []Param
}

// Dense is a fully connected layer: y = x*W + b.
type Dense struct {
	name    string
	in, out int

	w, b         *Tensor
	gradW, gradB *Tensor
	input        *Tensor
}

// NewDense creates a fully connected layer with uniform fan-in scaled
// initialization drawn from the supplied source.
func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		name:  name,
		in:    in,
		out:   out,
		w:     NewTensor(in, out),
		b:     NewTensor(out),
		gradW: NewTensor(in, out),
		gradB: NewTensor(out),
	}
	bound := 1 / math.Sqrt(float64(in))
	d.w.FillUniform(bound, rng)
	d.b.FillUniform(bound, rng)
	return d
}

func (d *Dense) Name() string { return d.name }

func (d *Dense) Params() []Param {
	return []Param{
		{Name: d.name + ".weight", Value: d.w, Grad: d.gradW},
		{Name: d.name + ".bias", Value: d.b, Grad: d.gradB},
	}
}

func (d *Dense) Forward(x *Tensor, training bool) *Tensor {
	batch := x.Shape[0]
	if training {
		d.input = x
	}

	y := NewTensor(batch, d.out)
	for i := 0; i < batch; i++ {
		xi := x.Data[i*d.in : (i+1)*d.in]
		yi := y.Data[i*d.out : (i+1)*d.out]
		copy(yi, d.b.Data)
		for k := 0; k < d.in; k++ {
			xv := xi[k]
			if xv == 0 {
				continue
			}
			wk := d.w.Data[k*d.out : (k+1)*d.out]
			for j := 0; j < d.out; j++ {
				yi[j] += xv * wk[j]
			}
		}
	}
	return y
}

func (d *Dense) Backward(grad *Tensor) *Tensor {
	batch := grad.Shape[0]

	d.gradW.Zero()
	d.gradB.Zero()
	gradX := NewTensor(batch, d.in)

	for i := 0; i < batch; i++ {
		xi := d.input.Data[i*d.in : (i+1)*d.in]
		gi := grad.Data[i*d.out : (i+1)*d.out]
		gxi := gradX.Data[i*d.in : (i+1)*d.in]

		for j := 0; j < d.out; j++ {
			d.gradB.Data[j] += gi[j]
		}
		for k := 0; k < d.in; k++ {
			wk := d.w.Data[k*d.out : (k+1)*d.out]
			gwk := d.gradW.Data[k*d.out : (k+1)*d.out]
			xv := xi[k]
			sum := 0.0
			for j := 0; j < d.out; j++ {
				gwk[j] += xv * gi[j]
				sum += wk[j] * gi[j]
			}
			gxi[k] = sum
		}
	}
	return gradX
}

// ReLU applies max(0, x) element-wise.
type ReLU struct {
	name  string
	input *Tensor
}

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (r *ReLU) Name() string    { return r.name }
func (r *ReLU) Params() []Param { return nil }

func (r *ReLU) Forward(x *Tensor, training bool) *Tensor {
	if training {
		r.input = x
	}
	y := NewTensor(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return y
}

func (r *ReLU) Backward(grad *Tensor) *Tensor {
	gx := NewTensor(grad.Shape...)
	for i, v := range r.input.Data {
		if v > 0 {
			gx.Data[i] = grad.Data[i]
		}
	}
	return gx
}

// Flatten collapses all but the leading batch dimension.
type Flatten struct {
	name    string
	inShape []int
}

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (f *Flatten) Name() string    { return f.name }
func (f *Flatten) Params() []Param { return nil }

func (f *Flatten) Forward(x *Tensor, training bool) *Tensor {
	if training {
		f.inShape = x.Shape
	}
	n := 1
	for _, s := range x.Shape[1:] {
		n *= s
	}
	y, _ := x.Reshape(x.Shape[0], n)
	return y
}

func (f *Flatten) Backward(grad *Tensor) *Tensor {
	gx, _ := grad.Reshape(f.inShape...)
	return gx
}
