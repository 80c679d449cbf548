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

// Conv2D is a 2D convolution over NHWC input with valid padding and unit
// stride. Weights are stored [kernelH, kernelW, inChannels, outChannels].
type Conv2D struct {
	name           string
	inC, outC      int
	kh, kw         int
	w, b           *Tensor
	gradW, gradB   *Tensor
	input          *Tensor
}

// NewConv2D creates a convolution layer with uniform fan-in scaled initialization.
func NewConv2D(name string, inC, outC, kernel int, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		name:  name,
		inC:   inC,
		outC:  outC,
		kh:    kernel,
		kw:    kernel,
		w:     NewTensor(kernel, kernel, inC, outC),
		b:     NewTensor(outC),
		gradW: NewTensor(kernel, kernel, inC, outC),
		gradB: NewTensor(outC),
	}
	bound := 1 / math.Sqrt(float64(kernel*kernel*inC))
	c.w.FillUniform(bound, rng)
	c.b.FillUniform(bound, rng)
	return c
}

func (c *Conv2D) Name() string { return c.name }

func (c *Conv2D) Params() []Param {
	return []Param{
		{Name: c.name + ".weight", Value: c.w, Grad: c.gradW},
		{Name: c.name + ".bias", Value: c.b, Grad: c.gradB},
	}
}

// OutputSize returns the valid-padding output dimensions for the given input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return h - c.kh + 1, w - c.kw + 1
}

func (c *Conv2D) Forward(x *Tensor, training bool) *Tensor {
	if training {
		c.input = x
	}

	batch, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	oh, ow := c.OutputSize(h, w)
	y := NewTensor(batch, oh, ow, c.outC)

	for b := 0; b < batch; b++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				out := y.Data[((b*oh+i)*ow+j)*c.outC : ((b*oh+i)*ow+j+1)*c.outC]
				copy(out, c.b.Data)
				for ki := 0; ki < c.kh; ki++ {
					for kj := 0; kj < c.kw; kj++ {
						xoff := ((b*h+i+ki)*w + j + kj) * c.inC
						woff := (ki*c.kw + kj) * c.inC * c.outC
						for ci := 0; ci < c.inC; ci++ {
							xv := x.Data[xoff+ci]
							if xv == 0 {
								continue
							}
							wrow := c.w.Data[woff+ci*c.outC : woff+(ci+1)*c.outC]
							for f := 0; f < c.outC; f++ {
								out[f] += xv * wrow[f]
							}
						}
					}
				}
			}
		}
	}
	return y
}

func (c *Conv2D) Backward(grad *Tensor) *Tensor {
	x := c.input
	batch, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	oh, ow := c.OutputSize(h, w)

	c.gradW.Zero()
	c.gradB.Zero()
	gradX := NewTensor(batch, h, w, c.inC)

	for b := 0; b < batch; b++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				g := grad.Data[((b*oh+i)*ow+j)*c.outC : ((b*oh+i)*ow+j+1)*c.outC]
				for f := 0; f < c.outC; f++ {
					c.gradB.Data[f] += g[f]
				}
				for ki := 0; ki < c.kh; ki++ {
					for kj := 0; kj < c.kw; kj++ {
						xoff := ((b*h+i+ki)*w + j + kj) * c.inC
						woff := (ki*c.kw + kj) * c.inC * c.outC
						for ci := 0; ci < c.inC; ci++ {
							xv := x.Data[xoff+ci]
							wrow := c.w.Data[woff+ci*c.outC : woff+(ci+1)*c.outC]
							gwrow := c.gradW.Data[woff+ci*c.outC : woff+(ci+1)*c.outC]
							sum := 0.0
							for f := 0; f < c.outC; f++ {
								gwrow[f] += xv * g[f]
								sum += wrow[f] * g[f]
							}
							gradX.Data[xoff+ci] += sum
						}
					}
				}
			}
		}
	}
	return gradX
}

// MaxPool2D is a 2x2 max pooling layer with stride 2 over NHWC input.
type MaxPool2D struct {
	name    string
	inShape []int
	argmax  []int
}

func NewMaxPool2D(name string) *MaxPool2D { return &MaxPool2D{name: name} }

func (p *MaxPool2D) Name() string    { return p.name }
func (p *MaxPool2D) Params() []Param { return nil }

func (p *MaxPool2D) Forward(x *Tensor, training bool) *Tensor {
	batch, h, w, ch := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/2, w/2
	y := NewTensor(batch, oh, ow, ch)
	if training {
		p.inShape = x.Shape
		p.argmax = make([]int, y.Size())
	}

	for b := 0; b < batch; b++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				for c := 0; c < ch; c++ {
					best := math.Inf(-1)
					bestIdx := 0
					for di := 0; di < 2; di++ {
						for dj := 0; dj < 2; dj++ {
							idx := ((b*h+2*i+di)*w+2*j+dj)*ch + c
							if v := x.Data[idx]; v > best {
								best = v
								bestIdx = idx
							}
						}
					}
					out := ((b*oh+i)*ow+j)*ch + c
					y.Data[out] = best
					if training {
						p.argmax[out] = bestIdx
					}
				}
			}
		}
	}
	return y
}

func (p *MaxPool2D) Backward(grad *Tensor) *Tensor {
	gx := NewTensor(p.inShape...)
	for i, src := range p.argmax {
		gx.Data[src] += grad.Data[i]
	}
	return gx
}
