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

// Package nn is a small CPU backend for training feed-forward and convolutional
// classifiers. There is no ambient device or global generator: all randomness
// enters through explicit *rand.Rand values and all state lives in the network
// and optimizer instances.
package nn

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense row-major array of float64 values.
type Tensor struct {
	Data  []float64
	Shape []int
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Tensor{
		Data:  make([]float64, size),
		Shape: append([]int(nil), shape...),
	}
}

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Reshape returns a tensor sharing this tensor's data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	size := 1
	for _, s := range shape {
		size *= s
	}
	if size != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)", t.Shape, len(t.Data), shape, size)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// FillUniform fills the tensor with samples from U(-bound, bound).
func (t *Tensor) FillUniform(bound float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}

// Zero resets every element.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Param is a named trainable tensor paired with its gradient buffer.
type Param struct {
	Name  string
	Value *Tensor
	Grad  *Tensor
}
