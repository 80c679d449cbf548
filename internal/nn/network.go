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

import "fmt"

// Network is an ordered sequence of layers trained end to end.
type Network struct {
	layers []Layer
}

// Sequential builds a network from the supplied layers.
func Sequential(layers ...Layer) *Network {
	return &Network{layers: layers}
}

// Forward runs the input through every layer. When training is true the layers
// retain the activation state needed by Backward.
func (n *Network) Forward(x *Tensor, training bool) *Tensor {
	for _, l := range n.layers {
		x = l.Forward(x, training)
	}
	return x
}

// Backward propagates the loss gradient through every layer in reverse,
// accumulating parameter gradients as it goes.
func (n *Network) Backward(grad *Tensor) {
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].Backward(grad)
	}
}

// Params returns every trainable parameter with layer-qualified names.
func (n *Network) Params() []Param {
	var params []Param
	for _, l := range n.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// WeightTensor is a serializable copy of one named parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Weights exports a deep copy of all parameters.
func (n *Network) Weights() []WeightTensor {
	params := n.Params()
	out := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		out = append(out, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  append([]float64(nil), p.Value.Data...),
		})
	}
	return out
}

// LoadWeights restores parameters by name, requiring an exact match between
// the supplied tensors and the network's parameters.
func (n *Network) LoadWeights(weights []WeightTensor) error {
	byName := make(map[string]*WeightTensor, len(weights))
	for i := range weights {
		byName[weights[i].Name] = &weights[i]
	}

	params := n.Params()
	if len(params) != len(weights) {
		return fmt.Errorf("weight count mismatch: network has %d parameters, snapshot has %d", len(params), len(weights))
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("snapshot is missing parameter %q", p.Name)
		}
		if len(w.Data) != p.Value.Size() {
			return fmt.Errorf("parameter %q has %d values, expected %d", p.Name, len(w.Data), p.Value.Size())
		}
		copy(p.Value.Data, w.Data)
	}
	return nil
}
