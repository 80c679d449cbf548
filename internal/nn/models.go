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
	"math/rand"
)

// FullyConnected builds a classifier of dense layers with ReLU activations
// between them: inputDim -> hidden... -> classes.
func FullyConnected(rng *rand.Rand, inputDim, classes int, hidden ...int) (*Network, error) {
	if inputDim < 1 || classes < 2 {
		return nil, fmt.Errorf("invalid fully connected dimensions (input %d, classes %d)", inputDim, classes)
	}

	layers := []Layer{NewFlatten("flatten")}
	in := inputDim
	for i, h := range hidden {
		if h < 1 {
			return nil, fmt.Errorf("hidden layer %d has invalid width %d", i+1, h)
		}
		name := fmt.Sprintf("fc%d", i+1)
		layers = append(layers, NewDense(name, in, h, rng), NewReLU(name+".relu"))
		in = h
	}
	layers = append(layers, NewDense(fmt.Sprintf("fc%d", len(hidden)+1), in, classes, rng))
	return Sequential(layers...), nil
}

// ConvNet builds the convolutional classifier family used for image search
// studies: two 5x5 convolution/pool stages followed by three dense layers with
// configurable widths l1 and l2.
func ConvNet(rng *rand.Rand, height, width, channels, l1, l2, classes int) (*Network, error) {
	if l1 < 1 || l2 < 1 {
		return nil, fmt.Errorf("invalid dense widths (l1 %d, l2 %d)", l1, l2)
	}

	h, w := height-4, width-4 // conv1, 5x5 valid
	h, w = h/2, w/2           // pool1
	h, w = h-4, w-4           // conv2
	h, w = h/2, w/2           // pool2
	if h < 1 || w < 1 {
		return nil, fmt.Errorf("input %dx%d is too small for the convolutional stack", height, width)
	}

	return Sequential(
		NewConv2D("conv1", channels, 6, 5, rng),
		NewReLU("conv1.relu"),
		NewMaxPool2D("pool1"),
		NewConv2D("conv2", 6, 16, 5, rng),
		NewReLU("conv2.relu"),
		NewMaxPool2D("pool2"),
		NewFlatten("flatten"),
		NewDense("fc1", h*w*16, l1, rng),
		NewReLU("fc1.relu"),
		NewDense("fc2", l1, l2, rng),
		NewReLU("fc2.relu"),
		NewDense("fc3", l2, classes, rng),
	), nil
}
