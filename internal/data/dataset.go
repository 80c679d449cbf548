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

// Package data loads the image classification datasets consumed by the
// training loop. Loading failures are unrecoverable setup errors: callers are
// expected to abort, not retry.
package data

import (
	"fmt"
	"math/rand"

	"github.com/thestormforge/tune-controller/internal/nn"
)

// Dataset is an in-memory labeled sample collection. Samples share a common
// shape (height, width, channels for images, a single dimension for flat data).
type Dataset struct {
	Name string
	// SampleShape is the shape of a single sample, without the batch dimension.
	SampleShape []int
	// Classes is the number of distinct labels.
	Classes int

	samples [][]float64
	labels  []int
}

// New assembles a dataset from raw samples. Every sample must match the shape.
func New(name string, sampleShape []int, classes int, samples [][]float64, labels []int) (*Dataset, error) {
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("dataset %s has %d samples but %d labels", name, len(samples), len(labels))
	}
	size := 1
	for _, s := range sampleShape {
		size *= s
	}
	for i := range samples {
		if len(samples[i]) != size {
			return nil, fmt.Errorf("dataset %s sample %d has %d values, expected %d", name, i, len(samples[i]), size)
		}
		if labels[i] < 0 || labels[i] >= classes {
			return nil, fmt.Errorf("dataset %s sample %d has label %d outside [0,%d)", name, i, labels[i], classes)
		}
	}
	return &Dataset{
		Name:        name,
		SampleShape: append([]int(nil), sampleShape...),
		Classes:     classes,
		samples:     samples,
		labels:      labels,
	}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.samples) }

// Label returns the label of sample i.
func (d *Dataset) Label(i int) int { return d.labels[i] }

// Batch assembles the samples at the given indices into a batch tensor and a
// parallel label slice.
func (d *Dataset) Batch(indices []int) (*nn.Tensor, []int) {
	shape := append([]int{len(indices)}, d.SampleShape...)
	x := nn.NewTensor(shape...)
	labels := make([]int, len(indices))

	size := len(d.samples[0])
	for i, idx := range indices {
		copy(x.Data[i*size:(i+1)*size], d.samples[idx])
		labels[i] = d.labels[idx]
	}
	return x, labels
}

// Batches partitions the dataset into index batches of the given size. When a
// random source is supplied the sample order is shuffled first; a nil source
// yields the deterministic identity order used for evaluation passes.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) [][]int {
	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var batches [][]int
	for start := 0; start < len(order); start += batchSize {
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

// Split partitions the dataset into two disjoint subsets, the first holding
// the given fraction. The split is a deterministic function of the seed.
func (d *Dataset) Split(fraction float64, seed int64) (*Dataset, *Dataset, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("split fraction must be in (0,1), got %v", fraction)
	}

	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	cut := int(float64(d.Len()) * fraction)
	return d.subset(d.Name+"/train", order[:cut]), d.subset(d.Name+"/validation", order[cut:]), nil
}

func (d *Dataset) subset(name string, indices []int) *Dataset {
	samples := make([][]float64, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		samples[i] = d.samples[idx]
		labels[i] = d.labels[idx]
	}
	return &Dataset{
		Name:        name,
		SampleShape: d.SampleShape,
		Classes:     d.Classes,
		samples:     samples,
		labels:      labels,
	}
}
