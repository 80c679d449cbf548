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

package data

import (
	"fmt"
	"math/rand"
)

// Synthetic generates a Gaussian blob classification problem: one cluster
// center per class, samples normally distributed around their center. The
// dataset is a pure function of the seed, which keeps studies and tests
// reproducible without any files on disk.
func Synthetic(classes, samplesPerClass, dim int, seed int64) (*Dataset, error) {
	if classes < 2 || samplesPerClass < 1 || dim < 1 {
		return nil, fmt.Errorf("invalid synthetic dataset shape (classes %d, samples %d, dim %d)", classes, samplesPerClass, dim)
	}

	rng := rand.New(rand.NewSource(seed))

	centers := make([][]float64, classes)
	for c := range centers {
		center := make([]float64, dim)
		for i := range center {
			center[i] = rng.Float64()*4 - 2
		}
		centers[c] = center
	}

	n := classes * samplesPerClass
	samples := make([][]float64, 0, n)
	labels := make([]int, 0, n)
	for c := 0; c < classes; c++ {
		for s := 0; s < samplesPerClass; s++ {
			sample := make([]float64, dim)
			for i := range sample {
				sample[i] = centers[c][i] + rng.NormFloat64()*0.5
			}
			samples = append(samples, sample)
			labels = append(labels, c)
		}
	}

	// Interleave the classes so contiguous splits stay balanced
	rng.Shuffle(n, func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
		labels[i], labels[j] = labels[j], labels[i]
	})

	return New("synthetic", []int{dim}, classes, samples, labels)
}
