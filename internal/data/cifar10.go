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
	"io"
	"os"
	"path/filepath"
)

const (
	cifarSize     = 32
	cifarChannels = 3
	cifarClasses  = 10
	// One record is a label byte followed by a 32x32 image in planar RGB order.
	cifarRecord = 1 + cifarSize*cifarSize*cifarChannels
)

// LoadCIFAR10 reads the CIFAR-10 binary batches from dir (the standard
// cifar-10-batches-bin layout) and returns the training and test sets. Pixels
// are normalized to [-1,1], matching a mean/std 0.5 transform.
func LoadCIFAR10(dir string) (*Dataset, *Dataset, error) {
	var trainFiles []string
	for i := 1; i <= 5; i++ {
		trainFiles = append(trainFiles, filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
	}

	trainSamples, trainLabels, err := readCIFARBatches(trainFiles)
	if err != nil {
		return nil, nil, err
	}
	testSamples, testLabels, err := readCIFARBatches([]string{filepath.Join(dir, "test_batch.bin")})
	if err != nil {
		return nil, nil, err
	}

	shape := []int{cifarSize, cifarSize, cifarChannels}
	train, err := New("cifar10", shape, cifarClasses, trainSamples, trainLabels)
	if err != nil {
		return nil, nil, err
	}
	test, err := New("cifar10/test", shape, cifarClasses, testSamples, testLabels)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func readCIFARBatches(paths []string) ([][]float64, []int, error) {
	var samples [][]float64
	var labels []int

	record := make([]byte, cifarRecord)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset file unavailable: %w", err)
		}

		for {
			_, err := io.ReadFull(f, record)
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return nil, nil, fmt.Errorf("truncated CIFAR batch %s: %w", path, err)
			}

			labels = append(labels, int(record[0]))
			samples = append(samples, cifarPixels(record[1:]))
		}
		f.Close()
	}
	return samples, labels, nil
}

// cifarPixels converts one planar RGB record to interleaved HWC order.
func cifarPixels(raw []byte) []float64 {
	pixels := make([]float64, cifarSize*cifarSize*cifarChannels)
	plane := cifarSize * cifarSize
	for c := 0; c < cifarChannels; c++ {
		for i := 0; i < plane; i++ {
			v := float64(raw[c*plane+i])/255 - 0.5
			pixels[i*cifarChannels+c] = v / 0.5
		}
	}
	return pixels
}
