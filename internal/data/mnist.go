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
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049

	mnistSize    = 28
	mnistClasses = 10
)

// MNIST file names, with or without a .gz suffix.
const (
	mnistTrainImages = "train-images-idx3-ubyte"
	mnistTrainLabels = "train-labels-idx1-ubyte"
	mnistTestImages  = "t10k-images-idx3-ubyte"
	mnistTestLabels  = "t10k-labels-idx1-ubyte"
)

// LoadMNIST reads the IDX-format MNIST files from dir and returns the training
// and test sets with pixel values scaled to [0,1].
func LoadMNIST(dir string) (*Dataset, *Dataset, error) {
	train, err := loadIDXPair(dir, mnistTrainImages, mnistTrainLabels, "mnist")
	if err != nil {
		return nil, nil, err
	}
	test, err := loadIDXPair(dir, mnistTestImages, mnistTestLabels, "mnist/test")
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func loadIDXPair(dir, imagesName, labelsName, datasetName string) (*Dataset, error) {
	samples, height, width, err := readIDXImages(filepath.Join(dir, imagesName))
	if err != nil {
		return nil, err
	}
	labels, err := readIDXLabels(filepath.Join(dir, labelsName))
	if err != nil {
		return nil, err
	}
	return New(datasetName, []int{height, width, 1}, mnistClasses, samples, labels)
}

// openIDX opens an IDX file, transparently handling gzip compression.
func openIDX(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		f, err = os.Open(path + ".gz")
	}
	if err != nil {
		return nil, fmt.Errorf("dataset file unavailable: %w", err)
	}

	if strings.HasSuffix(f.Name(), ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("dataset file %s is not valid gzip: %w", f.Name(), err)
		}
		return &gzipReadCloser{zr: zr, f: f}, nil
	}
	return f, nil
}

type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	if err := g.zr.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

func readIDXImages(path string) ([][]float64, int, int, error) {
	r, err := openIDX(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer r.Close()

	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("short IDX header in %s: %w", path, err)
		}
	}
	if header[0] != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("%s is not an IDX image file (magic %d)", path, header[0])
	}

	count, height, width := int(header[1]), int(header[2]), int(header[3])
	raw := make([]byte, height*width)
	samples := make([][]float64, count)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, 0, 0, fmt.Errorf("truncated IDX image file %s: %w", path, err)
		}
		pixels := make([]float64, len(raw))
		for j, b := range raw {
			pixels[j] = float64(b) / 255
		}
		samples[i] = pixels
	}
	return samples, height, width, nil
}

func readIDXLabels(path string) ([]int, error) {
	r, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var header [2]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("short IDX header in %s: %w", path, err)
		}
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("%s is not an IDX label file (magic %d)", path, header[0])
	}

	raw := make([]byte, int(header[1]))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("truncated IDX label file %s: %w", path, err)
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}
