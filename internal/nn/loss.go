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

import "math"

// SoftmaxCrossEntropy computes the mean cross entropy of a batch of logits
// against integer class labels, along with the gradient with respect to the
// logits. Logits are shifted by their row maximum for numeric stability.
func SoftmaxCrossEntropy(logits *Tensor, labels []int) (float64, *Tensor) {
	batch, classes := logits.Shape[0], logits.Shape[1]
	grad := NewTensor(batch, classes)

	loss := 0.0
	for i := 0; i < batch; i++ {
		row := logits.Data[i*classes : (i+1)*classes]
		grow := grad.Data[i*classes : (i+1)*classes]

		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}

		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - max)
			grow[j] = e
			sum += e
		}

		label := labels[i]
		loss += math.Log(sum) - (row[label] - max)
		for j := range grow {
			grow[j] /= sum * float64(batch)
		}
		grow[label] -= 1 / float64(batch)
	}

	return loss / float64(batch), grad
}

// CountCorrect returns the number of rows whose argmax matches the label.
func CountCorrect(logits *Tensor, labels []int) int {
	batch, classes := logits.Shape[0], logits.Shape[1]
	correct := 0
	for i := 0; i < batch; i++ {
		row := logits.Data[i*classes : (i+1)*classes]
		pred := 0
		for j := 1; j < classes; j++ {
			if row[j] > row[pred] {
				pred = j
			}
		}
		if pred == labels[i] {
			correct++
		}
	}
	return correct
}
