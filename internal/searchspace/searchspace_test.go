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

package searchspace

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
)

func newTestSpace(t *testing.T) *Space {
	space, err := New([]tunev1alpha1.Parameter{
		PowerOfTwo("l1", 2, 8),
		PowerOfTwo("l2", 2, 8),
		LogUniform("lr", 1e-4, 1e-1),
		ChoiceInts("batch_size", 2, 4, 8, 16),
	})
	require.NoError(t, err)
	return space
}

func TestSampleDomains(t *testing.T) {
	space := newTestSpace(t)
	rng := rand.New(rand.NewSource(42))

	powers := map[int]bool{4: true, 8: true, 16: true, 32: true, 64: true, 128: true, 256: true}
	batches := map[int]bool{2: true, 4: true, 8: true, 16: true}

	for i := 0; i < 500; i++ {
		a := space.Sample(rng)
		require.Len(t, a, 4)

		for _, name := range []string{"l1", "l2"} {
			v, err := a.Int(name)
			require.NoError(t, err)
			assert.True(t, powers[v], "%s=%d is not a power of two in [4,256]", name, v)
		}

		lr, err := a.Float64("lr")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, lr, 1e-4)
		assert.LessOrEqual(t, lr, 1e-1)

		b, err := a.Int("batch_size")
		require.NoError(t, err)
		assert.True(t, batches[b], "batch_size=%d is not an allowed choice", b)
	}
}

func TestSampleReproducible(t *testing.T) {
	space := newTestSpace(t)

	first := make([]tunev1alpha1.Assignments, 0, 20)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		first = append(first, space.Sample(rng))
	}

	rng = rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first[i], space.Sample(rng))
	}
}

func TestSampleFrom(t *testing.T) {
	space, err := New([]tunev1alpha1.Parameter{
		SampleFrom("momentum", func(rng *rand.Rand) json.Number {
			return "0.9"
		}),
	})
	require.NoError(t, err)

	a := space.Sample(rand.New(rand.NewSource(1)))
	v, err := a.Float64("momentum")
	require.NoError(t, err)
	assert.Equal(t, 0.9, v)
}

func TestNewRejectsInvalid(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]tunev1alpha1.Parameter{LogUniform("lr", 0, 1)})
	assert.Error(t, err)

	_, err = New([]tunev1alpha1.Parameter{PowerOfTwo("l1", 8, 2)})
	assert.Error(t, err)
}
