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

package v1alpha1

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestStudyDefault(t *testing.T) {
	s := &Study{}
	s.Default()

	assert.Equal(t, []Metric{{Name: MetricLoss, Minimize: true}}, s.Metrics)
	assert.Equal(t, 10, s.TrialBudget)
	assert.Equal(t, 10, s.EpochBudget)
	assert.Equal(t, 1, s.Scheduler.GracePeriod)
	assert.Equal(t, 2, s.Scheduler.ReductionFactor)
	assert.Equal(t, 1, s.Resources.CPUsPerTrial)
}

func TestStudyValidate(t *testing.T) {
	valid := func() *Study {
		s := &Study{
			Parameters: []Parameter{
				{Name: "lr", Type: ParameterTypeLogUniform, Bounds: &Bounds{Min: "0.0001", Max: "0.1"}},
				{Name: "batch_size", Type: ParameterTypeChoice, Values: []json.Number{"2", "4", "8"}},
			},
		}
		s.Default()
		return s
	}

	testCases := []struct {
		desc    string
		mutate  func(*Study)
		message string
	}{
		{
			desc:   "valid",
			mutate: func(s *Study) {},
		},
		{
			desc:    "no parameters",
			mutate:  func(s *Study) { s.Parameters = nil },
			message: "at least one parameter",
		},
		{
			desc:    "duplicate parameter name",
			mutate:  func(s *Study) { s.Parameters[1].Name = "lr" },
			message: "duplicate",
		},
		{
			desc:    "empty parameter name",
			mutate:  func(s *Study) { s.Parameters[0].Name = "" },
			message: "name",
		},
		{
			desc:    "inverted bounds",
			mutate:  func(s *Study) { s.Parameters[0].Bounds = &Bounds{Min: "0.1", Max: "0.0001"} },
			message: "bounds",
		},
		{
			desc:    "log uniform with non-positive minimum",
			mutate:  func(s *Study) { s.Parameters[0].Bounds = &Bounds{Min: "0", Max: "0.1"} },
			message: "positive",
		},
		{
			desc:    "choice without values",
			mutate:  func(s *Study) { s.Parameters[1].Values = nil },
			message: "value set",
		},
		{
			desc:    "negative trial budget",
			mutate:  func(s *Study) { s.TrialBudget = -1 },
			message: "trial budget",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			s := valid()
			tc.mutate(s)
			err := s.Validate()
			if tc.message == "" {
				assert.NoError(t, err)
			} else if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.message)
			}
		})
	}
}

func TestStudyYAML(t *testing.T) {
	doc := `
displayName: image-classifier
parameters:
- name: l1
  type: powerOfTwo
  bounds: {min: 2, max: 8}
- name: lr
  type: logUniform
  bounds: {min: 0.0001, max: 0.1}
- name: batch_size
  type: choice
  values: [2, 4, 8, 16]
trialBudget: 6
epochBudget: 4
scheduler:
  gracePeriod: 1
  reductionFactor: 2
`
	s := &Study{}
	require.NoError(t, yaml.UnmarshalStrict([]byte(doc), s))
	s.Default()
	require.NoError(t, s.Validate())

	assert.Equal(t, "image-classifier", s.DisplayName)
	assert.Len(t, s.Parameters, 3)
	assert.Equal(t, 6, s.TrialBudget)
	assert.Equal(t, 4, s.EpochBudget)

	min, max, err := s.Parameters[1].FloatBounds()
	require.NoError(t, err)
	assert.Equal(t, 0.0001, min)
	assert.Equal(t, 0.1, max)

	lo, hi, err := s.Parameters[0].IntBounds()
	require.NoError(t, err)
	assert.Equal(t, int64(2), lo)
	assert.Equal(t, int64(8), hi)
}
