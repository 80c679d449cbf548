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

package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/internal/study"
)

func TestParseTrialConfig(t *testing.T) {
	cfg, err := parseTrialConfig(tunev1alpha1.Assignments{
		{ParameterName: "l1", Value: "64"},
		{ParameterName: "l2", Value: "16"},
		{ParameterName: "lr", Value: "0.003"},
		{ParameterName: "batch_size", Value: "8"},
	})
	require.NoError(t, err)
	assert.Equal(t, trialConfig{L1: 64, L2: 16, LearningRate: 0.003, BatchSize: 8}, cfg)
}

func TestParseTrialConfigErrors(t *testing.T) {
	testCases := []struct {
		desc        string
		assignments tunev1alpha1.Assignments
	}{
		{
			desc: "missing parameter",
			assignments: tunev1alpha1.Assignments{
				{ParameterName: "l1", Value: "64"},
				{ParameterName: "l2", Value: "16"},
				{ParameterName: "lr", Value: "0.003"},
			},
		},
		{
			desc: "wrong type",
			assignments: tunev1alpha1.Assignments{
				{ParameterName: "l1", Value: "64.5"},
				{ParameterName: "l2", Value: "16"},
				{ParameterName: "lr", Value: "0.003"},
				{ParameterName: "batch_size", Value: "8"},
			},
		},
		{
			desc: "non-positive learning rate",
			assignments: tunev1alpha1.Assignments{
				{ParameterName: "l1", Value: "64"},
				{ParameterName: "l2", Value: "16"},
				{ParameterName: "lr", Value: "0"},
				{ParameterName: "batch_size", Value: "8"},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := parseTrialConfig(tc.assignments)
			assert.Error(t, err)
		})
	}
}

func TestDefaultStudy(t *testing.T) {
	s := defaultStudy()
	s.Default()
	require.NoError(t, s.Validate())

	names := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"l1", "l2", "lr", "batch_size"}, names)
}

func TestTrialTableMeta(t *testing.T) {
	meta := &trialTableMeta{}
	result := &study.Result{
		Trials: []tunev1alpha1.TrialItem{
			{
				Number:      1,
				Status:      tunev1alpha1.TrialCompleted,
				Assignments: tunev1alpha1.Assignments{{ParameterName: "lr", Value: "0.01"}},
				Reports:     []tunev1alpha1.Report{{Epoch: 1, Loss: 2.0, Accuracy: 0.25}, {Epoch: 2, Loss: 1.5, Accuracy: 0.5}},
			},
			{Number: 2, Status: tunev1alpha1.TrialFailed, Failure: "boom"},
		},
	}

	rows, err := meta.ExtractList(result)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	_, err = meta.ExtractList("bogus")
	assert.Error(t, err)

	assert.Equal(t, []string{"number", "status", "loss", "accuracy", "epochs"}, meta.Columns(result, ""))
	assert.Contains(t, meta.Columns(result, "wide"), "assignments")
	assert.Equal(t, "LOSS", meta.Header("", "loss"))

	testCases := []struct {
		column   string
		expected string
	}{
		{column: "number", expected: "1"},
		{column: "loss", expected: "1.5000"},
		{column: "accuracy", expected: "0.5000"},
		{column: "epochs", expected: "2"},
		{column: "assignments", expected: "{lr=0.01}"},
	}
	for _, tc := range testCases {
		v, err := meta.ExtractValue(rows[0], tc.column)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, v, tc.column)
	}

	// Status values are colorized but always contain the raw status
	v, err := meta.ExtractValue(rows[1], "status")
	require.NoError(t, err)
	assert.Contains(t, v, "failed")

	// The failed trial has no reports to render
	v, err = meta.ExtractValue(rows[1], "loss")
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = meta.ExtractValue(rows[0], "bogus")
	assert.Error(t, err)
}

func TestProgressReporter(t *testing.T) {
	var out strings.Builder
	p := newProgressReporter(&out)

	p.Report(3, tunev1alpha1.Report{Epoch: 1, Loss: 2.5, Accuracy: 0.1})
	p.Report(3, tunev1alpha1.Report{Epoch: 2, Loss: 2.0, Accuracy: 0.2})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "one header and two rows")
	assert.Contains(t, lines[0], "loss")
	assert.Contains(t, lines[0], "accuracy")
	assert.Contains(t, lines[0], "training_iteration")
	assert.Contains(t, lines[1], "trial-0003")
	assert.Contains(t, lines[1], "2.5000")
}
