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

package trial

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
)

func TestRecordReport(t *testing.T) {
	tr := New(1, nil)

	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 2, Loss: 1.5}))
	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 1, Loss: 2.0}))
	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 3, Loss: 1.0}))

	item := tr.Snapshot()
	require.Len(t, item.Reports, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{item.Reports[0].Epoch, item.Reports[1].Epoch, item.Reports[2].Epoch})
}

func TestRecordReportReplacesEpoch(t *testing.T) {
	tr := New(1, nil)

	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 1, Loss: 2.0}))
	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 2, Loss: 1.8}))

	// A resumed run replays the same epoch, the series must not grow
	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 2, Loss: 1.7}))

	item := tr.Snapshot()
	require.Len(t, item.Reports, 2)
	assert.Equal(t, 1.7, item.Reports[1].Loss)
}

func TestRecordReportRejectsBadEpoch(t *testing.T) {
	tr := New(1, nil)
	assert.Error(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 0}))
	assert.Error(t, tr.RecordReport(tunev1alpha1.Report{Epoch: -1}))
}

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		desc     string
		mutate   func(*Trial)
		expected tunev1alpha1.TrialStatus
	}{
		{
			desc:     "staged",
			mutate:   func(tr *Trial) {},
			expected: tunev1alpha1.TrialStaged,
		},
		{
			desc:     "active",
			mutate:   func(tr *Trial) { tr.Start() },
			expected: tunev1alpha1.TrialActive,
		},
		{
			desc:     "completed",
			mutate:   func(tr *Trial) { tr.Start(); tr.Complete() },
			expected: tunev1alpha1.TrialCompleted,
		},
		{
			desc:     "stopped",
			mutate:   func(tr *Trial) { tr.Start(); tr.Stop() },
			expected: tunev1alpha1.TrialStopped,
		},
		{
			desc:     "failed",
			mutate:   func(tr *Trial) { tr.Start(); tr.Fail(errors.New("boom")) },
			expected: tunev1alpha1.TrialFailed,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			tr := New(1, nil)
			tc.mutate(tr)
			assert.Equal(t, tc.expected, tr.Snapshot().Status)
		})
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := New(2, tunev1alpha1.Assignments{{ParameterName: "lr", Value: "0.01"}})
	require.NoError(t, tr.RecordReport(tunev1alpha1.Report{Epoch: 1, Loss: 1.0}))

	item := tr.Snapshot()
	item.Reports[0].Loss = 99

	fresh := tr.Snapshot()
	assert.Equal(t, 1.0, fresh.Reports[0].Loss)
	assert.Equal(t, int64(2), fresh.Number)

	tr.Fail(errors.New("out of memory"))
	assert.Equal(t, "out of memory", tr.Snapshot().Failure)
}
