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

package study

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/internal/scheduler"
	"github.com/thestormforge/tune-controller/internal/searchspace"
	"github.com/thestormforge/tune-controller/internal/training"
	"github.com/thestormforge/tune-controller/internal/trial"
)

func testStudy(budget, epochs int) *tunev1alpha1.Study {
	s := &tunev1alpha1.Study{
		Parameters: []tunev1alpha1.Parameter{
			searchspace.LogUniform("lr", 1e-4, 1e-1),
		},
		TrialBudget: budget,
		EpochBudget: epochs,
	}
	s.Default()
	return s
}

func testScheduler(t *testing.T, s *tunev1alpha1.Study) *scheduler.ASHA {
	t.Helper()
	asha, err := scheduler.New(scheduler.Options{
		Metric:          tunev1alpha1.MetricLoss,
		Minimize:        true,
		GracePeriod:     s.Scheduler.GracePeriod,
		ReductionFactor: s.Scheduler.ReductionFactor,
		MaxEpochs:       s.EpochBudget,
	})
	require.NoError(t, err)
	return asha
}

// fakeTrain mimics the training loop contract without any actual training:
// the reported loss is the trial's sampled learning rate, constant over epochs.
func fakeTrain(epochs int) TrainFunc {
	return func(ctx context.Context, t *trial.Trial, sched training.Scheduler) error {
		lr, err := t.Assignments().Float64("lr")
		if err != nil {
			return err
		}

		t.Start()
		for epoch := 1; epoch <= epochs; epoch++ {
			r := tunev1alpha1.Report{Epoch: epoch, Loss: lr, Accuracy: 1 - lr}
			if err := t.RecordReport(r); err != nil {
				return err
			}
			if err := sched.Report(t.Number(), r); err != nil {
				return err
			}
			if sched.ShouldStop(t.Number()) {
				t.Stop()
				return nil
			}
		}
		t.Complete()
		return nil
	}
}

func TestRunnerSelectsBestTrial(t *testing.T) {
	s := testStudy(8, 4)
	runner, err := NewRunner(Options{
		Study:       s,
		Space:       mustSpace(t, s),
		Scheduler:   testScheduler(t, s),
		Train:       fakeTrain(s.EpochBudget),
		Seed:        17,
		Parallelism: 4,
		Log:         logr.Discard(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Trials, 8)

	// Trials come back in submission order regardless of completion order
	for i, item := range result.Trials {
		assert.Equal(t, int64(i+1), item.Number)
	}

	// The lowest sampled learning rate is never below any rung cutoff, so it
	// must survive to the full budget and win selection.
	lowest := 1.0
	var lowestNumber int64
	for _, item := range result.Trials {
		lr, err := item.Assignments.Float64("lr")
		require.NoError(t, err)
		if lr < lowest {
			lowest = lr
			lowestNumber = item.Number
		}
	}

	best, err := result.Best(tunev1alpha1.MetricLoss, true)
	require.NoError(t, err)
	assert.Equal(t, lowestNumber, best.Number)
	assert.Equal(t, tunev1alpha1.TrialCompleted, best.Status)
	require.Len(t, best.Reports, s.EpochBudget)
}

func TestRunnerSamplingIsSeedDeterministic(t *testing.T) {
	run := func() *Result {
		s := testStudy(5, 2)
		runner, err := NewRunner(Options{
			Study:       s,
			Space:       mustSpace(t, s),
			Scheduler:   testScheduler(t, s),
			Train:       fakeTrain(s.EpochBudget),
			Seed:        23,
			Parallelism: 3,
			Log:         logr.Discard(),
		})
		require.NoError(t, err)
		result, err := runner.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	a, b := run(), run()
	require.Len(t, b.Trials, 5)
	for i := range a.Trials {
		assert.Equal(t, a.Trials[i].Assignments, b.Trials[i].Assignments)
	}
}

func TestRunnerIsolatesTrialFailures(t *testing.T) {
	s := testStudy(4, 2)
	inner := fakeTrain(s.EpochBudget)
	runner, err := NewRunner(Options{
		Study:     s,
		Space:     mustSpace(t, s),
		Scheduler: testScheduler(t, s),
		Train: func(ctx context.Context, tr *trial.Trial, sched training.Scheduler) error {
			if tr.Number() == 2 {
				return fmt.Errorf("out of memory")
			}
			return inner(ctx, tr, sched)
		},
		Seed:        5,
		Parallelism: 2,
		Log:         logr.Discard(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tunev1alpha1.TrialFailed, result.Trials[1].Status)
	assert.Equal(t, "out of memory", result.Trials[1].Failure)

	best, err := result.Best(tunev1alpha1.MetricLoss, true)
	require.NoError(t, err)
	assert.NotEqual(t, int64(2), best.Number)
}

func TestRunnerAllTrialsFailed(t *testing.T) {
	s := testStudy(3, 2)
	runner, err := NewRunner(Options{
		Study:     s,
		Space:     mustSpace(t, s),
		Scheduler: testScheduler(t, s),
		Train: func(ctx context.Context, tr *trial.Trial, sched training.Scheduler) error {
			return fmt.Errorf("boom")
		},
		Seed:        5,
		Parallelism: 2,
		Log:         logr.Discard(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background())
	assert.Error(t, err)
	require.Len(t, result.Trials, 3)
}

func TestRunnerObservesReports(t *testing.T) {
	s := testStudy(3, 2)

	var mu sync.Mutex
	observed := make(map[int64]int)

	runner, err := NewRunner(Options{
		Study:     s,
		Space:     mustSpace(t, s),
		Scheduler: testScheduler(t, s),
		Train:     fakeTrain(s.EpochBudget),
		Seed:      31,
		OnReport: func(trialNumber int64, r tunev1alpha1.Report) {
			mu.Lock()
			observed[trialNumber]++
			mu.Unlock()
		},
		Parallelism: 1,
		Log:         logr.Discard(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	for _, item := range result.Trials {
		assert.Equal(t, len(item.Reports), observed[item.Number], "trial %d", item.Number)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	s := testStudy(1, 1)
	_, err := NewRunner(Options{Space: mustSpace(t, s), Scheduler: testScheduler(t, s), Train: fakeTrain(1)})
	assert.Error(t, err)

	_, err = NewRunner(Options{Study: s, Scheduler: testScheduler(t, s), Train: fakeTrain(1)})
	assert.Error(t, err)

	_, err = NewRunner(Options{Study: s, Space: mustSpace(t, s), Train: fakeTrain(1)})
	assert.Error(t, err)

	_, err = NewRunner(Options{Study: s, Space: mustSpace(t, s), Scheduler: testScheduler(t, s)})
	assert.Error(t, err)
}

func mustSpace(t *testing.T, s *tunev1alpha1.Study) *searchspace.Space {
	t.Helper()
	space, err := searchspace.New(s.Parameters)
	require.NoError(t, err)
	return space
}
