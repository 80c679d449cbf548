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

package training

import (
	"context"
	"math/rand"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/internal/checkpoint"
	"github.com/thestormforge/tune-controller/internal/data"
	"github.com/thestormforge/tune-controller/internal/nn"
	"github.com/thestormforge/tune-controller/internal/trial"
)

func testSplits(t *testing.T) (*data.Dataset, *data.Dataset) {
	t.Helper()
	full, err := data.Synthetic(3, 40, 4, 11)
	require.NoError(t, err)
	train, val, err := full.Split(0.8, 11)
	require.NoError(t, err)
	return train, val
}

func testNetwork(t *testing.T, initSeed int64) *nn.Network {
	t.Helper()
	network, err := nn.FullyConnected(rand.New(rand.NewSource(initSeed)), 4, 3, 8)
	require.NoError(t, err)
	return network
}

func runLoop(t *testing.T, o Options) {
	t.Helper()
	loop, err := NewLoop(o)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))
}

func TestRunReportsEveryEpoch(t *testing.T) {
	train, val := testSplits(t)
	tr := trial.New(1, nil)

	runLoop(t, Options{
		Trial:      tr,
		Network:    testNetwork(t, 1),
		Optimizer:  nn.NewSGD(0.05, 0.9),
		Train:      train,
		Validation: val,
		BatchSize:  8,
		MaxEpochs:  3,
		Seed:       21,
		Log:        logr.Discard(),
	})

	item := tr.Snapshot()
	assert.Equal(t, tunev1alpha1.TrialCompleted, item.Status)
	require.Len(t, item.Reports, 3)
	for i, r := range item.Reports {
		assert.Equal(t, i+1, r.Epoch)
		assert.GreaterOrEqual(t, r.Accuracy, 0.0)
		assert.LessOrEqual(t, r.Accuracy, 1.0)
	}
}

func TestResumeReproducesContinuousRun(t *testing.T) {
	train, val := testSplits(t)

	// Continuous run over the full epoch budget
	continuous := trial.New(1, nil)
	runLoop(t, Options{
		Trial:       continuous,
		Network:     testNetwork(t, 2),
		Optimizer:   nn.NewSGD(0.05, 0.9),
		Train:       train,
		Validation:  val,
		BatchSize:   8,
		MaxEpochs:   4,
		Seed:        33,
		Checkpoints: checkpoint.NewStore(t.TempDir(), 0),
		Log:         logr.Discard(),
	})

	// Interrupted run: two epochs, then resume into a freshly built network
	store := checkpoint.NewStore(t.TempDir(), 0)
	interrupted := trial.New(1, nil)
	runLoop(t, Options{
		Trial:       interrupted,
		Network:     testNetwork(t, 2),
		Optimizer:   nn.NewSGD(0.05, 0.9),
		Train:       train,
		Validation:  val,
		BatchSize:   8,
		MaxEpochs:   2,
		Seed:        33,
		Checkpoints: store,
		Log:         logr.Discard(),
	})

	// The restart deliberately uses a different initialization seed; resume
	// must overwrite every weight from the snapshot.
	runLoop(t, Options{
		Trial:       interrupted,
		Network:     testNetwork(t, 999),
		Optimizer:   nn.NewSGD(0.05, 0.9),
		Train:       train,
		Validation:  val,
		BatchSize:   8,
		MaxEpochs:   4,
		Seed:        33,
		Checkpoints: store,
		Resume:      true,
		Log:         logr.Discard(),
	})

	a := continuous.Snapshot()
	b := interrupted.Snapshot()
	require.Len(t, b.Reports, 4)
	for i := range a.Reports {
		assert.Equal(t, a.Reports[i].Epoch, b.Reports[i].Epoch)
		assert.InDelta(t, a.Reports[i].Loss, b.Reports[i].Loss, 1e-12)
		assert.InDelta(t, a.Reports[i].Accuracy, b.Reports[i].Accuracy, 1e-12)
	}
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	train, val := testSplits(t)

	loop, err := NewLoop(Options{
		Trial:       trial.New(1, nil),
		Network:     testNetwork(t, 3),
		Optimizer:   nn.NewSGD(0.05, 0.9),
		Train:       train,
		Validation:  val,
		BatchSize:   8,
		MaxEpochs:   2,
		Checkpoints: checkpoint.NewStore(t.TempDir(), 0),
		Resume:      true,
		Log:         logr.Discard(),
	})
	require.NoError(t, err)
	assert.Error(t, loop.Run(context.Background()))

	loop, err = NewLoop(Options{
		Trial:      trial.New(1, nil),
		Network:    testNetwork(t, 3),
		Optimizer:  nn.NewSGD(0.05, 0.9),
		Train:      train,
		Validation: val,
		BatchSize:  8,
		MaxEpochs:  2,
		Resume:     true,
		Log:        logr.Discard(),
	})
	require.NoError(t, err)
	assert.Error(t, loop.Run(context.Background()), "resume requires a store")
}

type stopAfter struct {
	epoch int
}

func (s *stopAfter) Report(trialNumber int64, r tunev1alpha1.Report) error { return nil }
func (s *stopAfter) ShouldStop(trialNumber int64) bool                     { return s.epoch > 0 }

func TestSchedulerStopsTrial(t *testing.T) {
	train, val := testSplits(t)
	tr := trial.New(1, nil)

	runLoop(t, Options{
		Trial:      tr,
		Network:    testNetwork(t, 4),
		Optimizer:  nn.NewSGD(0.05, 0.9),
		Train:      train,
		Validation: val,
		BatchSize:  8,
		MaxEpochs:  10,
		Scheduler:  &stopAfter{epoch: 1},
		Log:        logr.Discard(),
	})

	item := tr.Snapshot()
	assert.Equal(t, tunev1alpha1.TrialStopped, item.Status)
	assert.Len(t, item.Reports, 1, "stop is honored at the first epoch boundary")
}

func TestCancelledContextStopsTrial(t *testing.T) {
	train, val := testSplits(t)
	tr := trial.New(1, nil)

	loop, err := NewLoop(Options{
		Trial:      tr,
		Network:    testNetwork(t, 5),
		Optimizer:  nn.NewSGD(0.05, 0.9),
		Train:      train,
		Validation: val,
		BatchSize:  8,
		MaxEpochs:  10,
		Log:        logr.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
	assert.Equal(t, tunev1alpha1.TrialStopped, tr.Snapshot().Status)
}

func TestNewLoopValidation(t *testing.T) {
	train, val := testSplits(t)
	valid := Options{
		Trial:      trial.New(1, nil),
		Network:    testNetwork(t, 6),
		Optimizer:  nn.NewSGD(0.05, 0.9),
		Train:      train,
		Validation: val,
		BatchSize:  8,
		MaxEpochs:  1,
		Log:        logr.Discard(),
	}

	testCases := []struct {
		desc   string
		mutate func(*Options)
	}{
		{desc: "missing trial", mutate: func(o *Options) { o.Trial = nil }},
		{desc: "missing network", mutate: func(o *Options) { o.Network = nil }},
		{desc: "missing optimizer", mutate: func(o *Options) { o.Optimizer = nil }},
		{desc: "missing training split", mutate: func(o *Options) { o.Train = nil }},
		{desc: "missing validation split", mutate: func(o *Options) { o.Validation = nil }},
		{desc: "zero batch size", mutate: func(o *Options) { o.BatchSize = 0 }},
		{desc: "zero epoch budget", mutate: func(o *Options) { o.MaxEpochs = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			o := valid
			tc.mutate(&o)
			_, err := NewLoop(o)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	_, val := testSplits(t)
	network := testNetwork(t, 7)

	l1, a1 := Evaluate(network, val, 8)
	l2, a2 := Evaluate(network, val, 8)
	assert.Equal(t, l1, l2)
	assert.Equal(t, a1, a2)
}

func TestEpochSeedIsStable(t *testing.T) {
	assert.Equal(t, epochSeed(42, 1), epochSeed(42, 1))
	assert.NotEqual(t, epochSeed(42, 1), epochSeed(42, 2))
	assert.NotEqual(t, epochSeed(42, 1), epochSeed(43, 1))
}
