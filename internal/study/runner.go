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

// Package study drives a hyperparameter search: it samples one configuration
// per trial from the search space, runs the trials on a bounded worker pool
// and aggregates their outcomes into a queryable result.
package study

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/internal/searchspace"
	"github.com/thestormforge/tune-controller/internal/telemetry"
	"github.com/thestormforge/tune-controller/internal/training"
	"github.com/thestormforge/tune-controller/internal/trial"
)

// TrainFunc executes one trial to completion, reporting each epoch through the
// supplied scheduler. A returned error marks the trial failed without
// aborting the rest of the study.
type TrainFunc func(ctx context.Context, t *trial.Trial, sched training.Scheduler) error

// Options configure a study runner.
type Options struct {
	// Study is the defaulted, validated study definition. Required.
	Study *tunev1alpha1.Study
	// Space is the sampler for the study's parameters. Required.
	Space *searchspace.Space
	// Scheduler applies the early stopping policy across trials. Required.
	Scheduler training.Scheduler
	// Train runs a single trial. Required.
	Train TrainFunc
	// Seed drives configuration sampling.
	Seed int64
	// Parallelism bounds the number of concurrently running trials. Zero
	// derives the bound from the study's per-trial CPU request.
	Parallelism int
	// OnReport observes every report after the scheduler has seen it.
	OnReport func(trialNumber int64, r tunev1alpha1.Report)
	// Telemetry optionally instruments the run.
	Telemetry *telemetry.Telemetry
	// Log receives trial lifecycle events.
	Log logr.Logger
}

// Runner runs all trials of a study.
type Runner struct {
	Options
}

// NewRunner validates the options and returns a runner.
func NewRunner(o Options) (*Runner, error) {
	if o.Study == nil || o.Space == nil || o.Scheduler == nil || o.Train == nil {
		return nil, fmt.Errorf("study runner requires a study, space, scheduler and train function")
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU() / o.Study.Resources.CPUsPerTrial
		if o.Parallelism < 1 {
			o.Parallelism = 1
		}
	}
	return &Runner{Options: o}, nil
}

// Run samples and executes every trial in the study's budget. Trials run fully
// in parallel up to the resource bound; the only state shared between them is
// the scheduler's bookkeeping. Run returns an error only when the study itself
// is unusable (context cancelled or every single trial failed), individual
// trial failures are recorded on the result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	rng := rand.New(rand.NewSource(r.Seed))

	// Sample all configurations up front so the sequence is a deterministic
	// function of the study seed regardless of worker interleaving.
	trials := make([]*trial.Trial, r.Study.TrialBudget)
	for i := range trials {
		trials[i] = trial.New(int64(i+1), r.Space.Sample(rng))
	}

	sched := &observedScheduler{
		Scheduler: r.Scheduler,
		onReport:  r.OnReport,
		telemetry: r.Telemetry,
	}

	jobs := make(chan *trial.Trial)
	var wg sync.WaitGroup
	for w := 0; w < r.Parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				r.runTrial(ctx, t, sched)
			}
		}()
	}

	for _, t := range trials {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	result := &Result{GracePeriod: r.Study.Scheduler.GracePeriod}
	failed := 0
	for _, t := range trials {
		item := t.Snapshot()
		if item.Status == tunev1alpha1.TrialFailed {
			failed++
		}
		result.Trials = append(result.Trials, item)
	}
	sort.Slice(result.Trials, func(i, j int) bool { return result.Trials[i].Number < result.Trials[j].Number })

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if failed == len(result.Trials) && failed > 0 {
		return result, fmt.Errorf("all %d trials failed", failed)
	}
	return result, nil
}

func (r *Runner) runTrial(ctx context.Context, t *trial.Trial, sched training.Scheduler) {
	r.Log.Info("starting trial", "trial", t.Number(), "assignments", t.Assignments().String())
	r.Telemetry.TrialStarted()

	err := r.Train(ctx, t, sched)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// Per-trial runtime errors fail the owning trial only
		r.Log.Error(err, "trial failed", "trial", t.Number())
		t.Fail(err)
	}

	item := t.Snapshot()
	r.Telemetry.TrialFinished(string(item.Status))
	r.Log.Info("trial finished", "trial", t.Number(), "status", item.Status)
}

// observedScheduler fans reports out to the wrapped scheduler, the report
// observer and the telemetry collectors.
type observedScheduler struct {
	training.Scheduler
	onReport  func(trialNumber int64, r tunev1alpha1.Report)
	telemetry *telemetry.Telemetry
}

func (s *observedScheduler) Report(trialNumber int64, r tunev1alpha1.Report) error {
	if err := s.Scheduler.Report(trialNumber, r); err != nil {
		return err
	}
	s.telemetry.EpochReported()
	if s.onReport != nil {
		s.onReport(trialNumber, r)
	}
	return nil
}
