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

// Package trial maintains the mutable record of a single training run. The
// training loop is the only writer for a given trial; snapshots taken by other
// goroutines are safe and consistent.
package trial

import (
	"fmt"
	"sort"
	"sync"

	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
)

// Trial is one (configuration, training run) pair.
type Trial struct {
	mu sync.Mutex

	number      int64
	assignments tunev1alpha1.Assignments
	status      tunev1alpha1.TrialStatus
	reports     []tunev1alpha1.Report
	failure     string
}

// New creates a staged trial for the supplied configuration.
func New(number int64, assignments tunev1alpha1.Assignments) *Trial {
	return &Trial{
		number:      number,
		assignments: assignments,
		status:      tunev1alpha1.TrialStaged,
	}
}

// Number returns the trial's submission ordinal.
func (t *Trial) Number() int64 { return t.number }

// Assignments returns the sampled configuration owned by this trial.
func (t *Trial) Assignments() tunev1alpha1.Assignments { return t.assignments }

// Start marks the trial active.
func (t *Trial) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = tunev1alpha1.TrialActive
}

// Complete marks the trial as having exhausted its epoch budget.
func (t *Trial) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = tunev1alpha1.TrialCompleted
}

// Stop marks the trial as cancelled early by the scheduler.
func (t *Trial) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = tunev1alpha1.TrialStopped
}

// Fail marks the trial failed, recording the cause. A failed trial keeps its
// reports for inspection but is excluded from best-trial selection.
func (t *Trial) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = tunev1alpha1.TrialFailed
	if err != nil {
		t.failure = err.Error()
	}
}

// RecordReport appends a per-epoch report to the trial's metric series. The
// series is indexed by epoch: a later report for an already reported epoch
// replaces the previous value instead of appending a duplicate.
func (t *Trial) RecordReport(r tunev1alpha1.Report) error {
	if r.Epoch < 1 {
		return fmt.Errorf("trial %d: report epoch must be positive, got %d", t.number, r.Epoch)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.reports), func(i int) bool { return t.reports[i].Epoch >= r.Epoch })
	if i < len(t.reports) && t.reports[i].Epoch == r.Epoch {
		t.reports[i] = r
		return nil
	}

	t.reports = append(t.reports, tunev1alpha1.Report{})
	copy(t.reports[i+1:], t.reports[i:])
	t.reports[i] = r
	return nil
}

// LastReport returns the report with the highest epoch, if any.
func (t *Trial) LastReport() (tunev1alpha1.Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.reports) == 0 {
		return tunev1alpha1.Report{}, false
	}
	return t.reports[len(t.reports)-1], true
}

// Snapshot returns an immutable copy of the trial's current state.
func (t *Trial) Snapshot() tunev1alpha1.TrialItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := tunev1alpha1.TrialItem{
		Number:      t.number,
		Assignments: t.assignments,
		Status:      t.status,
		Failure:     t.failure,
	}
	if len(t.reports) > 0 {
		item.Reports = make([]tunev1alpha1.Report, len(t.reports))
		copy(item.Reports, t.reports)
	}
	return item
}
