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

// Package scheduler implements asynchronous successive halving (ASHA) early
// stopping. Trials report once per epoch; at each rung the scheduler compares a
// trial's metric against the values reported by its peers at the same rung and
// stops trials that fall below the survival cutoff.
package scheduler

import (
	"fmt"
	"math"
	"sort"
	"sync"

	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
)

// Options configure an ASHA scheduler.
type Options struct {
	// Metric is the name of the reported metric driving stopping decisions.
	Metric string
	// Minimize indicates smaller metric values are better.
	Minimize bool
	// GracePeriod is the minimum number of epochs before a trial may be stopped.
	GracePeriod int
	// ReductionFactor controls how many trials survive each rung (1 in N).
	ReductionFactor int
	// MaxEpochs is the epoch budget of a single trial.
	MaxEpochs int
}

// ASHA aggregates reports from concurrently running trials. Each trial has a
// single writer, the scheduler serializes their bookkeeping under one mutex.
type ASHA struct {
	mu sync.Mutex

	metric    string
	minimize  bool
	grace     int
	reduction int
	rungs     []int
	recorded  map[int]map[int64]float64
	stopped   map[int64]bool
}

// New validates the options and returns an ASHA scheduler.
func New(o Options) (*ASHA, error) {
	if o.Metric == "" {
		return nil, fmt.Errorf("scheduler requires a metric name")
	}
	if o.GracePeriod < 1 {
		return nil, fmt.Errorf("grace period must be at least 1, got %d", o.GracePeriod)
	}
	if o.ReductionFactor < 2 {
		return nil, fmt.Errorf("reduction factor must be at least 2, got %d", o.ReductionFactor)
	}
	if o.MaxEpochs < o.GracePeriod {
		return nil, fmt.Errorf("epoch budget %d is below the grace period %d", o.MaxEpochs, o.GracePeriod)
	}

	s := &ASHA{
		metric:    o.Metric,
		minimize:  o.Minimize,
		grace:     o.GracePeriod,
		reduction: o.ReductionFactor,
		recorded:  make(map[int]map[int64]float64),
		stopped:   make(map[int64]bool),
	}
	for rung := o.GracePeriod; rung <= o.MaxEpochs; rung *= o.ReductionFactor {
		s.rungs = append(s.rungs, rung)
	}
	return s, nil
}

// Rungs returns the epochs at which stopping decisions are made.
func (s *ASHA) Rungs() []int {
	out := make([]int, len(s.rungs))
	copy(out, s.rungs)
	return out
}

// Report records a per-epoch measurement for a trial. If the epoch lands on a
// rung the trial is compared against its peers and may be marked for stopping.
func (s *ASHA) Report(trialNumber int64, r tunev1alpha1.Report) error {
	value, ok := r.Value(s.metric)
	if !ok {
		return fmt.Errorf("report for trial %d is missing metric %q", trialNumber, s.metric)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rung := -1
	for _, e := range s.rungs {
		if e == r.Epoch {
			rung = e
			break
		}
	}
	if rung < 0 {
		return nil
	}

	peers := s.recorded[rung]
	if peers == nil {
		peers = make(map[int64]float64)
		s.recorded[rung] = peers
	}
	peers[trialNumber] = value

	// A trial below the survival cutoff for its rung does not continue. NaN is
	// always treated as below the cutoff so diverged trials stop at the first rung.
	if math.IsNaN(value) || s.belowCutoff(peers, value) {
		s.stopped[trialNumber] = true
	}
	return nil
}

// belowCutoff reports whether value is strictly worse than the survival
// quantile of all values recorded at the rung so far.
func (s *ASHA) belowCutoff(peers map[int64]float64, value float64) bool {
	values := make([]float64, 0, len(peers))
	for _, v := range peers {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return false
	}

	sort.Float64s(values)

	// The cutoff is the (1/reduction) survival quantile: the best 1 in
	// "reduction" trials continue. Linear interpolation between order
	// statistics keeps the cutoff stable as peers trickle in.
	q := 1 / float64(s.reduction)
	if !s.minimize {
		q = 1 - q
	}
	cutoff := quantile(values, q)

	if s.minimize {
		return value > cutoff
	}
	return value < cutoff
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ShouldStop reports whether the trial has been cancelled by the scheduler.
// Trials poll this at epoch boundaries only; a trial is never stopped before
// its grace period has elapsed because no rung exists below the grace period.
func (s *ASHA) ShouldStop(trialNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[trialNumber]
}
