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
	"fmt"
	"math"

	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
)

// Result is the outcome of a study: every trial that ran, successfully or not.
type Result struct {
	// Trials in submission order.
	Trials []tunev1alpha1.TrialItem `json:"trials"`
	// GracePeriod is the scheduler's minimum epoch count; trials cancelled
	// before reaching it never qualify as best.
	GracePeriod int `json:"gracePeriod,omitempty"`
}

// Best selects the trial with the best last-reported value of the named
// metric. Failed trials and trials stopped before the grace period are not
// eligible. Ties are broken by the earliest submitted trial, making selection
// deterministic for a fixed set of reports.
func (r *Result) Best(metric string, minimize bool) (*tunev1alpha1.TrialItem, error) {
	var best *tunev1alpha1.TrialItem
	bestValue := 0.0

	for i := range r.Trials {
		t := &r.Trials[i]
		if !r.eligible(t) {
			continue
		}

		last, _ := t.LastReport()
		value, ok := last.Value(metric)
		if !ok || math.IsNaN(value) {
			continue
		}

		if best == nil || (minimize && value < bestValue) || (!minimize && value > bestValue) {
			best = t
			bestValue = value
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no trial is eligible for selection by %q", metric)
	}
	return best, nil
}

func (r *Result) eligible(t *tunev1alpha1.TrialItem) bool {
	last, ok := t.LastReport()
	if !ok {
		return false
	}

	switch t.Status {
	case tunev1alpha1.TrialCompleted:
		return true
	case tunev1alpha1.TrialStopped:
		// A partial result only counts once the grace period has elapsed
		return last.Epoch >= r.GracePeriod
	}
	return false
}
