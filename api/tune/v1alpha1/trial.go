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
	"fmt"
	"strconv"
)

type Assignment struct {
	// The name of the parameter in the study the assignment corresponds to.
	ParameterName string `json:"parameterName"`
	// The assigned value of the parameter.
	Value json.Number `json:"value"`
}

// Assignments is one sampled configuration, immutable once produced by the sampler.
type Assignments []Assignment

// Float64 returns a parameter value as a float.
func (a Assignments) Float64(name string) (float64, error) {
	v, err := a.lookup(name)
	if err != nil {
		return 0, err
	}
	f, err := v.Float64()
	if err != nil {
		return 0, fmt.Errorf("assignment %q is not a float: %w", name, err)
	}
	return f, nil
}

// Int returns a parameter value as an integer.
func (a Assignments) Int(name string) (int, error) {
	v, err := a.lookup(name)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("assignment %q is not an integer: %w", name, err)
	}
	return int(i), nil
}

func (a Assignments) lookup(name string) (json.Number, error) {
	for i := range a {
		if a[i].ParameterName == name {
			return a[i].Value, nil
		}
	}
	return "", fmt.Errorf("no assignment for parameter %q", name)
}

// String renders the assignments in submission order.
func (a Assignments) String() string {
	s := "{"
	for i := range a {
		if i > 0 {
			s += ", "
		}
		s += a[i].ParameterName + "=" + a[i].Value.String()
	}
	return s + "}"
}

// Report is the per-epoch measurement emitted by the training loop.
type Report struct {
	// The one-based epoch (training iteration) the report corresponds to.
	Epoch int `json:"epoch"`
	// The mean validation loss over the epoch.
	Loss float64 `json:"loss"`
	// The fraction of validation samples classified correctly.
	Accuracy float64 `json:"accuracy"`
}

// Value returns the named metric from this report.
func (r Report) Value(metric string) (float64, bool) {
	switch metric {
	case MetricLoss:
		return r.Loss, true
	case MetricAccuracy:
		return r.Accuracy, true
	}
	return 0, false
}

type TrialStatus string

const (
	TrialStaged    TrialStatus = "staged"
	TrialActive    TrialStatus = "active"
	TrialCompleted TrialStatus = "completed"
	TrialStopped   TrialStatus = "stopped"
	TrialFailed    TrialStatus = "failed"
)

// TrialItem is the record of one training run under one sampled configuration.
type TrialItem struct {
	// Ordinal number indicating when during a study the trial was submitted.
	Number int64 `json:"number"`
	// The sampled configuration driving the trial.
	Assignments Assignments `json:"assignments"`
	// The current trial status.
	Status TrialStatus `json:"status"`
	// The per-epoch reports, ordered by epoch with no duplicates.
	Reports []Report `json:"reports,omitempty"`
	// Failure is the error message of a failed trial, Reports are ignored when set.
	Failure string `json:"failure,omitempty"`
}

// LastReport returns the most recent report, if any.
func (t *TrialItem) LastReport() (Report, bool) {
	if len(t.Reports) == 0 {
		return Report{}, false
	}
	return t.Reports[len(t.Reports)-1], true
}
