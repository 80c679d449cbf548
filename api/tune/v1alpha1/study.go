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
	"math/rand"
)

// Well known metric names reported by the training loop.
const (
	MetricLoss     = "loss"
	MetricAccuracy = "accuracy"
)

type ParameterType string

const (
	// ParameterTypeChoice selects uniformly from an explicit list of values.
	ParameterTypeChoice ParameterType = "choice"
	// ParameterTypeLogUniform samples a float uniformly in log space between the bounds.
	ParameterTypeLogUniform ParameterType = "logUniform"
	// ParameterTypePowerOfTwo samples an integer exponent between the bounds and returns 2^e.
	ParameterTypePowerOfTwo ParameterType = "powerOfTwo"
	// ParameterTypeFunc delegates to a user supplied sampling function.
	ParameterTypeFunc ParameterType = "func"
)

type Bounds struct {
	// The minimum value for the parameter (inclusive).
	Min json.Number `json:"min"`
	// The maximum value for the parameter (inclusive).
	Max json.Number `json:"max"`
}

// Parameter is a single hyperparameter that is going to be tuned in a study.
type Parameter struct {
	// The name of the parameter.
	Name string `json:"name"`
	// The type of the sampling distribution.
	Type ParameterType `json:"type"`
	// The domain of the parameter for the "logUniform" and "powerOfTwo" types. For
	// "powerOfTwo" the bounds are the inclusive exponent range, not the values.
	Bounds *Bounds `json:"bounds,omitempty"`
	// The value set for the "choice" type.
	Values []json.Number `json:"values,omitempty"`
	// The sampling function for the "func" type. Cannot be expressed in a study file,
	// it is only available to programmatic callers.
	Sample func(rng *rand.Rand) json.Number `json:"-"`
}

type Metric struct {
	// The name of the metric.
	Name string `json:"name"`
	// The flag indicating this metric should be minimized.
	Minimize bool `json:"minimize,omitempty"`
}

// Scheduler configures the early stopping behavior of a study. The zero value is
// defaulted to a policy that never stops a trial before its second report.
type Scheduler struct {
	// The minimum number of epochs a trial must run before it can be stopped.
	GracePeriod int `json:"gracePeriod,omitempty"`
	// The halving rate: 1/reductionFactor trials survive each rung.
	ReductionFactor int `json:"reductionFactor,omitempty"`
}

// Resources declares the per-trial allocation requested once at study launch.
type Resources struct {
	// Number of CPUs dedicated to a single trial.
	CPUsPerTrial int `json:"cpusPerTrial,omitempty"`
}

// Study combines the search space, outcomes and optimization configuration.
type Study struct {
	// The display name of the study.
	DisplayName string `json:"displayName,omitempty"`
	// The search space of the study.
	Parameters []Parameter `json:"parameters"`
	// The metrics of the study, the first metric drives trial selection.
	Metrics []Metric `json:"metrics,omitempty"`
	// The number of trials to sample.
	TrialBudget int `json:"trialBudget,omitempty"`
	// The maximum number of epochs a single trial may run.
	EpochBudget int `json:"epochBudget,omitempty"`
	// The early stopping configuration.
	Scheduler Scheduler `json:"scheduler,omitempty"`
	// The per-trial resource request.
	Resources Resources `json:"resources,omitempty"`
}

// Default applies default values to the study in place.
func (s *Study) Default() {
	if len(s.Metrics) == 0 {
		s.Metrics = []Metric{{Name: MetricLoss, Minimize: true}}
	}
	if s.TrialBudget <= 0 {
		s.TrialBudget = 10
	}
	if s.EpochBudget <= 0 {
		s.EpochBudget = 10
	}
	if s.Scheduler.GracePeriod <= 0 {
		s.Scheduler.GracePeriod = 1
	}
	if s.Scheduler.ReductionFactor <= 1 {
		s.Scheduler.ReductionFactor = 2
	}
	if s.Resources.CPUsPerTrial <= 0 {
		s.Resources.CPUsPerTrial = 1
	}
}

// Validate returns an error describing the first problem found with the study
// definition. Malformed distributions are rejected here, before any trial runs.
func (s *Study) Validate() error {
	if len(s.Parameters) == 0 {
		return fmt.Errorf("study must define at least one parameter")
	}

	seen := make(map[string]struct{}, len(s.Parameters))
	for i := range s.Parameters {
		p := &s.Parameters[i]
		if p.Name == "" {
			return fmt.Errorf("parameter %d is missing a name", i)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		if err := p.validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}

	for i := range s.Metrics {
		if s.Metrics[i].Name == "" {
			return fmt.Errorf("metric %d is missing a name", i)
		}
	}

	if s.TrialBudget < 0 {
		return fmt.Errorf("trial budget must not be negative, got %d", s.TrialBudget)
	}
	if s.EpochBudget < 0 {
		return fmt.Errorf("epoch budget must not be negative, got %d", s.EpochBudget)
	}

	return nil
}

func (p *Parameter) validate() error {
	switch p.Type {
	case ParameterTypeChoice:
		if len(p.Values) == 0 {
			return fmt.Errorf("choice distribution requires a non-empty value set")
		}

	case ParameterTypeLogUniform:
		min, max, err := p.floatBounds()
		if err != nil {
			return err
		}
		if min <= 0 {
			return fmt.Errorf("log uniform bounds must be positive, got min %v", min)
		}
		if max < min {
			return fmt.Errorf("bounds are inverted (min %v, max %v)", min, max)
		}

	case ParameterTypePowerOfTwo:
		min, max, err := p.intBounds()
		if err != nil {
			return err
		}
		if min < 0 {
			return fmt.Errorf("power of two exponents must not be negative, got min %d", min)
		}
		if max < min {
			return fmt.Errorf("bounds are inverted (min %d, max %d)", min, max)
		}

	case ParameterTypeFunc:
		if p.Sample == nil {
			return fmt.Errorf("func distribution requires a sampling function")
		}

	default:
		return fmt.Errorf("unknown distribution type %q", p.Type)
	}

	return nil
}

func (p *Parameter) floatBounds() (float64, float64, error) {
	if p.Bounds == nil {
		return 0, 0, fmt.Errorf("%s distribution requires bounds", p.Type)
	}
	min, err := p.Bounds.Min.Float64()
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minimum bound %q", p.Bounds.Min)
	}
	max, err := p.Bounds.Max.Float64()
	if err != nil {
		return 0, 0, fmt.Errorf("invalid maximum bound %q", p.Bounds.Max)
	}
	return min, max, nil
}

func (p *Parameter) intBounds() (int64, int64, error) {
	if p.Bounds == nil {
		return 0, 0, fmt.Errorf("%s distribution requires bounds", p.Type)
	}
	min, err := p.Bounds.Min.Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minimum bound %q", p.Bounds.Min)
	}
	max, err := p.Bounds.Max.Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("invalid maximum bound %q", p.Bounds.Max)
	}
	return min, max, nil
}

// FloatBounds returns the parameter domain as floats.
func (p *Parameter) FloatBounds() (float64, float64, error) { return p.floatBounds() }

// IntBounds returns the parameter domain as integers.
func (p *Parameter) IntBounds() (int64, int64, error) { return p.intBounds() }
