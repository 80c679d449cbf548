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

// Package searchspace turns the declarative parameter definitions of a study
// into concrete trial assignments. All validation happens when the space is
// constructed; sampling itself cannot fail.
package searchspace

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
)

// Space is a validated search space. Sampling is a pure function of the
// supplied random source, so a fixed seed reproduces the same sequence of
// configurations.
type Space struct {
	parameters []tunev1alpha1.Parameter
}

// New validates the parameter definitions and returns a sampleable space.
func New(parameters []tunev1alpha1.Parameter) (*Space, error) {
	s := &tunev1alpha1.Study{Parameters: parameters}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Space{parameters: parameters}, nil
}

// Parameters returns the parameter definitions in submission order.
func (s *Space) Parameters() []tunev1alpha1.Parameter {
	return s.parameters
}

// Sample produces one configuration, drawing each parameter independently.
func (s *Space) Sample(rng *rand.Rand) tunev1alpha1.Assignments {
	assignments := make(tunev1alpha1.Assignments, 0, len(s.parameters))
	for i := range s.parameters {
		p := &s.parameters[i]
		assignments = append(assignments, tunev1alpha1.Assignment{
			ParameterName: p.Name,
			Value:         sample(p, rng),
		})
	}
	return assignments
}

func sample(p *tunev1alpha1.Parameter, rng *rand.Rand) json.Number {
	switch p.Type {
	case tunev1alpha1.ParameterTypeChoice:
		return p.Values[rng.Intn(len(p.Values))]

	case tunev1alpha1.ParameterTypeLogUniform:
		// Bounds were validated at construction time
		min, max, _ := p.FloatBounds()
		v := math.Exp(math.Log(min) + rng.Float64()*(math.Log(max)-math.Log(min)))
		return formatFloat(v)

	case tunev1alpha1.ParameterTypePowerOfTwo:
		min, max, _ := p.IntBounds()
		e := min + int64(rng.Intn(int(max-min+1)))
		return json.Number(strconv.FormatInt(1<<uint(e), 10))

	case tunev1alpha1.ParameterTypeFunc:
		return p.Sample(rng)
	}

	// Unreachable for a validated space
	panic(fmt.Sprintf("unsampleable parameter type %q", p.Type))
}

func formatFloat(v float64) json.Number {
	return json.Number(strconv.FormatFloat(v, 'g', -1, 64))
}

// Choice defines a parameter selecting uniformly from the supplied values.
func Choice(name string, values ...json.Number) tunev1alpha1.Parameter {
	return tunev1alpha1.Parameter{Name: name, Type: tunev1alpha1.ParameterTypeChoice, Values: values}
}

// ChoiceInts defines a choice parameter over integer values.
func ChoiceInts(name string, values ...int) tunev1alpha1.Parameter {
	vs := make([]json.Number, 0, len(values))
	for _, v := range values {
		vs = append(vs, json.Number(strconv.Itoa(v)))
	}
	return Choice(name, vs...)
}

// LogUniform defines a parameter sampled uniformly in log space over [min, max].
func LogUniform(name string, min, max float64) tunev1alpha1.Parameter {
	return tunev1alpha1.Parameter{
		Name: name,
		Type: tunev1alpha1.ParameterTypeLogUniform,
		Bounds: &tunev1alpha1.Bounds{
			Min: formatFloat(min),
			Max: formatFloat(max),
		},
	}
}

// PowerOfTwo defines a parameter whose value is 2 raised to a uniformly sampled
// integer exponent in [minExp, maxExp].
func PowerOfTwo(name string, minExp, maxExp int) tunev1alpha1.Parameter {
	return tunev1alpha1.Parameter{
		Name: name,
		Type: tunev1alpha1.ParameterTypePowerOfTwo,
		Bounds: &tunev1alpha1.Bounds{
			Min: json.Number(strconv.Itoa(minExp)),
			Max: json.Number(strconv.Itoa(maxExp)),
		},
	}
}

// SampleFrom defines a parameter drawn by an arbitrary user supplied function.
func SampleFrom(name string, f func(rng *rand.Rand) json.Number) tunev1alpha1.Parameter {
	return tunev1alpha1.Parameter{Name: name, Type: tunev1alpha1.ParameterTypeFunc, Sample: f}
}
