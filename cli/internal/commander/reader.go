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

package commander

import (
	"fmt"
	"io"
	"os"

	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"sigs.k8s.io/yaml"
)

// ReadStudy decodes a study definition from a YAML (or JSON) file, applying
// defaults and validating the result. The conventional "-" reads standard input.
func ReadStudy(filename string, in io.Reader) (*tunev1alpha1.Study, error) {
	var data []byte
	var err error
	if filename == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(filename)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read study: %w", err)
	}

	study := &tunev1alpha1.Study{}
	if err := yaml.UnmarshalStrict(data, study); err != nil {
		return nil, fmt.Errorf("unable to parse study %s: %w", filename, err)
	}

	study.Default()
	if err := study.Validate(); err != nil {
		return nil, fmt.Errorf("invalid study %s: %w", filename, err)
	}
	return study, nil
}
