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

package version

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thestormforge/tune-controller/cli/internal/commander"
	"github.com/thestormforge/tune-controller/internal/version"
)

// Options is the configuration for reporting version information
type Options struct {
	// IOStreams are used to access the standard process streams
	commander.IOStreams

	// Product is the current product name
	Product string
}

// NewCommand creates a new command for reporting version information
func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for the current binary",

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE:   commander.WithoutArgsE(o.version),
	}

	return cmd
}

func (o *Options) version() error {
	_, _ = fmt.Fprintf(o.Out, "%s version: %s\n", o.Product, version.GetInfo())
	return nil
}
