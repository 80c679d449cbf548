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

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thestormforge/tune-controller/cli/internal/commander"
	"github.com/thestormforge/tune-controller/cli/internal/commands/search"
	"github.com/thestormforge/tune-controller/cli/internal/commands/train"
	"github.com/thestormforge/tune-controller/cli/internal/commands/version"
)

// NewRootCommand creates a new top-level command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "tunectl",
		Short:             "Tune with confidence",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	// Training Commands
	rootCmd.AddCommand(train.NewCommand(&train.Options{}))
	rootCmd.AddCommand(search.NewCommand(&search.Options{}))

	// Administrative Commands
	rootCmd.AddCommand(version.NewCommand(&version.Options{Product: "tunectl"}))

	commander.MapErrors(rootCmd, mapError)
	return rootCmd
}

// mapError intercepts errors returned by commands before they are reported.
func mapError(err error) error {
	// A missing dataset directory is the most common first-run failure, point
	// at the flag instead of the bare stat error.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && os.IsNotExist(pathErr) {
		return fmt.Errorf("%w, check the --data-dir flag", err)
	}

	return err
}
