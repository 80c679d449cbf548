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

package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"github.com/thestormforge/tune-controller/cli/internal/commander"
	"github.com/thestormforge/tune-controller/internal/data"
	"github.com/thestormforge/tune-controller/internal/nn"
	"github.com/thestormforge/tune-controller/internal/training"
	"github.com/thestormforge/tune-controller/internal/trial"
)

// Options is the configuration for the fixed architecture trainer
type Options struct {
	// IOStreams are used to access the standard process streams
	commander.IOStreams

	// Dataset is the name of the dataset to train on
	Dataset string
	// DataDir is the directory holding the dataset files
	DataDir string
	// Epochs is the static number of training passes
	Epochs int
	// BatchSize is the mini-batch size
	BatchSize int
	// LearningRate for the Adam optimizer
	LearningRate float64
	// Hidden is the width of the single hidden layer
	Hidden int
	// Seed drives initialization and shuffling, zero picks a time based seed
	Seed int64
}

// NewCommand creates a command for training a fixed configuration classifier
func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier",
		Long:  "Train a fixed architecture fully connected classifier and report its accuracy",

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE:   commander.WithContextE(o.train),
	}

	cmd.Flags().StringVar(&o.Dataset, "dataset", "mnist", "dataset to train on; one of: mnist|synthetic")
	cmd.Flags().StringVar(&o.DataDir, "data-dir", "./data", "`directory` containing the dataset files")
	cmd.Flags().IntVar(&o.Epochs, "epochs", 1, "number of training epochs")
	cmd.Flags().IntVar(&o.BatchSize, "batch-size", 64, "mini-batch size")
	cmd.Flags().Float64Var(&o.LearningRate, "learning-rate", 0.001, "learning rate for the Adam optimizer")
	cmd.Flags().IntVar(&o.Hidden, "hidden", 50, "width of the hidden layer")
	cmd.Flags().Int64Var(&o.Seed, "seed", 0, "random seed, 0 derives a seed from the clock")

	return cmd
}

func (o *Options) train(ctx context.Context) error {
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	log := commander.NewLogger(0)

	trainSet, testSet, err := o.loadData()
	if err != nil {
		return err
	}

	inputDim := 1
	for _, s := range trainSet.SampleShape {
		inputDim *= s
	}

	rng := rand.New(rand.NewSource(o.Seed))
	network, err := nn.FullyConnected(rng, inputDim, trainSet.Classes, o.Hidden)
	if err != nil {
		return err
	}

	t := trial.New(1, nil)
	loop, err := training.NewLoop(training.Options{
		Trial:      t,
		Network:    network,
		Optimizer:  nn.NewAdam(o.LearningRate),
		Train:      trainSet,
		Validation: testSet,
		BatchSize:  o.BatchSize,
		MaxEpochs:  o.Epochs,
		Seed:       o.Seed,
		Log:        log,
	})
	if err != nil {
		return err
	}
	if err := loop.Run(ctx); err != nil {
		return err
	}

	trainLoss, trainAccuracy := training.Evaluate(network, trainSet, o.BatchSize)
	testLoss, testAccuracy := training.Evaluate(network, testSet, o.BatchSize)

	_, _ = fmt.Fprintf(o.Out, "Training set:   loss %.4f, accuracy %.2f%%\n", trainLoss, trainAccuracy*100)
	_, _ = fmt.Fprintf(o.Out, "Test set:       loss %.4f, accuracy %.2f%%\n", testLoss, testAccuracy*100)
	return nil
}

func (o *Options) loadData() (*data.Dataset, *data.Dataset, error) {
	switch o.Dataset {
	case "mnist":
		return data.LoadMNIST(o.DataDir)
	case "synthetic":
		full, err := data.Synthetic(10, 200, 16, o.Seed)
		if err != nil {
			return nil, nil, err
		}
		return full.Split(0.8, o.Seed)
	}
	return nil, nil, fmt.Errorf("unknown dataset %q", o.Dataset)
}
