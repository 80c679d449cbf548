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

package search

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/cli/internal/commander"
	"github.com/thestormforge/tune-controller/internal/checkpoint"
	"github.com/thestormforge/tune-controller/internal/data"
	"github.com/thestormforge/tune-controller/internal/nn"
	"github.com/thestormforge/tune-controller/internal/scheduler"
	"github.com/thestormforge/tune-controller/internal/searchspace"
	"github.com/thestormforge/tune-controller/internal/study"
	"github.com/thestormforge/tune-controller/internal/telemetry"
	"github.com/thestormforge/tune-controller/internal/training"
	"github.com/thestormforge/tune-controller/internal/trial"
)

// Options is the configuration for running a hyperparameter study
type Options struct {
	// IOStreams are used to access the standard process streams
	commander.IOStreams
	// Printer renders the final trial summary
	Printer commander.ResourcePrinter

	// Filename is a study definition to load, "-" reads from stdin
	Filename string
	// Dataset is the name of the dataset to search over
	Dataset string
	// DataDir is the directory holding the dataset files
	DataDir string
	// Trials overrides the trial budget of the study
	Trials int
	// Epochs overrides the epoch budget of the study
	Epochs int
	// Parallelism caps the number of concurrently running trials
	Parallelism int
	// Seed drives sampling, initialization and shuffling, zero picks a time based seed
	Seed int64
	// CheckpointDir is the root directory for per-trial snapshots
	CheckpointDir string
	// KeepCheckpoints limits how many epoch snapshots a trial retains
	KeepCheckpoints int
	// MetricsAddr exposes Prometheus metrics when set
	MetricsAddr string
	// Verbosity raises the per-epoch log level
	Verbosity int
}

// NewCommand creates a command for running a hyperparameter study
func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a hyperparameter study",
		Long:  "Sample trial configurations, train them with early stopping and report the best one",

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE:   commander.WithContextE(o.search),
	}

	cmd.Flags().StringVarP(&o.Filename, "filename", "f", "", "`file` that contains the study definition, - for stdin")
	cmd.Flags().StringVar(&o.Dataset, "dataset", "cifar10", "dataset to search over; one of: cifar10|mnist|synthetic")
	cmd.Flags().StringVar(&o.DataDir, "data-dir", "./data", "`directory` containing the dataset files")
	cmd.Flags().IntVar(&o.Trials, "trials", 0, "override the trial budget of the study")
	cmd.Flags().IntVar(&o.Epochs, "epochs", 0, "override the epoch budget of the study")
	cmd.Flags().IntVar(&o.Parallelism, "parallelism", 0, "maximum concurrent trials, 0 derives it from the CPU count")
	cmd.Flags().Int64Var(&o.Seed, "seed", 0, "random seed, 0 derives a seed from the clock")
	cmd.Flags().StringVar(&o.CheckpointDir, "checkpoint-dir", "./checkpoints", "root `directory` for trial checkpoints")
	cmd.Flags().IntVar(&o.KeepCheckpoints, "keep-checkpoints", 2, "epoch checkpoints retained per trial, 0 keeps all")
	cmd.Flags().StringVar(&o.MetricsAddr, "metrics-addr", "", "`address` to serve Prometheus metrics on")
	cmd.Flags().IntVarP(&o.Verbosity, "verbose", "v", 0, "log verbosity")

	_ = cmd.MarkFlagFilename("filename", "yml", "yaml", "json")

	commander.SetPrinter(&trialTableMeta{}, &o.Printer, cmd)

	return cmd
}

func (o *Options) search(ctx context.Context) error {
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	log := commander.NewLogger(o.Verbosity)

	st, err := o.readStudy()
	if err != nil {
		return err
	}

	space, err := searchspace.New(st.Parameters)
	if err != nil {
		return err
	}

	metric := st.Metrics[0]
	asha, err := scheduler.New(scheduler.Options{
		Metric:          metric.Name,
		Minimize:        metric.Minimize,
		GracePeriod:     st.Scheduler.GracePeriod,
		ReductionFactor: st.Scheduler.ReductionFactor,
		MaxEpochs:       st.EpochBudget,
	})
	if err != nil {
		return err
	}

	trainSet, testSet, err := o.loadData()
	if err != nil {
		return err
	}
	trainSplit, valSplit, err := trainSet.Split(0.8, o.Seed)
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(o.CheckpointDir, o.KeepCheckpoints)

	var tel *telemetry.Telemetry
	if o.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		tel = telemetry.New(reg)
		srv := &http.Server{Addr: o.MetricsAddr, Handler: telemetry.Handler(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "metrics server failed")
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	reporter := newProgressReporter(o.Out)
	runner, err := study.NewRunner(study.Options{
		Study:     st,
		Space:     space,
		Scheduler: asha,
		Train: func(ctx context.Context, t *trial.Trial, sched training.Scheduler) error {
			return o.runTrial(ctx, t, sched, st.EpochBudget, trainSplit, valSplit, store, log)
		},
		Seed:        o.Seed,
		Parallelism: o.Parallelism,
		OnReport:    reporter.Report,
		Telemetry:   tel,
		Log:         log,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := o.Printer.PrintObj(result, o.Out); err != nil {
		return err
	}

	best, err := result.Best(metric.Name, metric.Minimize)
	if err != nil {
		return err
	}
	last, _ := best.LastReport()
	_, _ = fmt.Fprintf(o.Out, "\nBest trial config: %s\n", best.Assignments)
	_, _ = fmt.Fprintf(o.Out, "Best trial final validation loss: %.4f\n", last.Loss)
	_, _ = fmt.Fprintf(o.Out, "Best trial final validation accuracy: %.4f\n", last.Accuracy)

	testLoss, testAccuracy, err := o.evaluateBest(best, store, testSet)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(o.Out, "Best trial test set loss: %.4f\n", testLoss)
	_, _ = fmt.Fprintf(o.Out, "Best trial test set accuracy: %.4f\n", testAccuracy)
	return nil
}

// readStudy loads the study definition or falls back to the built-in search
// space, then applies the command line budget overrides.
func (o *Options) readStudy() (*tunev1alpha1.Study, error) {
	var st *tunev1alpha1.Study
	if o.Filename != "" {
		var err error
		st, err = commander.ReadStudy(o.Filename, o.In)
		if err != nil {
			return nil, err
		}
	} else {
		st = defaultStudy()
	}

	if o.Trials > 0 {
		st.TrialBudget = o.Trials
	}
	if o.Epochs > 0 {
		st.EpochBudget = o.Epochs
	}
	st.Default()
	return st, st.Validate()
}

// defaultStudy is the canonical image classifier search space: two hidden
// widths sampled as powers of two, a log uniform learning rate and a small
// batch size choice.
func defaultStudy() *tunev1alpha1.Study {
	return &tunev1alpha1.Study{
		DisplayName: "image-classifier",
		Parameters: []tunev1alpha1.Parameter{
			searchspace.PowerOfTwo("l1", 2, 8),
			searchspace.PowerOfTwo("l2", 2, 8),
			searchspace.LogUniform("lr", 1e-4, 1e-1),
			searchspace.ChoiceInts("batch_size", 2, 4, 8, 16),
		},
	}
}

// trialConfig is the validated configuration record backing one trial.
type trialConfig struct {
	L1           int
	L2           int
	LearningRate float64
	BatchSize    int
}

func parseTrialConfig(assignments tunev1alpha1.Assignments) (trialConfig, error) {
	var cfg trialConfig
	var err error
	if cfg.L1, err = assignments.Int("l1"); err != nil {
		return cfg, err
	}
	if cfg.L2, err = assignments.Int("l2"); err != nil {
		return cfg, err
	}
	if cfg.LearningRate, err = assignments.Float64("lr"); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = assignments.Int("batch_size"); err != nil {
		return cfg, err
	}
	if cfg.L1 < 1 || cfg.L2 < 1 || cfg.BatchSize < 1 || cfg.LearningRate <= 0 {
		return cfg, fmt.Errorf("invalid trial configuration %s", assignments)
	}
	return cfg, nil
}

func (o *Options) runTrial(ctx context.Context, t *trial.Trial, sched training.Scheduler, epochs int, trainSplit, valSplit *data.Dataset, store *checkpoint.Store, log logr.Logger) error {
	cfg, err := parseTrialConfig(t.Assignments())
	if err != nil {
		return err
	}

	seed := o.Seed + t.Number()
	network, err := o.buildNetwork(rand.New(rand.NewSource(seed)), trainSplit, cfg)
	if err != nil {
		return err
	}

	loop, err := training.NewLoop(training.Options{
		Trial:       t,
		Network:     network,
		Optimizer:   nn.NewSGD(cfg.LearningRate, 0.9),
		Train:       trainSplit,
		Validation:  valSplit,
		BatchSize:   cfg.BatchSize,
		MaxEpochs:   epochs,
		Seed:        seed,
		Checkpoints: store,
		Scheduler:   sched,
		Log:         log.WithValues("trial", t.Number()),
	})
	if err != nil {
		return err
	}
	return loop.Run(ctx)
}

// buildNetwork creates the model matching the dataset sample shape: a small
// convolutional network for image datasets, dense layers otherwise.
func (o *Options) buildNetwork(rng *rand.Rand, ds *data.Dataset, cfg trialConfig) (*nn.Network, error) {
	if len(ds.SampleShape) == 3 {
		return nn.ConvNet(rng, ds.SampleShape[0], ds.SampleShape[1], ds.SampleShape[2], cfg.L1, cfg.L2, ds.Classes)
	}
	dim := 1
	for _, s := range ds.SampleShape {
		dim *= s
	}
	return nn.FullyConnected(rng, dim, ds.Classes, cfg.L1, cfg.L2)
}

// evaluateBest restores the winning trial's latest snapshot and measures it
// against the held out test set.
func (o *Options) evaluateBest(best *tunev1alpha1.TrialItem, store *checkpoint.Store, testSet *data.Dataset) (float64, float64, error) {
	cfg, err := parseTrialConfig(best.Assignments)
	if err != nil {
		return 0, 0, err
	}
	network, err := o.buildNetwork(rand.New(rand.NewSource(o.Seed+best.Number)), testSet, cfg)
	if err != nil {
		return 0, 0, err
	}
	snapshot, err := store.Latest(best.Number)
	if err != nil {
		return 0, 0, err
	}
	if err := network.LoadWeights(snapshot.Weights); err != nil {
		return 0, 0, err
	}
	loss, accuracy := training.Evaluate(network, testSet, cfg.BatchSize)
	return loss, accuracy, nil
}

func (o *Options) loadData() (*data.Dataset, *data.Dataset, error) {
	switch o.Dataset {
	case "cifar10":
		return data.LoadCIFAR10(o.DataDir)
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
