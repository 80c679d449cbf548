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

// Package training executes the per-trial training loop: one shuffled pass
// over the training split per epoch with an optimizer step per mini-batch,
// followed by a gradient-free validation pass, a checkpoint write and a report
// to the scheduler.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/go-logr/logr"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/internal/checkpoint"
	"github.com/thestormforge/tune-controller/internal/data"
	"github.com/thestormforge/tune-controller/internal/nn"
	"github.com/thestormforge/tune-controller/internal/trial"
)

// ErrDiverged indicates the training loss became non-finite.
var ErrDiverged = errors.New("training diverged")

// Scheduler is the early stopping collaborator consumed by the loop. Stop
// signals are only polled at epoch boundaries, never mid-epoch, so worst-case
// cancellation latency is one full epoch.
type Scheduler interface {
	Report(trialNumber int64, r tunev1alpha1.Report) error
	ShouldStop(trialNumber int64) bool
}

// Options configure a training loop for a single trial.
type Options struct {
	// Trial is the record the loop reports into. Required.
	Trial *trial.Trial
	// Network is the model being trained. Required.
	Network *nn.Network
	// Optimizer applies the per-batch updates. Required.
	Optimizer nn.Optimizer
	// Train and Validation are the dataset splits. Required.
	Train      *data.Dataset
	Validation *data.Dataset
	// BatchSize is the mini-batch size for both passes.
	BatchSize int
	// MaxEpochs is the epoch budget.
	MaxEpochs int
	// Seed drives all shuffle randomness; the per-epoch order is a pure
	// function of (seed, epoch) so resumed runs replay the identical stream.
	Seed int64
	// Checkpoints persists a snapshot every epoch when set.
	Checkpoints *checkpoint.Store
	// Scheduler receives reports and may stop the trial early when set.
	Scheduler Scheduler
	// Resume restores the most recent snapshot before training. It is an error
	// to request a resume when no intact snapshot exists.
	Resume bool
	// Log receives per-epoch progress.
	Log logr.Logger
}

// Loop runs the epochs of one trial.
type Loop struct {
	Options
}

// NewLoop validates the options and returns a runnable loop.
func NewLoop(o Options) (*Loop, error) {
	if o.Trial == nil || o.Network == nil || o.Optimizer == nil {
		return nil, fmt.Errorf("training loop requires a trial, network and optimizer")
	}
	if o.Train == nil || o.Train.Len() == 0 {
		return nil, fmt.Errorf("training loop requires a non-empty training split")
	}
	if o.Validation == nil || o.Validation.Len() == 0 {
		return nil, fmt.Errorf("training loop requires a non-empty validation split")
	}
	if o.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.MaxEpochs < 1 {
		return nil, fmt.Errorf("epoch budget must be positive, got %d", o.MaxEpochs)
	}
	return &Loop{Options: o}, nil
}

// Run executes the remaining epochs of the trial. The returned error is nil
// when the trial completed its budget or was stopped by the scheduler; any
// other outcome is reported as an error and the trial should be marked failed
// by the caller.
func (l *Loop) Run(ctx context.Context) error {
	number := l.Trial.Number()
	start := 0

	if l.Resume {
		if l.Checkpoints == nil {
			return fmt.Errorf("trial %d cannot resume without a checkpoint store", number)
		}
		snapshot, err := l.Checkpoints.Latest(number)
		if err != nil {
			return err
		}
		if err := l.Network.LoadWeights(snapshot.Weights); err != nil {
			return fmt.Errorf("trial %d resume: %w", number, err)
		}
		if err := l.Optimizer.LoadState(snapshot.Optimizer); err != nil {
			return fmt.Errorf("trial %d resume: %w", number, err)
		}
		start = snapshot.Training.Epoch
		l.Seed = snapshot.Training.Seed
		l.Log.Info("resumed trial", "trial", number, "epoch", start)
	}

	l.Trial.Start()

	for epoch := start + 1; epoch <= l.MaxEpochs; epoch++ {
		if ctx.Err() != nil {
			l.Trial.Stop()
			return ctx.Err()
		}

		rng := rand.New(rand.NewSource(epochSeed(l.Seed, epoch)))
		trainLoss, err := l.trainEpoch(rng)
		if err != nil {
			return fmt.Errorf("trial %d epoch %d: %w", number, epoch, err)
		}

		valLoss, valAccuracy := Evaluate(l.Network, l.Validation, l.BatchSize)
		report := tunev1alpha1.Report{Epoch: epoch, Loss: valLoss, Accuracy: valAccuracy}

		if l.Checkpoints != nil {
			if _, err := l.Checkpoints.Save(number, &checkpoint.Snapshot{
				Weights:   l.Network.Weights(),
				Optimizer: l.Optimizer.State(),
				Training: checkpoint.TrainingState{
					Epoch:    epoch,
					Seed:     l.Seed,
					Loss:     valLoss,
					Accuracy: valAccuracy,
				},
			}); err != nil {
				return fmt.Errorf("trial %d epoch %d: %w", number, epoch, err)
			}
		}

		if err := l.Trial.RecordReport(report); err != nil {
			return err
		}
		if l.Scheduler != nil {
			if err := l.Scheduler.Report(number, report); err != nil {
				return err
			}
		}

		l.Log.Info("epoch finished", "trial", number, "epoch", epoch,
			"trainLoss", trainLoss, "loss", valLoss, "accuracy", valAccuracy)

		if l.Scheduler != nil && l.Scheduler.ShouldStop(number) {
			l.Log.Info("trial stopped early", "trial", number, "epoch", epoch)
			l.Trial.Stop()
			return nil
		}
	}

	l.Trial.Complete()
	return nil
}

// trainEpoch makes one shuffled pass over the training split and returns the
// mean training loss.
func (l *Loop) trainEpoch(rng *rand.Rand) (float64, error) {
	params := l.Network.Params()
	total := 0.0
	steps := 0

	for _, indices := range l.Train.Batches(l.BatchSize, rng) {
		x, labels := l.Train.Batch(indices)
		logits := l.Network.Forward(x, true)
		loss, grad := nn.SoftmaxCrossEntropy(logits, labels)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, ErrDiverged
		}

		l.Network.Backward(grad)
		l.Optimizer.Step(params)

		total += loss
		steps++
	}
	return total / float64(steps), nil
}

// Evaluate makes one deterministic pass over a dataset without gradient
// updates and returns the mean loss and fraction of correct predictions.
func Evaluate(network *nn.Network, ds *data.Dataset, batchSize int) (float64, float64) {
	totalLoss := 0.0
	steps := 0
	correct := 0

	for _, indices := range ds.Batches(batchSize, nil) {
		x, labels := ds.Batch(indices)
		logits := network.Forward(x, false)
		loss, _ := nn.SoftmaxCrossEntropy(logits, labels)
		totalLoss += loss
		steps++
		correct += nn.CountCorrect(logits, labels)
	}
	return totalLoss / float64(steps), float64(correct) / float64(ds.Len())
}

// epochSeed derives the shuffle seed for one epoch from the trial seed.
func epochSeed(seed int64, epoch int) int64 {
	return int64(uint64(seed) + uint64(epoch)*0x9E3779B97F4A7C15)
}
