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

// Package checkpoint persists per-(trial, epoch) training state. Each trial
// owns its own directory namespace, there is never cross-trial contention.
// Snapshots survive the writing scope so a later resume or the final
// best-model selection can read them back.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thestormforge/tune-controller/internal/nn"
)

const (
	// snapshotFile is the name of the serialized state inside a checkpoint directory.
	snapshotFile = "checkpoint.json"

	formatVersion = "1"
)

// TrainingState captures the training progress stored alongside the weights.
type TrainingState struct {
	// Epoch is the number of completed epochs.
	Epoch int `json:"epoch"`
	// Seed is the trial seed all shuffle and initialization randomness derives from.
	Seed int64 `json:"seed"`
	// Loss is the validation loss reported at Epoch.
	Loss float64 `json:"loss"`
	// Accuracy is the validation accuracy reported at Epoch.
	Accuracy float64 `json:"accuracy"`
}

// Metadata describes the snapshot itself.
type Metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is a complete, restartable copy of a trial's trainable state.
type Snapshot struct {
	Weights   []nn.WeightTensor `json:"weights"`
	Optimizer nn.OptimizerState `json:"optimizer"`
	Training  TrainingState     `json:"training"`
	Metadata  Metadata          `json:"metadata"`
}

// Store manages the checkpoint directory tree for a study.
type Store struct {
	root string
	keep int
}

// NewStore creates a store rooted at the given directory. When keep is
// positive only that many of the most recent epochs are retained per trial;
// superseded snapshots are discarded on the next save.
func NewStore(root string, keep int) *Store {
	return &Store{root: root, keep: keep}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory for a (trial, epoch) snapshot. The directory is
// only created when a snapshot is saved into it.
func (s *Store) Dir(trialNumber int64, epoch int) string {
	return filepath.Join(s.trialDir(trialNumber), fmt.Sprintf("epoch-%04d", epoch))
}

func (s *Store) trialDir(trialNumber int64) string {
	return filepath.Join(s.root, fmt.Sprintf("trial-%04d", trialNumber))
}

// Save persists a snapshot for the trial at the epoch recorded in its training
// state and returns the checkpoint directory. The snapshot file is written to
// a temporary name and renamed so a crash never leaves a partial checkpoint
// behind under the final name.
func (s *Store) Save(trialNumber int64, snapshot *Snapshot) (string, error) {
	snapshot.Metadata = Metadata{Version: formatVersion, CreatedAt: time.Now()}

	dir := s.Dir(trialNumber, snapshot.Training.Epoch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create checkpoint directory: %w", err)
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("unable to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, snapshotFile+".*")
	if err != nil {
		return "", fmt.Errorf("unable to write checkpoint: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("unable to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("unable to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, snapshotFile)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("unable to write checkpoint: %w", err)
	}

	if s.keep > 0 {
		s.prune(trialNumber)
	}
	return dir, nil
}

// Load reads the snapshot for a (trial, epoch) pair. A missing or corrupt
// snapshot is a hard error: resuming silently from scratch would discard the
// caller's training budget without notice.
func (s *Store) Load(trialNumber int64, epoch int) (*Snapshot, error) {
	path := filepath.Join(s.Dir(trialNumber, epoch), snapshotFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint unavailable for trial %d epoch %d: %w", trialNumber, epoch, err)
	}

	snapshot := &Snapshot{}
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, fmt.Errorf("checkpoint for trial %d epoch %d is corrupt: %w", trialNumber, epoch, err)
	}
	if len(snapshot.Weights) == 0 || snapshot.Training.Epoch != epoch {
		return nil, fmt.Errorf("checkpoint for trial %d epoch %d is corrupt: inconsistent contents", trialNumber, epoch)
	}
	return snapshot, nil
}

// LatestEpoch returns the highest epoch with a persisted snapshot for the trial.
func (s *Store) LatestEpoch(trialNumber int64) (int, error) {
	epochs, err := s.epochs(trialNumber)
	if err != nil {
		return 0, err
	}
	if len(epochs) == 0 {
		return 0, fmt.Errorf("no checkpoints for trial %d", trialNumber)
	}
	return epochs[len(epochs)-1], nil
}

// Latest loads the most recent snapshot for the trial.
func (s *Store) Latest(trialNumber int64) (*Snapshot, error) {
	epoch, err := s.LatestEpoch(trialNumber)
	if err != nil {
		return nil, err
	}
	return s.Load(trialNumber, epoch)
}

func (s *Store) epochs(trialNumber int64) ([]int, error) {
	entries, err := os.ReadDir(s.trialDir(trialNumber))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to list checkpoints for trial %d: %w", trialNumber, err)
	}

	var epochs []int
	for _, e := range entries {
		var epoch int
		if _, err := fmt.Sscanf(e.Name(), "epoch-%d", &epoch); err == nil && e.IsDir() {
			epochs = append(epochs, epoch)
		}
	}
	sort.Ints(epochs)
	return epochs, nil
}

func (s *Store) prune(trialNumber int64) {
	epochs, err := s.epochs(trialNumber)
	if err != nil || len(epochs) <= s.keep {
		return
	}
	for _, epoch := range epochs[:len(epochs)-s.keep] {
		os.RemoveAll(s.Dir(trialNumber, epoch))
	}
}
