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
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	tunev1alpha1 "github.com/thestormforge/tune-controller/api/tune/v1alpha1"
	"github.com/thestormforge/tune-controller/internal/study"
	"golang.org/x/time/rate"
)

// progressReporter prints per-epoch progress rows as trials report. Output is
// rate limited so short epochs on small batch sizes do not flood the console.
type progressReporter struct {
	mu      sync.Mutex
	out     io.Writer
	limiter *rate.Limiter
	header  bool
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{
		out:     out,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Report prints one progress row unless the limiter is saturated.
func (p *progressReporter) Report(trialNumber int64, r tunev1alpha1.Report) {
	if !p.limiter.Allow() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.header {
		_, _ = fmt.Fprintf(p.out, "%-12s  %10s  %10s  %20s\n", "TRIAL", "loss", "accuracy", "training_iteration")
		p.header = true
	}
	_, _ = fmt.Fprintf(p.out, "%-12s  %10.4f  %10.4f  %20d\n", fmt.Sprintf("trial-%04d", trialNumber), r.Loss, r.Accuracy, r.Epoch)
}

// trialTableMeta renders the final per-trial summary table.
type trialTableMeta struct{}

func (*trialTableMeta) ExtractList(obj interface{}) ([]interface{}, error) {
	switch v := obj.(type) {
	case *study.Result:
		list := make([]interface{}, 0, len(v.Trials))
		for i := range v.Trials {
			list = append(list, &v.Trials[i])
		}
		return list, nil
	case *tunev1alpha1.TrialItem:
		return []interface{}{v}, nil
	}
	return nil, fmt.Errorf("unable to extract trials from %T", obj)
}

func (*trialTableMeta) Columns(obj interface{}, outputFormat string) []string {
	columns := []string{"number", "status", "loss", "accuracy", "epochs"}
	if outputFormat == "wide" {
		columns = append(columns, "assignments")
	}
	return columns
}

func (*trialTableMeta) ExtractValue(obj interface{}, column string) (string, error) {
	t, ok := obj.(*tunev1alpha1.TrialItem)
	if !ok {
		return "", fmt.Errorf("unable to get value for %T", obj)
	}
	switch column {
	case "number":
		return strconv.FormatInt(t.Number, 10), nil
	case "status":
		return colorStatus(t.Status), nil
	case "loss":
		if last, ok := t.LastReport(); ok {
			return fmt.Sprintf("%.4f", last.Loss), nil
		}
		return "", nil
	case "accuracy":
		if last, ok := t.LastReport(); ok {
			return fmt.Sprintf("%.4f", last.Accuracy), nil
		}
		return "", nil
	case "epochs":
		return strconv.Itoa(len(t.Reports)), nil
	case "assignments":
		return t.Assignments.String(), nil
	}
	return "", fmt.Errorf("unable to get value for column %q", column)
}

func (*trialTableMeta) Header(outputFormat string, column string) string {
	return strings.ToUpper(column)
}

func colorStatus(status tunev1alpha1.TrialStatus) string {
	p := termenv.ColorProfile()
	s := termenv.String(string(status))
	switch status {
	case tunev1alpha1.TrialCompleted:
		s = s.Foreground(p.Color("2"))
	case tunev1alpha1.TrialStopped:
		s = s.Foreground(p.Color("3"))
	case tunev1alpha1.TrialFailed:
		s = s.Foreground(p.Color("1"))
	}
	return s.String()
}
