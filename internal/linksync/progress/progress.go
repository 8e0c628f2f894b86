// Package progress implements the weighted phase progress model used by
// link'n'sync. Each phase owns a fixed slice of the total percentage; the
// tracker folds fractional per-phase completion into one 0–100 figure for
// the UI.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sink receives the folded total whenever any phase advances.
type Sink interface {
	Update(totalPercent float64)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(totalPercent float64)

func (f SinkFunc) Update(totalPercent float64) { f(totalPercent) }

// Phase names used by the two link'n'sync roles.
const (
	PhaseWaiting     = "waiting"
	PhaseExporting   = "exporting"
	PhaseUploading   = "uploading"
	PhaseFinishing   = "finishing"
	PhaseDownloading = "downloading"
	PhaseImporting   = "importing"
)

// Allocation assigns a weight (percent of total) to a named phase.
type Allocation struct {
	Name   string
	Weight int
}

// PrimaryAllocations is the primary role's split: wait for the link, export
// the backup, upload it, finish up.
func PrimaryAllocations() []Allocation {
	return []Allocation{
		{PhaseWaiting, 30},
		{PhaseExporting, 25},
		{PhaseUploading, 40},
		{PhaseFinishing, 5},
	}
}

// SecondaryAllocations is the secondary role's split: wait for the upload,
// download the artifact, import it.
func SecondaryAllocations() []Allocation {
	return []Allocation{
		{PhaseWaiting, 50},
		{PhaseDownloading, 30},
		{PhaseImporting, 20},
	}
}

// Tracker folds per-phase fractions into a weighted total.
type Tracker struct {
	mu        sync.Mutex
	alloc     []Allocation
	fractions map[string]float64
	sink      Sink
}

// NewTracker validates that the weights sum to exactly 100 and returns a
// tracker reporting to sink. A nil sink discards updates.
func NewTracker(sink Sink, allocations []Allocation) (*Tracker, error) {
	sum := 0
	for _, a := range allocations {
		sum += a.Weight
	}
	if sum != 100 {
		return nil, fmt.Errorf("phase weights sum to %d, want 100", sum)
	}
	if sink == nil {
		sink = SinkFunc(func(float64) {})
	}
	return &Tracker{
		alloc:     allocations,
		fractions: make(map[string]float64, len(allocations)),
		sink:      sink,
	}, nil
}

// Phase returns a reporter bound to the named phase.
func (t *Tracker) Phase(name string) (*PhaseReporter, error) {
	for _, a := range t.alloc {
		if a.Name == name {
			return &PhaseReporter{tracker: t, name: name}, nil
		}
	}
	return nil, errors.New("unknown phase " + name)
}

// Total returns the current folded percentage.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *Tracker) totalLocked() float64 {
	total := 0.0
	for _, a := range t.alloc {
		total += float64(a.Weight) * t.fractions[a.Name]
	}
	return total
}

func (t *Tracker) set(name string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	t.mu.Lock()
	// phases never move backwards
	if fraction < t.fractions[name] {
		t.mu.Unlock()
		return
	}
	t.fractions[name] = fraction
	total := t.totalLocked()
	t.mu.Unlock()

	t.sink.Update(total)
}

// PhaseReporter reports fractional completion within one phase.
type PhaseReporter struct {
	tracker *Tracker
	name    string
}

// Set records the phase's completion fraction in [0, 1], clamped.
func (p *PhaseReporter) Set(fraction float64) { p.tracker.set(p.name, fraction) }

// Complete marks the phase fully done.
func (p *PhaseReporter) Complete() { p.tracker.set(p.name, 1) }

// estimateCeiling keeps a time-based estimate from claiming a phase is done
// before the actual event arrives.
const estimateCeiling = 0.95

// RunEstimate advances the phase on a ticker toward eta, capped below
// completion, until ctx is cancelled. Waiting phases use it because the
// event being waited on is a discrete server response, not a measurable
// transfer. The caller cancels ctx and calls Complete when the event lands.
func RunEstimate(ctx context.Context, rep *PhaseReporter, eta, tick time.Duration) {
	if eta <= 0 || tick <= 0 {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frac := float64(time.Since(start)) / float64(eta)
			if frac > estimateCeiling {
				frac = estimateCeiling
			}
			rep.Set(frac)
		}
	}
}
