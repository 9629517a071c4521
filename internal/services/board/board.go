package board

import (
	"sync"
	"time"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
)

const maxWarnings = 50

// Warning is a recoverable problem reported during a run
type Warning struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id,omitempty"`
	Message string    `json:"message"`
}

// Snapshot is the board's view of the current or most recent run
type Snapshot struct {
	RunID      string               `json:"run_id,omitempty"`
	Source     *models.SourceSpec   `json:"source,omitempty"`
	State      string               `json:"state"`
	Counts     models.VehicleCounts `json:"counts"`
	Total      int                  `json:"total"`
	EventCount int                  `json:"event_count"`
	LastError  string               `json:"last_error,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Board is the UI-facing sink: an append-only event log, the live counts and
// the recent warnings. Safe for concurrent readers.
type Board struct {
	classes []string

	mu        sync.RWMutex
	runID     string
	source    *models.SourceSpec
	state     pipeline.State
	counts    models.VehicleCounts
	events    []models.CountingEvent
	warnings  []Warning
	lastError string
	updatedAt time.Time
}

func New(classes []string) *Board {
	return &Board{
		classes:   classes,
		counts:    models.NewVehicleCounts(classes),
		updatedAt: time.Now(),
	}
}

// RunStarted zeroes the counts; the event log is kept until an explicit reset
func (b *Board) RunStarted(runID string, source models.SourceSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runID = runID
	b.source = &source
	b.counts = models.NewVehicleCounts(b.classes)
	b.lastError = ""
	b.updatedAt = time.Now()
}

func (b *Board) StateChanged(state pipeline.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.updatedAt = time.Now()
}

func (b *Board) Frame(models.Frame) {}

// Data appends events and adds them to the board's own counts. The worker's
// running totals are not adopted, so a Reset mid-run holds.
func (b *Board) Data(events []models.CountingEvent, _ models.VehicleCounts) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	for _, ev := range events {
		b.counts.Add(ev.Class, ev.Direction)
	}
	b.updatedAt = time.Now()
}

func (b *Board) Warning(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnings = append(b.warnings, Warning{Time: time.Now(), RunID: b.runID, Message: message})
	if len(b.warnings) > maxWarnings {
		b.warnings = b.warnings[len(b.warnings)-maxWarnings:]
	}
}

func (b *Board) Error(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastError = err.Error()
	b.updatedAt = time.Now()
}

// Events returns the events logged at or after position since, and the
// position to pass next time
func (b *Board) Events(since int) ([]models.CountingEvent, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if since < 0 {
		since = 0
	}
	if since >= len(b.events) {
		return []models.CountingEvent{}, len(b.events)
	}
	out := make([]models.CountingEvent, len(b.events)-since)
	copy(out, b.events[since:])
	return out, len(b.events)
}

func (b *Board) Counts() models.VehicleCounts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts.Clone()
}

func (b *Board) Warnings() []Warning {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Warning(nil), b.warnings...)
}

// Reset zeroes the counts. With clearAll the event log and warnings go too.
func (b *Board) Reset(clearAll bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = models.NewVehicleCounts(b.classes)
	if clearAll {
		b.events = nil
		b.warnings = nil
	}
	b.updatedAt = time.Now()
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		RunID:      b.runID,
		Source:     b.source,
		State:      b.state.String(),
		Counts:     b.counts.Clone(),
		Total:      b.counts.Total(),
		EventCount: len(b.events),
		LastError:  b.lastError,
		UpdatedAt:  b.updatedAt,
	}
}
