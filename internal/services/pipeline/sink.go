package pipeline

import "vehicle-counter-go/internal/models"

// Sink receives everything the dispatcher surfaces to the outside world.
// Calls come from the controller goroutine, one at a time.
type Sink interface {
	RunStarted(runID string, source models.SourceSpec)
	StateChanged(state State)
	Frame(frame models.Frame)
	Data(events []models.CountingEvent, counts models.VehicleCounts)
	Warning(message string)
	Error(err error)
}

// NopSink ignores everything. Embed it to implement only part of Sink.
type NopSink struct{}

func (NopSink) RunStarted(string, models.SourceSpec)              {}
func (NopSink) StateChanged(State)                                {}
func (NopSink) Frame(models.Frame)                                {}
func (NopSink) Data([]models.CountingEvent, models.VehicleCounts) {}
func (NopSink) Warning(string)                                    {}
func (NopSink) Error(error)                                       {}

// MultiSink fans out to several sinks in order
type MultiSink []Sink

func (m MultiSink) RunStarted(runID string, source models.SourceSpec) {
	for _, s := range m {
		s.RunStarted(runID, source)
	}
}

func (m MultiSink) StateChanged(state State) {
	for _, s := range m {
		s.StateChanged(state)
	}
}

func (m MultiSink) Frame(frame models.Frame) {
	for _, s := range m {
		s.Frame(frame)
	}
}

func (m MultiSink) Data(events []models.CountingEvent, counts models.VehicleCounts) {
	for _, s := range m {
		s.Data(events, counts)
	}
}

func (m MultiSink) Warning(message string) {
	for _, s := range m {
		s.Warning(message)
	}
}

func (m MultiSink) Error(err error) {
	for _, s := range m {
		s.Error(err)
	}
}
