package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
)

// Bus is the part of Service the pipeline integration needs
type Bus interface {
	Publish(subject string, data interface{}) error
	Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error)
}

// CountedMessage is published once per counting event
type CountedMessage struct {
	WorkerID  string               `json:"worker_id"`
	RunID     string               `json:"run_id"`
	Frame     int                  `json:"frame"`
	Timestamp string               `json:"timestamp"`
	TrackID   int                  `json:"track_id"`
	Class     string               `json:"class"`
	Direction models.Direction     `json:"direction"`
	Counts    models.VehicleCounts `json:"counts"`
}

// StateMessage is published on every lifecycle transition
type StateMessage struct {
	WorkerID string    `json:"worker_id"`
	RunID    string    `json:"run_id,omitempty"`
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// EventSink forwards counting events and state changes to NATS
type EventSink struct {
	pipeline.NopSink

	bus      Bus
	subject  string
	workerID string
	logger   zerolog.Logger

	runID string
}

func NewEventSink(bus Bus, subject, workerID string, logger zerolog.Logger) *EventSink {
	return &EventSink{bus: bus, subject: subject, workerID: workerID, logger: logger}
}

// StateSubject is where lifecycle transitions go
func (s *EventSink) StateSubject() string {
	return s.subject + ".state"
}

func (s *EventSink) RunStarted(runID string, _ models.SourceSpec) {
	s.runID = runID
}

func (s *EventSink) StateChanged(state pipeline.State) {
	s.publish(s.StateSubject(), StateMessage{
		WorkerID: s.workerID,
		RunID:    s.runID,
		State:    state.String(),
		Time:     time.Now(),
	})
}

func (s *EventSink) Data(events []models.CountingEvent, counts models.VehicleCounts) {
	for _, ev := range events {
		s.publish(s.subject, CountedMessage{
			WorkerID:  s.workerID,
			RunID:     ev.RunID,
			Frame:     ev.Frame,
			Timestamp: ev.Timestamp.Format(models.TimestampLayout),
			TrackID:   ev.TrackID,
			Class:     ev.Class,
			Direction: ev.Direction,
			Counts:    counts,
		})
	}
}

func (s *EventSink) Error(err error) {
	s.publish(s.StateSubject(), StateMessage{
		WorkerID: s.workerID,
		RunID:    s.runID,
		State:    "error",
		Error:    err.Error(),
		Time:     time.Now(),
	})
}

func (s *EventSink) publish(subject string, msg interface{}) {
	if err := s.bus.Publish(subject, msg); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
	}
}

// SettingsApplier is satisfied by the pipeline controller
type SettingsApplier interface {
	Settings() models.PipelineSettings
	UpdateSettings(ctx context.Context, s models.PipelineSettings) error
}

// SubscribeSettings applies settings pushed on subject. Payloads are merged
// over the current snapshot, so a message may carry only the changed fields.
func SubscribeSettings(bus Bus, subject string, applier SettingsApplier, timeout time.Duration, logger zerolog.Logger) (*nats.Subscription, error) {
	sub, err := bus.Subscribe(subject, settingsHandler(applier, timeout, logger))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	logger.Info().Str("subject", subject).Msg("Listening for settings updates")
	return sub, nil
}

func settingsHandler(applier SettingsApplier, timeout time.Duration, logger zerolog.Logger) func([]byte) {
	return func(data []byte) {
		s := applier.Settings()
		if err := json.Unmarshal(data, &s); err != nil {
			logger.Warn().Err(err).Msg("Ignoring malformed settings message")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := applier.UpdateSettings(ctx, s); err != nil {
			logger.Warn().Err(err).Msg("Rejected settings update from NATS")
			return
		}
		logger.Info().Msg("Applied settings update from NATS")
	}
}
