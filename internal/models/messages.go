package models

import "time"

// Frame is a raw BGR24 image, row-major, 3 bytes per pixel
type Frame struct {
	Data       []byte    `json:"-" msgpack:"data"`
	Width      int       `json:"width" msgpack:"width"`
	Height     int       `json:"height" msgpack:"height"`
	Seq        uint64    `json:"seq" msgpack:"seq"`
	CapturedAt time.Time `json:"captured_at" msgpack:"captured_at"`
}

// Valid reports whether the buffer matches the declared dimensions
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == f.Width*f.Height*3
}

// FrameMessage is one item on the frame channel. Settings is non-nil only
// when the snapshot changed since the previous push. SettingsVersion increases
// with every snapshot so a receiver can ignore one older than what it applied.
type FrameMessage struct {
	Frame           Frame             `msgpack:"frame"`
	Settings        *PipelineSettings `msgpack:"settings,omitempty"`
	SettingsVersion uint64            `msgpack:"settings_version,omitempty"`
}

// ResultKind tags the variant carried by a Result
type ResultKind string

const (
	ResultReady         ResultKind = "ready"
	ResultDetectorError ResultKind = "detector_error"
	ResultFrame         ResultKind = "frame"
	ResultDataUpdate    ResultKind = "data_update"
	ResultWarning       ResultKind = "warning"
)

// Result is the tagged union emitted by the worker on the result channel.
// Only the fields of the active Kind are set.
type Result struct {
	Kind    ResultKind      `msgpack:"kind"`
	Message string          `msgpack:"message,omitempty"`
	Frame   *Frame          `msgpack:"frame,omitempty"`
	Events  []CountingEvent `msgpack:"events,omitempty"`
	Counts  VehicleCounts   `msgpack:"counts,omitempty"`
}

func ReadyResult() Result {
	return Result{Kind: ResultReady}
}

func DetectorErrorResult(err error) Result {
	return Result{Kind: ResultDetectorError, Message: err.Error()}
}

func FrameResult(frame Frame) Result {
	return Result{Kind: ResultFrame, Frame: &frame}
}

// DataUpdateResult copies events and counts so the worker keeps sole ownership of its state
func DataUpdateResult(events []CountingEvent, counts VehicleCounts) Result {
	return Result{
		Kind:   ResultDataUpdate,
		Events: append([]CountingEvent(nil), events...),
		Counts: counts.Clone(),
	}
}

func WarningResult(message string) Result {
	return Result{Kind: ResultWarning, Message: message}
}
