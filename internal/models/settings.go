package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSettings is returned when a settings snapshot fails validation
var ErrInvalidSettings = errors.New("invalid pipeline settings")

// Orientation of the detection lines
type Orientation string

const (
	OrientationHorizontal Orientation = "Horizontal"
	OrientationVertical   Orientation = "Vertical"
)

// IsValid checks if the orientation is one of the supported values
func (o Orientation) IsValid() bool {
	switch o {
	case OrientationHorizontal, OrientationVertical:
		return true
	default:
		return false
	}
}

// PipelineSettings is an immutable snapshot of the tunable pipeline parameters.
// Line positions and offset are in display canvas coordinates.
type PipelineSettings struct {
	ConfidenceThreshold float64     `json:"confidence_threshold" msgpack:"confidence_threshold"`
	LineOffset          int         `json:"line_offset" msgpack:"line_offset"`
	Orientation         Orientation `json:"line_orientation" msgpack:"line_orientation"`
	Line1Y              int         `json:"line1_y" msgpack:"line1_y"`
	Line1X              int         `json:"line1_x" msgpack:"line1_x"`
	PlaybackSpeed       float64     `json:"playback_speed" msgpack:"playback_speed"`
	StartTimestamp      string      `json:"start_timestamp_user,omitempty" msgpack:"start_timestamp_user"`
}

// Validate checks ranges and the start timestamp format
func (s PipelineSettings) Validate() error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold %.2f outside [0,1]", ErrInvalidSettings, s.ConfidenceThreshold)
	}
	if s.LineOffset < 0 {
		return fmt.Errorf("%w: line_offset must not be negative", ErrInvalidSettings)
	}
	if !s.Orientation.IsValid() {
		return fmt.Errorf("%w: unknown line_orientation %q", ErrInvalidSettings, s.Orientation)
	}
	if s.Line1Y < 0 || s.Line1X < 0 {
		return fmt.Errorf("%w: line positions must not be negative", ErrInvalidSettings)
	}
	if s.PlaybackSpeed <= 0 {
		return fmt.Errorf("%w: playback_speed must be positive", ErrInvalidSettings)
	}
	if s.StartTimestamp != "" {
		if _, err := ParseStartTimestamp(s.StartTimestamp, time.Now()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	return nil
}

// LinePosition returns the primary line coordinate for the active orientation
func (s PipelineSettings) LinePosition() int {
	if s.Orientation == OrientationVertical {
		return s.Line1X
	}
	return s.Line1Y
}

// ParseStartTimestamp accepts a full "2006-01-02 15:04:05" value or a bare
// "15:04:05" which is placed on the date of now. The result is in now's location.
func ParseStartTimestamp(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation(TimestampLayout, value, now.Location()); err == nil {
		return t, nil
	}
	clock, err := time.ParseInLocation("15:04:05", value, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("start timestamp %q: expected %q", value, TimestampLayout)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, now.Location()), nil
}
