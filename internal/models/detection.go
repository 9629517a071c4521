package models

import "time"

// BBox is an axis-aligned bounding box in frame pixels.
type BBox struct {
	X1 float64 `json:"x1" msgpack:"x1"`
	Y1 float64 `json:"y1" msgpack:"y1"`
	X2 float64 `json:"x2" msgpack:"x2"`
	Y2 float64 `json:"y2" msgpack:"y2"`
}

// Detection represents one tracked object reported by the detector for a frame
type Detection struct {
	TrackID int    `json:"track_id" msgpack:"track_id"`
	Label   string `json:"label" msgpack:"label"`
	BBox    BBox   `json:"bbox" msgpack:"bbox"`
}

// LineID identifies which of the two detection lines a track was first seen near
type LineID int

const (
	LineUnassigned LineID = iota
	Line1
	Line2
)

func (l LineID) String() string {
	switch l {
	case Line1:
		return "line1"
	case Line2:
		return "line2"
	default:
		return "unassigned"
	}
}

// Direction of a counted crossing
type Direction string

const (
	DirectionIn  Direction = "In"
	DirectionOut Direction = "Out"
)

// ClassUnknown is the bucket for labels outside the configured vehicle classes.
// It is tracked but never counted.
const ClassUnknown = "Unknown"

// TimestampLayout is the wall-clock format used for counting events and user start timestamps
const TimestampLayout = "2006-01-02 15:04:05"

// CountingEvent is a single directional line crossing
type CountingEvent struct {
	RunID     string    `json:"run_id" msgpack:"run_id"`
	Frame     int       `json:"frame" msgpack:"frame"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	TrackID   int       `json:"track_id" msgpack:"track_id"`
	Class     string    `json:"class" msgpack:"class"`
	Direction Direction `json:"direction" msgpack:"direction"`
}

// DirectionCounts holds the In and Out totals of one vehicle class
type DirectionCounts struct {
	In  int `json:"in" msgpack:"in"`
	Out int `json:"out" msgpack:"out"`
}

// VehicleCounts maps a vehicle class to its directional totals.
// ClassUnknown is never a key.
type VehicleCounts map[string]DirectionCounts

// NewVehicleCounts returns zeroed counts for every class
func NewVehicleCounts(classes []string) VehicleCounts {
	counts := make(VehicleCounts, len(classes))
	for _, class := range classes {
		counts[class] = DirectionCounts{}
	}
	return counts
}

// Add increments the counter for class in the given direction.
// Unknown classes are ignored.
func (vc VehicleCounts) Add(class string, dir Direction) {
	if class == ClassUnknown {
		return
	}
	c := vc[class]
	switch dir {
	case DirectionIn:
		c.In++
	case DirectionOut:
		c.Out++
	}
	vc[class] = c
}

// Clone returns an independent copy safe to hand to another goroutine
func (vc VehicleCounts) Clone() VehicleCounts {
	out := make(VehicleCounts, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Total returns In+Out summed across all classes
func (vc VehicleCounts) Total() int {
	total := 0
	for _, c := range vc {
		total += c.In + c.Out
	}
	return total
}
