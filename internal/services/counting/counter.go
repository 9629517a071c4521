package counting

import "vehicle-counter-go/internal/models"

const (
	DefaultProximity   = 25
	DefaultStaleFrames = 30
)

// DefaultClasses is the vehicle class enumeration used when none is configured
var DefaultClasses = []string{"Gol 1", "Gol 2", "Gol 3", "Gol 4", "Gol 5", "Motor"}

// Options configures a Counter
type Options struct {
	Classes     []string
	Proximity   int
	StaleFrames int
}

func (o Options) withDefaults() Options {
	if len(o.Classes) == 0 {
		o.Classes = DefaultClasses
	}
	if o.Proximity <= 0 {
		o.Proximity = DefaultProximity
	}
	if o.StaleFrames <= 0 {
		o.StaleFrames = DefaultStaleFrames
	}
	return o
}

// Crossing is a counted track reaching the opposite line
type Crossing struct {
	TrackID   int
	Class     string
	Direction models.Direction
}

// Counter turns per-frame detections into crossings and keeps per-class totals.
// Not safe for concurrent use; a single worker owns it.
type Counter struct {
	opts   Options
	store  *TrackStore
	known  map[string]struct{}
	counts models.VehicleCounts
}

func NewCounter(opts Options) *Counter {
	opts = opts.withDefaults()
	known := make(map[string]struct{}, len(opts.Classes))
	for _, c := range opts.Classes {
		known[c] = struct{}{}
	}
	return &Counter{
		opts:   opts,
		store:  NewTrackStore(),
		known:  known,
		counts: models.NewVehicleCounts(opts.Classes),
	}
}

// Classify maps a detector label onto the class enumeration
func (c *Counter) Classify(label string) string {
	if _, ok := c.known[label]; ok {
		return label
	}
	return models.ClassUnknown
}

// Process runs one frame of detections through the track state machine.
// Detections are handled in the order given. Stale tracks are evicted
// after all detections so a track seen this frame is never dropped.
func (c *Counter) Process(frame int, geom Geometry, detections []models.Detection) []Crossing {
	var crossings []Crossing

	for _, det := range detections {
		point := geom.TriggerPoint(det.BBox)

		if track, ok := c.store.Touch(det.TrackID, frame); ok {
			if track.Counted {
				continue
			}
			var dir models.Direction
			switch {
			case track.Line == models.Line1 && Near(point, geom.Line2, c.opts.Proximity):
				dir = models.DirectionIn
			case track.Line == models.Line2 && Near(point, geom.Line1, c.opts.Proximity):
				dir = models.DirectionOut
			default:
				continue
			}
			track.Counted = true
			// Unknown crossings are reported but never reach the totals
			c.counts.Add(track.Class, dir)
			crossings = append(crossings, Crossing{TrackID: track.ID, Class: track.Class, Direction: dir})
			continue
		}

		// First sighting: only objects appearing near a line are tracked
		switch {
		case Near(point, geom.Line1, c.opts.Proximity):
			c.store.Create(det.TrackID, models.Line1, c.Classify(det.Label), frame)
		case Near(point, geom.Line2, c.opts.Proximity):
			c.store.Create(det.TrackID, models.Line2, c.Classify(det.Label), frame)
		}
	}

	c.store.EvictStale(frame, c.opts.StaleFrames)
	return crossings
}

// Counts returns a copy of the per-class totals
func (c *Counter) Counts() models.VehicleCounts {
	return c.counts.Clone()
}

// Store exposes the track table for inspection
func (c *Counter) Store() *TrackStore {
	return c.store
}

// Classes returns the configured class enumeration
func (c *Counter) Classes() []string {
	return append([]string(nil), c.opts.Classes...)
}

// Reset clears tracks and totals
func (c *Counter) Reset() {
	c.store.Reset()
	c.counts = models.NewVehicleCounts(c.opts.Classes)
}
