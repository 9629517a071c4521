package counting

import "vehicle-counter-go/internal/models"

// Track is the bookkeeping kept for one detector track id
type Track struct {
	ID            int
	Line          models.LineID
	Class         string
	Counted       bool
	LastSeenFrame int
}

// TrackStore holds live tracks keyed by track id.
// It is owned by a single worker and is not safe for concurrent use.
type TrackStore struct {
	tracks map[int]*Track
}

func NewTrackStore() *TrackStore {
	return &TrackStore{tracks: make(map[int]*Track)}
}

// Get returns the track for id if it is live
func (s *TrackStore) Get(id int) (*Track, bool) {
	t, ok := s.tracks[id]
	return t, ok
}

// Create registers a new track first seen near line on frame
func (s *TrackStore) Create(id int, line models.LineID, class string, frame int) *Track {
	t := &Track{
		ID:            id,
		Line:          line,
		Class:         class,
		LastSeenFrame: frame,
	}
	s.tracks[id] = t
	return t
}

// Touch records that id was seen on frame. Returns false if the id is unknown.
func (s *TrackStore) Touch(id, frame int) (*Track, bool) {
	t, ok := s.tracks[id]
	if !ok {
		return nil, false
	}
	t.LastSeenFrame = frame
	return t, true
}

// EvictStale removes tracks not seen for more than window frames and returns their ids
func (s *TrackStore) EvictStale(frame, window int) []int {
	var evicted []int
	for id, t := range s.tracks {
		if frame-t.LastSeenFrame > window {
			delete(s.tracks, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (s *TrackStore) Len() int {
	return len(s.tracks)
}

func (s *TrackStore) Reset() {
	s.tracks = make(map[int]*Track)
}
