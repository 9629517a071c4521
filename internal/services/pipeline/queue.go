package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"vehicle-counter-go/internal/models"
)

var (
	ErrQueueClosed    = errors.New("frame queue closed")
	ErrReceiveTimeout = errors.New("frame queue receive timed out")
)

// DefaultFrameQueueSize is the frame channel capacity
const DefaultFrameQueueSize = 5

// FrameQueue is the bounded frame channel between producer and worker.
// One writer, one reader. A push into a full queue drops the oldest item.
type FrameQueue struct {
	ch        chan models.FrameMessage
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultFrameQueueSize
	}
	return &FrameQueue{
		ch:     make(chan models.FrameMessage, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues msg without blocking. When the queue is full the oldest
// buffered message is discarded first; if it carried a settings snapshot and
// msg does not, the snapshot moves onto msg so it is never lost.
// Returns true if a message was dropped.
func (q *FrameQueue) Push(msg models.FrameMessage) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	select {
	case q.ch <- msg:
		return false
	default:
	}

	dropped := false
	select {
	case old := <-q.ch:
		dropped = true
		q.dropped.Add(1)
		if msg.Settings == nil && old.Settings != nil {
			msg.Settings = old.Settings
			msg.SettingsVersion = old.SettingsVersion
		}
	default:
	}

	select {
	case q.ch <- msg:
	default:
		// Only reachable with a second writer
		q.dropped.Add(1)
	}
	return dropped
}

// Receive waits up to timeout for a message
func (q *FrameQueue) Receive(timeout time.Duration) (models.FrameMessage, error) {
	select {
	case <-q.closed:
		return models.FrameMessage{}, ErrQueueClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.closed:
		return models.FrameMessage{}, ErrQueueClosed
	case <-timer.C:
		return models.FrameMessage{}, ErrReceiveTimeout
	}
}

// Close poisons the queue; pending and future receives return ErrQueueClosed
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Drain discards everything buffered and returns how many items were removed
func (q *FrameQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

func (q *FrameQueue) Len() int        { return len(q.ch) }
func (q *FrameQueue) Cap() int        { return cap(q.ch) }
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// ResultQueue is the unbounded result channel drained by the dispatcher
type ResultQueue struct {
	mu    sync.Mutex
	items []models.Result
}

func NewResultQueue() *ResultQueue {
	return &ResultQueue{}
}

// Put appends r; never blocks on a reader
func (q *ResultQueue) Put(r models.Result) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// TryPop returns the oldest result if one is available
func (q *ResultQueue) TryPop() (models.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return models.Result{}, false
	}
	r := q.items[0]
	q.items[0] = models.Result{}
	q.items = q.items[1:]
	return r, true
}

// DrainAll removes and returns everything queued, oldest first
func (q *ResultQueue) DrainAll() []models.Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
