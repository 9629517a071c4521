package pipeline

import (
	"sync"
	"time"
)

// StopFlag is the cooperative stop signal shared by the producer and worker of a run
type StopFlag struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopFlag() *StopFlag {
	return &StopFlag{ch: make(chan struct{})}
}

// Stop raises the flag. Safe to call more than once.
func (s *StopFlag) Stop() {
	s.once.Do(func() { close(s.ch) })
}

func (s *StopFlag) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *StopFlag) Done() <-chan struct{} {
	return s.ch
}

// Clock abstracts wall-clock reads so timestamping can be tested
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
