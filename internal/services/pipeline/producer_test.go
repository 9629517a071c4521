package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-counter-go/internal/models"
)

func runProducer(p *Producer) chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	return done
}

func TestProducerFileEndOfStream(t *testing.T) {
	src := &fakeSource{kind: models.SourceFile, fps: 1000, limit: 4}
	q := NewFrameQueue(10)
	p := NewProducer(ProducerConfig{MaxFPS: 2000}, src, q, NewStopFlag(), 1, zerolog.Nop())

	select {
	case err := <-runProducer(p):
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not finish")
	}

	assert.True(t, src.closed.Load(), "source closed on exit")
	assert.Equal(t, 4, q.Len())
	pushed, skipped := p.Stats()
	assert.Equal(t, uint64(4), pushed)
	assert.Zero(t, skipped)

	for want := uint64(1); want <= 4; want++ {
		msg, err := q.Receive(time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Frame.Seq)
		assert.False(t, msg.Frame.CapturedAt.IsZero())
	}
}

func TestProducerLiveSourceRetriesFailedReads(t *testing.T) {
	src := &fakeSource{kind: models.SourceCamera, failAt: map[int]bool{1: true, 2: true}}
	q := NewFrameQueue(5)
	stop := NewStopFlag()
	p := NewProducer(ProducerConfig{LiveRetryDelay: time.Millisecond}, src, q, stop, 1, zerolog.Nop())

	done := runProducer(p)
	require.Eventually(t, func() bool { return q.Len() > 0 }, time.Second, time.Millisecond)
	stop.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err, "live sources never end the stream")
	case <-time.After(time.Second):
		t.Fatal("producer ignored stop flag")
	}
	assert.GreaterOrEqual(t, src.Reads(), 3)
}

func TestProducerShedsAlternateLiveFramesUnderBackpressure(t *testing.T) {
	src := &fakeSource{kind: models.SourceNetwork}
	q := NewFrameQueue(5)
	stop := NewStopFlag()
	p := NewProducer(ProducerConfig{BackpressureThreshold: 2}, src, q, stop, 1, zerolog.Nop())

	done := runProducer(p)
	// Nobody consumes, so the queue stays above the threshold
	require.Eventually(t, func() bool {
		_, skipped := p.Stats()
		return skipped >= 10
	}, 2*time.Second, time.Millisecond)
	stop.Stop()
	<-done

	pushed, skipped := p.Stats()
	// Three frames fill the queue past the threshold; after that every other one is shed
	assert.InDelta(t, float64(skipped), float64(pushed-3), 1)
	assert.LessOrEqual(t, q.Len(), 5)
	assert.Equal(t, pushed-5, q.Dropped())
}

func TestProducerAttachesSettingsToOneFrame(t *testing.T) {
	src := &fakeSource{kind: models.SourceCamera}
	q := NewFrameQueue(100)
	stop := NewStopFlag()
	p := NewProducer(ProducerConfig{BackpressureThreshold: 1000}, src, q, stop, 1, zerolog.Nop())

	s := testSettings()
	s.LineOffset = 80
	p.PushSettings(s, 7)

	done := runProducer(p)
	require.Eventually(t, func() bool { return q.Len() >= 5 }, time.Second, time.Millisecond)
	stop.Stop()
	<-done

	var withSettings []models.FrameMessage
	for q.Len() > 0 {
		msg, err := q.Receive(time.Millisecond)
		require.NoError(t, err)
		if msg.Settings != nil {
			withSettings = append(withSettings, msg)
		}
	}
	require.Len(t, withSettings, 1)
	assert.Equal(t, uint64(1), withSettings[0].Frame.Seq)
	assert.Equal(t, 80, withSettings[0].Settings.LineOffset)
	assert.Equal(t, uint64(7), withSettings[0].SettingsVersion)
}

func TestProducerFrameDelayFollowsSpeed(t *testing.T) {
	tests := []struct {
		name  string
		fps   float64
		speed float64
		want  time.Duration
	}{
		{"native 25fps", 25, 1, 40 * time.Millisecond},
		{"double speed", 25, 2, 20 * time.Millisecond},
		{"half speed", 20, 0.5, 100 * time.Millisecond},
		{"unknown rate uses default", 0, 1, time.Second / 30},
		{"implausible rate uses default", 240, 1, time.Second / 30},
		{"non-positive speed treated as 1", 25, 0, 40 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{kind: models.SourceFile, fps: tt.fps}
			p := NewProducer(ProducerConfig{}, src, NewFrameQueue(1), NewStopFlag(), tt.speed, zerolog.Nop())
			assert.Equal(t, tt.want, p.frameDelay())
		})
	}

	src := &fakeSource{kind: models.SourceFile, fps: 25}
	p := NewProducer(ProducerConfig{}, src, NewFrameQueue(1), NewStopFlag(), 1, zerolog.Nop())
	s := testSettings()
	s.PlaybackSpeed = 4
	p.PushSettings(s, 2)
	assert.Equal(t, 10*time.Millisecond, p.frameDelay())
}

func TestProducerPacesFileSource(t *testing.T) {
	src := &fakeSource{kind: models.SourceFile, fps: 50, limit: 10}
	p := NewProducer(ProducerConfig{}, src, NewFrameQueue(20), NewStopFlag(), 1, zerolog.Nop())

	started := time.Now()
	err := <-runProducer(p)
	require.ErrorIs(t, err, ErrEndOfStream)
	// 10 frames at 20ms each
	assert.GreaterOrEqual(t, time.Since(started), 150*time.Millisecond)
}

// stalledSource blocks every Read until release is closed and notes whether
// Close ever ran while a Read was still in flight.
type stalledSource struct {
	release chan struct{}

	reading          atomic.Bool
	closed           atomic.Bool
	closedDuringRead atomic.Bool
}

func (s *stalledSource) Read() (models.Frame, error) {
	s.reading.Store(true)
	defer s.reading.Store(false)
	<-s.release
	return testFrame(0), nil
}

func (s *stalledSource) FPS() float64            { return 25 }
func (s *stalledSource) Kind() models.SourceKind { return models.SourceNetwork }

func (s *stalledSource) Close() error {
	if s.reading.Load() {
		s.closedDuringRead.Store(true)
	}
	s.closed.Store(true)
	return nil
}

func TestReadFirstFrameReturnsFirstGoodFrameAndCloses(t *testing.T) {
	src := &fakeSource{kind: models.SourceFile, failAt: map[int]bool{1: true, 2: true}}

	frame, err := ReadFirstFrame(src, 5, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testFrame(0).Width, frame.Width)
	assert.Equal(t, 3, src.Reads())
	require.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond)
}

func TestReadFirstFrameGivesUpAfterAttempts(t *testing.T) {
	src := &fakeSource{kind: models.SourceFile, failAt: map[int]bool{1: true, 2: true, 3: true}}

	_, err := ReadFirstFrame(src, 3, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFirstFrameTimeout))
	assert.Equal(t, 3, src.Reads())
}

func TestReadFirstFrameTimeoutLeavesCloseToReader(t *testing.T) {
	src := &stalledSource{release: make(chan struct{})}

	_, err := ReadFirstFrame(src, 5, time.Millisecond, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrFirstFrameTimeout)
	assert.False(t, src.closed.Load(), "source must stay open while a Read is blocked")

	close(src.release)
	require.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond)
	assert.False(t, src.closedDuringRead.Load())
}
