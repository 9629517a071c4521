package pipeline

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
)

// ErrEndOfStream is returned by a file source when no frames are left
var ErrEndOfStream = errors.New("end of stream")

// FrameSource yields frames from a file, camera or network stream
type FrameSource interface {
	Read() (models.Frame, error)
	// FPS is the declared frame rate, 0 if unknown
	FPS() float64
	Kind() models.SourceKind
	Close() error
}

// ProducerConfig tunes pacing and load shedding
type ProducerConfig struct {
	LiveRetryDelay        time.Duration
	BackpressureThreshold int
	DefaultFPS            float64
	MaxFPS                float64
}

func (c ProducerConfig) withDefaults() ProducerConfig {
	if c.LiveRetryDelay <= 0 {
		c.LiveRetryDelay = 10 * time.Millisecond
	}
	if c.BackpressureThreshold <= 0 {
		c.BackpressureThreshold = 2
	}
	if c.DefaultFPS <= 0 {
		c.DefaultFPS = 30
	}
	if c.MaxFPS <= 0 {
		c.MaxFPS = 60
	}
	return c
}

type pendingSettings struct {
	settings models.PipelineSettings
	version  uint64
}

// Producer reads frames from a source and pushes them into the frame queue
type Producer struct {
	cfg    ProducerConfig
	source FrameSource
	queue  *FrameQueue
	stop   *StopFlag
	logger zerolog.Logger

	pending atomic.Pointer[pendingSettings]
	speed   atomic.Uint64 // math.Float64bits of the playback speed

	pushed  atomic.Uint64
	skipped atomic.Uint64
}

func NewProducer(cfg ProducerConfig, source FrameSource, queue *FrameQueue, stop *StopFlag, speed float64, logger zerolog.Logger) *Producer {
	p := &Producer{
		cfg:    cfg.withDefaults(),
		source: source,
		queue:  queue,
		stop:   stop,
		logger: logger,
	}
	p.setSpeed(speed)
	return p
}

// PushSettings stages a snapshot for the next pushed frame. A later call
// before that push replaces it.
func (p *Producer) PushSettings(s models.PipelineSettings, version uint64) {
	p.pending.Store(&pendingSettings{settings: s, version: version})
	p.setSpeed(s.PlaybackSpeed)
}

func (p *Producer) setSpeed(speed float64) {
	if speed <= 0 {
		speed = 1
	}
	p.speed.Store(math.Float64bits(speed))
}

// frameDelay is the pacing interval for file sources at the current speed
func (p *Producer) frameDelay() time.Duration {
	fps := p.source.FPS()
	if fps <= 0 || fps > p.cfg.MaxFPS {
		fps = p.cfg.DefaultFPS
	}
	speed := math.Float64frombits(p.speed.Load())
	return time.Duration(float64(time.Second) / fps / speed)
}

// Run produces until the stop flag is raised, ctx is cancelled or a file
// source runs out. It returns ErrEndOfStream in the last case and closes the
// source on exit.
func (p *Producer) Run(ctx context.Context) error {
	defer func() {
		if err := p.source.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to close video source")
		}
	}()

	live := p.source.Kind().IsLive()
	var (
		seq      uint64
		skipNext bool
		next     = time.Now()
		failures int
	)

	for {
		if p.stop.Stopped() || ctx.Err() != nil {
			return nil
		}

		frame, err := p.source.Read()
		if err != nil {
			if !live {
				p.logger.Info().Err(err).Uint64("frames", seq).Msg("Video source exhausted")
				return ErrEndOfStream
			}
			failures++
			if failures == 1 || failures%100 == 0 {
				p.logger.Warn().Err(err).Int("consecutive_failures", failures).Msg("Live source read failed, retrying")
			}
			if !p.wait(ctx, p.cfg.LiveRetryDelay) {
				return nil
			}
			continue
		}
		failures = 0

		if live && p.queue.Len() > p.cfg.BackpressureThreshold {
			skipNext = !skipNext
			if skipNext {
				p.skipped.Add(1)
				continue
			}
		}

		seq++
		frame.Seq = seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}

		msg := models.FrameMessage{Frame: frame}
		if ps := p.pending.Swap(nil); ps != nil {
			s := ps.settings
			msg.Settings = &s
			msg.SettingsVersion = ps.version
		}
		p.queue.Push(msg)
		p.pushed.Add(1)

		if live {
			continue
		}

		// File pacing follows the source's native frame time
		next = next.Add(p.frameDelay())
		now := time.Now()
		if next.Before(now) {
			next = now
			continue
		}
		if !p.wait(ctx, next.Sub(now)) {
			return nil
		}
	}
}

// wait sleeps for d unless stopped first. Returns false when stopped.
func (p *Producer) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-p.stop.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Stats returns how many frames were pushed and how many were shed under backpressure
func (p *Producer) Stats() (pushed, skipped uint64) {
	return p.pushed.Load(), p.skipped.Load()
}

// ErrFirstFrameTimeout is returned by ReadFirstFrame when no frame arrived in time
var ErrFirstFrameTimeout = errors.New("timeout reading first frame")

// ReadFirstFrame reads up to attempts frames from src, pausing retryDelay after
// each failure, and returns the first good one. It takes ownership of src: the
// reading goroutine closes it after its last Read, so a timeout never closes
// the source underneath a Read still in flight.
func ReadFirstFrame(src FrameSource, attempts int, retryDelay, timeout time.Duration) (models.Frame, error) {
	type readResult struct {
		frame models.Frame
		err   error
	}
	ch := make(chan readResult, 1)
	go func() {
		defer src.Close()
		last := ErrEndOfStream
		for i := 0; i < attempts; i++ {
			frame, err := src.Read()
			if err == nil {
				ch <- readResult{frame: frame}
				return
			}
			last = err
			time.Sleep(retryDelay)
		}
		ch <- readResult{err: last}
	}()

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-time.After(timeout):
		return models.Frame{}, ErrFirstFrameTimeout
	}
}
