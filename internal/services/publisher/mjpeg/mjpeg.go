package mjpeg

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
	"vehicle-counter-go/internal/services/streamcapture"
)

// Publisher keeps the latest annotated frame and streams it to any number of
// MJPEG viewers. Frames are only JPEG-encoded when someone asks for them.
type Publisher struct {
	pipeline.NopSink

	quality int
	logger  zerolog.Logger

	frameMutex sync.Mutex
	latest     *models.Frame
	latestJPEG []byte
	dirty      bool

	notifyMutex sync.Mutex
	viewers     map[chan struct{}]struct{}
}

func NewPublisher(quality int, logger zerolog.Logger) *Publisher {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Publisher{
		quality: quality,
		logger:  logger,
		viewers: make(map[chan struct{}]struct{}),
	}
}

// RunStarted forgets the previous run's last frame
func (p *Publisher) RunStarted(string, models.SourceSpec) {
	p.frameMutex.Lock()
	p.latest = nil
	p.latestJPEG = nil
	p.dirty = false
	p.frameMutex.Unlock()
}

// Frame stores frame as the latest one and wakes the viewers
func (p *Publisher) Frame(frame models.Frame) {
	p.frameMutex.Lock()
	p.latest = &frame
	p.dirty = true
	p.frameMutex.Unlock()

	p.notifyMutex.Lock()
	for notify := range p.viewers {
		select {
		case notify <- struct{}{}:
		default:
		}
	}
	p.notifyMutex.Unlock()
}

// LatestJPEG returns the most recent frame as JPEG, encoding it on first use
func (p *Publisher) LatestJPEG() ([]byte, bool) {
	p.frameMutex.Lock()
	defer p.frameMutex.Unlock()

	if p.latest == nil {
		return nil, false
	}
	if p.dirty {
		buf, err := streamcapture.EncodeJPEG(*p.latest, p.quality)
		if err != nil {
			p.logger.Debug().Err(err).Msg("Failed to encode preview frame")
			return p.latestJPEG, p.latestJPEG != nil
		}
		p.latestJPEG = buf
		p.dirty = false
	}
	return p.latestJPEG, true
}

func (p *Publisher) subscribe() chan struct{} {
	notify := make(chan struct{}, 1)
	p.notifyMutex.Lock()
	p.viewers[notify] = struct{}{}
	p.notifyMutex.Unlock()
	return notify
}

func (p *Publisher) unsubscribe(notify chan struct{}) {
	p.notifyMutex.Lock()
	delete(p.viewers, notify)
	p.notifyMutex.Unlock()
}

// Viewers returns the number of connected MJPEG clients
func (p *Publisher) Viewers() int {
	p.notifyMutex.Lock()
	defer p.notifyMutex.Unlock()
	return len(p.viewers)
}

// StreamMJPEGHTTP serves multipart/x-mixed-replace until the client leaves
func (p *Publisher) StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request) {
	boundary := "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	notify := p.subscribe()
	defer p.unsubscribe(notify)

	writePart := func(jpeg []byte) bool {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "Content-Type: image/jpeg\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(jpeg))); err != nil {
			return false
		}
		if _, err := w.Write(jpeg); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	first, ok := p.LatestJPEG()
	if !ok {
		first = p.placeholder()
	}
	if len(first) > 0 && !writePart(first) {
		return
	}

	keepaliveTicker := time.NewTicker(2 * time.Second)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
		case <-keepaliveTicker.C:
		}
		if buf, ok := p.LatestJPEG(); ok && len(buf) > 0 {
			if !writePart(buf) {
				return
			}
		}
	}
}

// placeholder is shown until the first frame of a run arrives
func (p *Publisher) placeholder() []byte {
	mat := gocv.NewMatWithSize(360, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()

	mat.SetTo(gocv.Scalar{Val1: 64, Val2: 64, Val3: 64, Val4: 0})
	textColor := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.PutText(&mat, "Vehicle counter", image.Pt(20, 180), gocv.FontHersheySimplex, 1.0, textColor, 2)
	gocv.PutText(&mat, "Waiting for frames...", image.Pt(20, 220), gocv.FontHersheySimplex, 0.8, textColor, 2)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, p.quality})
	if err != nil {
		return nil
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}
