package streamcapture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
)

// ErrReadFailed is returned when the capture yields no frame
var ErrReadFailed = errors.New("failed to read frame")

// FFmpeg options for network streams, applied through OPENCV_FFMPEG_CAPTURE_OPTIONS
var networkFFmpegOptions = map[string]string{
	"rtsp_transport":        "tcp",     // Use TCP for more reliable connection
	"buffer_size":           "2097152", // 2MB buffer - smaller for real-time
	"max_delay":             "500000",  // 0.5s max delay
	"stimeout":              "5000000", // 5s timeout
	"rw_timeout":            "5000000", // 5s read/write timeout
	"flags":                 "low_delay",
	"fflags":                "nobuffer+flush_packets",
	"drop_pkts_on_overflow": "1",
	"analyzeduration":       "500000",  // 0.5s analyze
	"probesize":             "2000000", // 2MB probe
	"allowed_media_types":   "video",
	"reconnect":             "1",
	"reconnect_streamed":    "1",
	"reconnect_delay_max":   "2",
}

// ffmpegOptionsString renders options in OpenCV's key;value|key;value form
func ffmpegOptionsString(options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+";"+options[k])
	}
	return strings.Join(parts, "|")
}

var ffmpegOnce sync.Once

func configureFFmpegOptions(logger zerolog.Logger) {
	ffmpegOnce.Do(func() {
		opts := ffmpegOptionsString(networkFFmpegOptions)
		os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", opts)
		logger.Info().Str("ffmpeg_options", opts).Msg("FFmpeg options configured for OpenCV")
	})
}

// Source reads BGR frames from a file, camera or network stream through OpenCV
type Source struct {
	spec   models.SourceSpec
	cap    *gocv.VideoCapture
	img    gocv.Mat
	fps    float64
	logger zerolog.Logger

	closeOnce sync.Once
}

// Open opens the capture for spec. The spec is resolved first so a bare
// camera index or stream URL gets the right kind.
func Open(spec models.SourceSpec, logger zerolog.Logger) (*Source, error) {
	spec = spec.Resolve()
	logger = logger.With().Str("source", spec.URI).Str("kind", spec.Kind.String()).Logger()

	var (
		cap *gocv.VideoCapture
		err error
	)
	switch spec.Kind {
	case models.SourceCamera:
		idx, _ := spec.CameraIndex()
		cap, err = gocv.OpenVideoCapture(idx)
	case models.SourceNetwork:
		configureFFmpegOptions(logger)
		cap, err = gocv.OpenVideoCaptureWithAPI(spec.URI, gocv.VideoCaptureFFmpeg)
	default:
		if _, statErr := os.Stat(spec.URI); statErr != nil {
			return nil, fmt.Errorf("video file %s: %w", spec.URI, statErr)
		}
		cap, err = gocv.OpenVideoCapture(spec.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source %s: %w", spec.Kind, spec.URI, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video capture is not opened for %s", spec.URI)
	}

	if spec.Kind.IsLive() {
		// Minimal buffer for low latency
		cap.Set(gocv.VideoCaptureBufferSize, 1)
	}

	s := &Source{
		spec:   spec,
		cap:    cap,
		img:    gocv.NewMat(),
		fps:    cap.Get(gocv.VideoCaptureFPS),
		logger: logger,
	}

	logger.Info().
		Float64("fps", s.fps).
		Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Msg("VideoCapture opened successfully")
	return s, nil
}

// Opener adapts Open to the pipeline's SourceOpener
func Opener(logger zerolog.Logger) pipeline.SourceOpener {
	return func(spec models.SourceSpec) (pipeline.FrameSource, error) {
		return Open(spec, logger)
	}
}

func (s *Source) Read() (models.Frame, error) {
	if ok := s.cap.Read(&s.img); !ok || s.img.Empty() {
		return models.Frame{}, ErrReadFailed
	}

	img := s.img
	if code, ok := toBGR(img.Channels()); ok {
		converted := gocv.NewMat()
		defer converted.Close()
		gocv.CvtColor(img, &converted, code)
		img = converted
	}

	return models.Frame{
		Data:       img.ToBytes(),
		Width:      img.Cols(),
		Height:     img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// toBGR picks the conversion for a decoded frame with the given channel count.
// ok is false when the frame is already 3-channel BGR.
func toBGR(channels int) (code gocv.ColorConversionCode, ok bool) {
	switch channels {
	case 1:
		return gocv.ColorGrayToBGR, true
	case 4:
		return gocv.ColorBGRAToBGR, true
	default:
		return 0, false
	}
}

func (s *Source) FPS() float64 { return s.fps }

func (s *Source) Kind() models.SourceKind { return s.spec.Kind }

func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.img.Close()
		if err := s.cap.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close VideoCapture")
			return
		}
		s.logger.Info().Msg("VideoCapture closed")
	})
	return nil
}

// Probe opens spec, reads a few frames within timeout and returns a JPEG
// data-URL thumbnail of the first good one.
func Probe(spec models.SourceSpec, timeout time.Duration, logger zerolog.Logger) models.ProbeResult {
	res := models.ProbeResult{Message: "video source validation failed"}

	src, err := Open(spec, logger)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Kind = src.Kind()
	res.FPS = src.FPS()

	// ReadFirstFrame closes src once its reader is done
	frame, err := pipeline.ReadFirstFrame(src, 5, 200*time.Millisecond, timeout)
	switch {
	case errors.Is(err, pipeline.ErrFirstFrameTimeout):
		res.Error = fmt.Sprintf("timeout reading from source (%s limit)", timeout)
		return res
	case err != nil:
		res.Error = "failed to read stable frames: " + err.Error()
		return res
	}

	jpeg, err := EncodeJPEG(frame, 85)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Valid = true
	res.Message = "video source is valid and accessible"
	res.Width = frame.Width
	res.Height = frame.Height
	res.Thumbnail = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
	logger.Info().
		Str("source", spec.URI).
		Int("width", res.Width).
		Int("height", res.Height).
		Float64("fps", res.FPS).
		Msg("Video source validation successful")
	return res
}

// EncodeJPEG compresses a BGR frame
func EncodeJPEG(frame models.Frame, quality int) ([]byte, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("invalid frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Data))
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
