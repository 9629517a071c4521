package detection

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"vehicle-counter-go/internal/models"
)

const (
	healthCheckMethod = "/vehiclecount.Detector/HealthCheck"
	trackMethod       = "/vehiclecount.Detector/Track"
)

// GRPCOption customises a GRPCDetector
type GRPCOption func(*GRPCDetector)

// WithHealthTimeout bounds the health check performed by Initialize
func WithHealthTimeout(d time.Duration) GRPCOption {
	return func(g *GRPCDetector) { g.healthTimeout = d }
}

// WithDialer routes connections through dial, bypassing name resolution
func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) GRPCOption {
	return func(g *GRPCDetector) { g.dialer = dial }
}

// WithLogger sets the logger used for connection and failure reporting
func WithLogger(logger zerolog.Logger) GRPCOption {
	return func(g *GRPCDetector) { g.logger = logger }
}

// GRPCDetector calls a remote detection service over gRPC using
// google.protobuf.Struct messages
type GRPCDetector struct {
	endpoint      string
	healthTimeout time.Duration
	dialer        func(ctx context.Context, addr string) (net.Conn, error)
	logger        zerolog.Logger

	mu   sync.RWMutex
	conn *grpc.ClientConn

	// Failure tracking
	lastFailTime     time.Time
	consecutiveFails int
	maxRetryBackoff  time.Duration
}

// NewGRPCDetector creates a detector client for endpoint. No connection is made until Initialize.
func NewGRPCDetector(endpoint string, opts ...GRPCOption) *GRPCDetector {
	g := &GRPCDetector{
		endpoint:        endpoint,
		healthTimeout:   5 * time.Second,
		logger:          zerolog.Nop(),
		maxRetryBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize connects and runs a blocking health check
func (g *GRPCDetector) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		return nil
	}

	host, creds, err := parseGRPCEndpoint(g.endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse detector endpoint %s: %w", g.endpoint, err)
	}

	target := host
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if g.dialer != nil {
		target = "passthrough:///" + host
		dialOpts = append(dialOpts, grpc.WithContextDialer(g.dialer))
	}

	g.logger.Info().
		Str("original_endpoint", g.endpoint).
		Str("normalized_endpoint", host).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Msg("Connecting to detector gRPC service")

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to connect to detector at %s: %w", host, err)
	}

	hctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
	defer cancel()

	var health structpb.Struct
	if err := conn.Invoke(hctx, healthCheckMethod, &structpb.Struct{}, &health); err != nil {
		conn.Close()
		return fmt.Errorf("detector health check failed: %w", err)
	}
	if status := health.GetFields()["status"].GetStringValue(); status != "" && status != "ok" && status != "SERVING" {
		conn.Close()
		return fmt.Errorf("detector not ready: status %q", status)
	}

	g.conn = conn
	g.consecutiveFails = 0
	g.logger.Info().Str("detector_endpoint", host).Msg("Detector health check passed")
	return nil
}

// Detect sends one frame and returns the tracked objects. The input frame is
// returned unchanged unless the service sends back an annotated image.
func (g *GRPCDetector) Detect(ctx context.Context, frame models.Frame, confidence float64) (models.Frame, []models.Detection, error) {
	g.mu.RLock()
	conn := g.conn
	g.mu.RUnlock()

	if conn == nil {
		return frame, nil, ErrNotInitialized
	}
	if !g.shouldRetry() {
		return frame, nil, fmt.Errorf("detector in backoff after %d consecutive failures", g.failures())
	}

	req, err := encodeTrackRequest(frame, confidence)
	if err != nil {
		return frame, nil, err
	}

	var resp structpb.Struct
	if err := conn.Invoke(ctx, trackMethod, req, &resp); err != nil {
		g.recordFailure()
		return frame, nil, fmt.Errorf("inference failed: %w", err)
	}

	g.mu.Lock()
	g.consecutiveFails = 0
	g.mu.Unlock()

	annotated, detections, err := decodeTrackResponse(&resp, frame)
	if err != nil {
		return frame, nil, err
	}
	return annotated, detections, nil
}

// Close releases the connection
func (g *GRPCDetector) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	g.logger.Info().Msg("Detector gRPC connection closed")
	return err
}

// State returns the current connection state
func (g *GRPCDetector) State() connectivity.State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.conn == nil {
		return connectivity.Shutdown
	}
	return g.conn.GetState()
}

func (g *GRPCDetector) failures() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.consecutiveFails
}

// shouldRetry applies exponential backoff after consecutive inference failures
func (g *GRPCDetector) shouldRetry() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.consecutiveFails < 3 {
		return true
	}

	// 1s, 2s, 4s, ... capped at maxRetryBackoff
	backoff := time.Duration(1<<uint(min(g.consecutiveFails-3, 5))) * time.Second
	if backoff > g.maxRetryBackoff {
		backoff = g.maxRetryBackoff
	}
	return time.Since(g.lastFailTime) >= backoff
}

func (g *GRPCDetector) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFails++
	g.lastFailTime = time.Now()

	if g.consecutiveFails <= 5 {
		g.logger.Warn().
			Int("consecutive_fails", g.consecutiveFails).
			Msg("Detector call failure recorded")
	}
}

// parseGRPCEndpoint normalizes endpoint to host:port and picks TLS for https
// or the well-known TLS ports
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	if !strings.Contains(endpoint, "://") {
		if strings.Contains(endpoint, ".") && !strings.Contains(endpoint, ":") {
			endpoint = "https://" + endpoint + ":443"
		} else if strings.Contains(endpoint, ":") {
			parts := strings.Split(endpoint, ":")
			if len(parts) == 2 {
				if port, err := strconv.Atoi(parts[1]); err == nil {
					if port == 443 || port == 8443 || port == 9443 {
						endpoint = "https://" + endpoint
					} else {
						endpoint = "http://" + endpoint
					}
				} else {
					endpoint = "http://" + endpoint
				}
			}
		} else {
			endpoint = "https://" + endpoint + ":443"
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		default:
			return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
		}
	}

	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "https":
		creds = credentials.NewTLS(&tls.Config{ServerName: u.Hostname()})
	case "http":
		creds = insecure.NewCredentials()
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	return host, creds, nil
}
