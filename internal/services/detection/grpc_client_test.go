package detection

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"vehicle-counter-go/internal/models"
)

// fakeDetectorServer answers both detector methods without generated stubs
type fakeDetectorServer struct {
	healthStatus string
	trackErr     error
	calls        atomic.Int32
	lastConf     atomic.Value
}

func (f *fakeDetectorServer) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	var req structpb.Struct
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	switch method {
	case healthCheckMethod:
		resp, _ := structpb.NewStruct(map[string]any{"status": f.healthStatus})
		return stream.SendMsg(resp)
	case trackMethod:
		f.calls.Add(1)
		f.lastConf.Store(req.GetFields()["confidence"].GetNumberValue())
		if f.trackErr != nil {
			return f.trackErr
		}
		resp, _ := structpb.NewStruct(map[string]any{
			"detections": []any{
				map[string]any{"track_id": 7, "label": "Gol 1", "box": []any{10, 20, 110, 302}},
				map[string]any{"track_id": nil, "label": "Motor", "box": []any{0, 0, 1, 1}},
				map[string]any{"label": "Motor", "box": []any{0, 0, 1, 1}},
			},
		})
		return stream.SendMsg(resp)
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

func startFakeDetector(t *testing.T, srv *fakeDetectorServer) *GRPCDetector {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnknownServiceHandler(srv.handle))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	return NewGRPCDetector("bufnet:50051",
		WithHealthTimeout(2*time.Second),
		WithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
}

func testFrame() models.Frame {
	return models.Frame{Width: 4, Height: 2, Data: make([]byte, 4*2*3), Seq: 11}
}

func TestGRPCDetectorDetect(t *testing.T) {
	srv := &fakeDetectorServer{healthStatus: "ok"}
	d := startFakeDetector(t, srv)
	defer d.Close()

	require.NoError(t, d.Initialize(context.Background()))

	frame := testFrame()
	annotated, dets, err := d.Detect(context.Background(), frame, 0.35)
	require.NoError(t, err)

	assert.Equal(t, frame, annotated)
	require.Len(t, dets, 1)
	assert.Equal(t, models.Detection{
		TrackID: 7,
		Label:   "Gol 1",
		BBox:    models.BBox{X1: 10, Y1: 20, X2: 110, Y2: 302},
	}, dets[0])
	assert.Equal(t, 0.35, srv.lastConf.Load())
}

func TestGRPCDetectorInitializeFailsWhenUnhealthy(t *testing.T) {
	d := startFakeDetector(t, &fakeDetectorServer{healthStatus: "loading"})
	err := d.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading")

	_, _, err = d.Detect(context.Background(), testFrame(), 0.2)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGRPCDetectorBacksOffAfterRepeatedFailures(t *testing.T) {
	srv := &fakeDetectorServer{healthStatus: "ok", trackErr: status.Error(codes.Internal, "model crashed")}
	d := startFakeDetector(t, srv)
	defer d.Close()
	require.NoError(t, d.Initialize(context.Background()))

	for i := 0; i < 3; i++ {
		_, _, err := d.Detect(context.Background(), testFrame(), 0.2)
		require.Error(t, err)
	}
	_, _, err := d.Detect(context.Background(), testFrame(), 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff")
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestGRPCDetectorRejectsMalformedFrame(t *testing.T) {
	d := startFakeDetector(t, &fakeDetectorServer{healthStatus: "ok"})
	defer d.Close()
	require.NoError(t, d.Initialize(context.Background()))

	_, _, err := d.Detect(context.Background(), models.Frame{Width: 4, Height: 4, Data: []byte{1, 2}}, 0.2)
	assert.Error(t, err)
}

func TestParseGRPCEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		wantHost string
		wantTLS  bool
		wantErr  bool
	}{
		{endpoint: "192.168.1.76:50052", wantHost: "192.168.1.76:50052"},
		{endpoint: "detector.internal:8443", wantHost: "detector.internal:8443", wantTLS: true},
		{endpoint: "detector.example.com", wantHost: "detector.example.com:443", wantTLS: true},
		{endpoint: "http://localhost", wantHost: "localhost:80"},
		{endpoint: "https://ai.example.com:9000", wantHost: "ai.example.com:9000", wantTLS: true},
		{endpoint: "ftp://ai.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, creds, err := parseGRPCEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantTLS, creds.Info().SecurityProtocol == "tls")
		})
	}
}

func TestDecodeTrackResponseRejectsBadBox(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{
		"detections": []any{map[string]any{"track_id": 1, "box": []any{1, 2, 3}}},
	})
	require.NoError(t, err)
	_, _, err = decodeTrackResponse(resp, testFrame())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotInitialized))
}
