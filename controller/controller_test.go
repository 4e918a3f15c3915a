// Package controller - Testing for frame routing, mode switching and frame dropping
package controller

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nvr-ai/go-glasses/detector"
	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/models"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// MockObstacleDetector provides controllable detection results for testing
type MockObstacleDetector struct {
	mu          sync.Mutex
	detections  []postprocess.Result
	shouldError bool
	calls       int
	started     chan struct{}
	release     chan struct{}
}

func (m *MockObstacleDetector) Detect(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.shouldError {
		return nil, errors.New("mock detection error")
	}
	return m.detections, nil
}

func (m *MockObstacleDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockExpressionDetector provides controllable expression results for testing
type MockExpressionDetector struct {
	expressions []detector.FaceExpression
}

func (m *MockExpressionDetector) FaceExpressions(ctx context.Context, img image.Image) ([]detector.FaceExpression, error) {
	return m.expressions, nil
}

func testFrame() Frame {
	return NewFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)))
}

var (
	chair = postprocess.Result{Box: images.Rect{X1: 1, Y1: 1, X2: 10, Y2: 10}, Score: 0.9, Class: 1, Label: "chair"}
	happy = detector.FaceExpression{
		Box:        image.Rect(5, 5, 20, 20),
		Expression: models.Expression{Index: 3, Label: "Happy", Score: 0.8},
	}
)

func TestProcess_Modes(t *testing.T) {
	tests := []struct {
		name        string
		mode        Mode
		detections  []postprocess.Result
		expressions []detector.FaceExpression
	}{
		{name: "obstacle", mode: ModeObstacle, detections: []postprocess.Result{chair}},
		{name: "face expression", mode: ModeFaceExpression, expressions: []detector.FaceExpression{happy}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(
				&MockObstacleDetector{detections: []postprocess.Result{chair}},
				&MockExpressionDetector{expressions: []detector.FaceExpression{happy}},
				tt.mode,
				zap.NewNop(),
			)

			frame := testFrame()
			report := c.Process(context.Background(), frame)
			require.NoError(t, report.Err)
			assert.Equal(t, frame.ID, report.FrameID)
			assert.Equal(t, tt.mode, report.Mode)
			assert.Equal(t, tt.detections, report.Detections)
			assert.Equal(t, tt.expressions, report.Expressions)
		})
	}
}

func TestProcess_Errors(t *testing.T) {
	c := New(&MockObstacleDetector{shouldError: true}, nil, ModeObstacle, zap.NewNop())

	report := c.Process(context.Background(), testFrame())
	assert.EqualError(t, report.Err, "mock detection error")

	c.SetMode(ModeFaceExpression)
	report = c.Process(context.Background(), testFrame())
	assert.EqualError(t, report.Err, "no pipeline configured for mode face_expression")
}

func TestSetMode(t *testing.T) {
	obstacles := &MockObstacleDetector{detections: []postprocess.Result{chair}}
	c := New(obstacles, &MockExpressionDetector{}, ModeObstacle, zap.NewNop())
	assert.Equal(t, ModeObstacle, c.Mode())

	c.SetMode(ModeFaceExpression)
	assert.Equal(t, ModeFaceExpression, c.Mode())

	report := c.Process(context.Background(), testFrame())
	assert.Equal(t, ModeFaceExpression, report.Mode)
	assert.Equal(t, 0, obstacles.Calls())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "obstacle", ModeObstacle.String())
	assert.Equal(t, "face_expression", ModeFaceExpression.String())
	assert.Equal(t, "unknown", Mode(7).String())
}

func TestRun_ProcessesEveryFrameWhenIdle(t *testing.T) {
	c := New(&MockObstacleDetector{detections: []postprocess.Result{chair}}, nil, ModeObstacle, zap.NewNop())

	frames := make(chan Frame)
	out := make(chan Report, 10)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background(), frames, out) }()

	var sent []uuid.UUID
	for i := 0; i < 3; i++ {
		f := testFrame()
		sent = append(sent, f.ID)
		frames <- f
		report := <-out
		assert.Equal(t, f.ID, report.FrameID)
	}
	close(frames)

	require.NoError(t, <-errc)
	assert.Len(t, sent, 3)
	assert.Equal(t, uint64(0), c.Dropped())
}

func TestRun_DropsFramesWhileBusy(t *testing.T) {
	obstacles := &MockObstacleDetector{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := New(obstacles, nil, ModeObstacle, zap.NewNop())

	frames := make(chan Frame)
	out := make(chan Report, 10)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background(), frames, out) }()

	first, second, third := testFrame(), testFrame(), testFrame()

	frames <- first
	<-obstacles.started

	// The worker is busy with the first frame: the second waits and is then
	// replaced by the third.
	frames <- second
	frames <- third
	obstacles.release <- struct{}{}

	<-obstacles.started
	obstacles.release <- struct{}{}
	close(frames)

	require.NoError(t, <-errc)
	close(out)

	var got []uuid.UUID
	for r := range out {
		got = append(got, r.FrameID)
	}
	assert.Equal(t, []uuid.UUID{first.ID, third.ID}, got)
	assert.Equal(t, uint64(1), c.Dropped())
	assert.Equal(t, 2, obstacles.Calls())
}

func TestRun_Cancel(t *testing.T) {
	c := New(&MockObstacleDetector{}, nil, ModeObstacle, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan Frame)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, frames, make(chan Report)) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

// blockingSource blocks in Next until released.
type blockingSource struct {
	entered  chan struct{}
	release  chan struct{}
	returned atomic.Bool
}

func (s *blockingSource) Next() (image.Image, bool) {
	s.entered <- struct{}{}
	<-s.release
	s.returned.Store(true)
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), true
}

// sliceSource yields a fixed number of frames.
type sliceSource struct {
	remaining int
}

func (s *sliceSource) Next() (image.Image, bool) {
	if s.remaining == 0 {
		return nil, false
	}
	s.remaining--
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), true
}

func TestStream_ProcessesUntilExhausted(t *testing.T) {
	obstacles := &MockObstacleDetector{detections: []postprocess.Result{chair}}
	c := New(obstacles, nil, ModeObstacle, zap.NewNop())

	out := make(chan Report, 10)
	require.NoError(t, c.Stream(context.Background(), &sliceSource{remaining: 5}, out))
	close(out)

	processed := 0
	for r := range out {
		require.NoError(t, r.Err)
		processed++
	}
	assert.Equal(t, obstacles.Calls(), processed)
	assert.Equal(t, 5, processed+int(c.Dropped()))
}

func TestStream_WaitsForReaderOnCancel(t *testing.T) {
	c := New(&MockObstacleDetector{}, nil, ModeObstacle, zap.NewNop())
	src := &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Stream(ctx, src, make(chan Report, 1)) }()

	<-src.entered
	cancel()

	select {
	case <-errc:
		t.Fatal("stream returned while the source was still reading")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, src.returned.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after the source returned")
	}
}

func TestProcess_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	c := New(&MockObstacleDetector{shouldError: true}, nil, ModeObstacle, zap.New(core))

	frame := testFrame()
	report := c.Process(context.Background(), frame)
	require.Error(t, report.Err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "Process obstacle", span.Name())
	assert.Contains(t, span.Attributes(), attribute.String("frame_id", frame.ID.String()))
	assert.Contains(t, span.Attributes(), attribute.Int("detections", 0))
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "mock detection error", span.Status().Description)

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "log", span.Events()[0].Name)
	assert.Contains(t, span.Events()[0].Attributes, attribute.String("log.message", "frame failed"))
	assert.Equal(t, 1, logs.Len())
}
