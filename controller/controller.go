// Package controller - This file contains the controller for routing frames to the active pipeline.
package controller

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-glasses/detector"
	"github.com/nvr-ai/go-glasses/internal/logger"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// Mode selects the pipeline frames are routed to.
type Mode int32

const (
	// ModeObstacle runs the obstacle detector.
	ModeObstacle Mode = iota
	// ModeFaceExpression runs face detection and expression recognition.
	ModeFaceExpression
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeObstacle:
		return "obstacle"
	case ModeFaceExpression:
		return "face_expression"
	default:
		return "unknown"
	}
}

// Frame is a single frame of video.
type Frame struct {
	ID        uuid.UUID
	Image     image.Image
	Timestamp time.Time
}

// NewFrame wraps img with a fresh id and the current time.
func NewFrame(img image.Image) Frame {
	return Frame{ID: uuid.New(), Image: img, Timestamp: time.Now()}
}

func errNoPipeline(m Mode) error {
	return errors.Errorf("no pipeline configured for mode %s", m)
}

// Report is the outcome of processing one frame.
type Report struct {
	FrameID     uuid.UUID
	Mode        Mode
	Detections  []postprocess.Result
	Expressions []detector.FaceExpression
	Duration    time.Duration
	Err         error
}

// ObstacleDetector is an interface for the obstacle pipeline.
type ObstacleDetector interface {
	Detect(ctx context.Context, img image.Image) ([]postprocess.Result, error)
}

// ExpressionDetector is an interface for the face expression pipeline.
type ExpressionDetector interface {
	FaceExpressions(ctx context.Context, img image.Image) ([]detector.FaceExpression, error)
}

// Controller routes frames to the pipeline of the current mode. At most one
// frame is processed at a time; frames arriving while busy are dropped, except
// the latest one.
type Controller struct {
	obstacles   ObstacleDetector
	expressions ExpressionDetector
	mode        atomic.Int32
	dropped     atomic.Uint64
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New creates a controller starting in mode.
//
// Arguments:
//   - obstacles: The obstacle pipeline.
//   - expressions: The face expression pipeline. May be nil when unused.
//   - mode: The initial mode.
//   - logger: The logger.
//
// Returns:
//   - *Controller: The controller.
func New(obstacles ObstacleDetector, expressions ExpressionDetector, mode Mode, logger *zap.Logger) *Controller {
	c := &Controller{
		obstacles:   obstacles,
		expressions: expressions,
		logger:      logger,
		tracer:      otel.Tracer("go-glasses.controller"),
	}
	c.mode.Store(int32(mode))
	return c
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	return Mode(c.mode.Load())
}

// SetMode switches the pipeline. It takes effect from the next frame.
func (c *Controller) SetMode(m Mode) {
	if prev := Mode(c.mode.Swap(int32(m))); prev != m {
		c.logger.Info("mode changed", zap.Stringer("from", prev), zap.Stringer("to", m))
	}
}

// Dropped returns the number of frames skipped because the pipeline was busy.
func (c *Controller) Dropped() uint64 {
	return c.dropped.Load()
}

// Process runs the pipeline of the current mode on one frame, inside a span
// named after the mode.
func (c *Controller) Process(ctx context.Context, frame Frame) Report {
	start := time.Now()
	report := Report{FrameID: frame.ID, Mode: c.Mode()}

	ctx, span := c.tracer.Start(ctx, "Process "+report.Mode.String(),
		trace.WithAttributes(attribute.String("frame_id", frame.ID.String())),
	)
	defer span.End()

	switch report.Mode {
	case ModeFaceExpression:
		if c.expressions == nil {
			report.Err = errNoPipeline(report.Mode)
			break
		}
		report.Expressions, report.Err = c.expressions.FaceExpressions(ctx, frame.Image)
	default:
		if c.obstacles == nil {
			report.Err = errNoPipeline(report.Mode)
			break
		}
		report.Detections, report.Err = c.obstacles.Detect(ctx, frame.Image)
	}

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("detections", len(report.Detections)),
		attribute.Int("faces", len(report.Expressions)),
	)
	if report.Err != nil {
		span.SetStatus(codes.Error, report.Err.Error())
		logger.WithSpan(ctx, c.logger).Warn("frame failed",
			zap.String("frame_id", frame.ID.String()),
			zap.Stringer("mode", report.Mode),
			zap.Error(report.Err),
		)
	}
	return report
}

// Run processes frames until frames is closed or ctx is done.
//
// A worker processes one frame at a time. While it is busy, the newest frame
// waits in a single slot and older waiting frames are dropped. The caller
// must keep receiving from out.
//
// Arguments:
//   - ctx: The context for the run.
//   - frames: The incoming frames.
//   - out: Receives one report per processed frame.
//
// Returns:
//   - error: ctx.Err() when cancelled, nil when frames is closed.
func (c *Controller) Run(ctx context.Context, frames <-chan Frame, out chan<- Report) error {
	work := make(chan Frame)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for f := range work {
			report := c.Process(ctx, f)
			select {
			case out <- report:
			case <-ctx.Done():
			}
		}
	}()
	defer func() {
		close(work)
		<-done
	}()

	var pending *Frame
	for {
		var send chan<- Frame
		var next Frame
		if pending != nil {
			send = work
			next = *pending
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if pending == nil {
					return nil
				}
				select {
				case work <- *pending:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if pending != nil {
				c.dropped.Add(1)
				c.logger.Debug("frame dropped", zap.String("frame_id", pending.ID.String()))
			}
			pending = &f
		case send <- next:
			pending = nil
		}
	}
}

// FrameSource yields decoded frames. Next blocks until a frame is available
// and returns false once the source is exhausted.
type FrameSource interface {
	Next() (image.Image, bool)
}

// Stream reads src and processes its frames with Run.
//
// It returns only after the reader has left src.Next, so the caller may
// release src and the pipelines as soon as Stream returns.
//
// Arguments:
//   - ctx: The context for the run.
//   - src: The frame source.
//   - out: Receives one report per processed frame.
//
// Returns:
//   - error: ctx.Err() when cancelled, nil when src is exhausted.
func (c *Controller) Stream(ctx context.Context, src FrameSource, out chan<- Report) error {
	frames := make(chan Frame)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(frames)
		for ctx.Err() == nil {
			img, ok := src.Next()
			if !ok {
				c.logger.Info("stream ended")
				return
			}
			select {
			case frames <- NewFrame(img):
			case <-ctx.Done():
				return
			}
		}
	}()

	err := c.Run(ctx, frames, out)
	wg.Wait()
	return err
}

// ParseMode parses a mode name as returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case ModeObstacle.String():
		return ModeObstacle, nil
	case ModeFaceExpression.String():
		return ModeFaceExpression, nil
	default:
		return ModeObstacle, errors.Errorf("unknown mode %q", s)
	}
}
