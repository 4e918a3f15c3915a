// Package server - HTTP surface of the obstacle and face expression pipelines.
package server

import (
	"context"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-glasses/controller"
	"github.com/nvr-ai/go-glasses/detector"
	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/internal/logger"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// RequestIDHeader carries the request id.
const RequestIDHeader = "X-Request-Id"

const requestIDKey = "request_id"

// Options configures the HTTP server.
type Options struct {
	// StaticDir is served under /static when set.
	StaticDir string
	// MaxBodyBytes limits uploaded images. 0 means no limit.
	MaxBodyBytes int64
	// Debug enables gin debug mode.
	Debug bool
}

// Server exposes the pipelines over HTTP.
type Server struct {
	router      *gin.Engine
	obstacles   controller.ObstacleDetector
	expressions controller.ExpressionDetector
	controller  *controller.Controller
	opts        Options
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New builds the router.
//
// Arguments:
//   - obstacles: The obstacle pipeline.
//   - expressions: The face expression pipeline. nil disables /v1/expressions.
//   - ctrl: The stream controller whose mode can be switched. May be nil.
//   - opts: The server options.
//   - logger: The logger.
//
// Returns:
//   - *Server: The server.
func New(
	obstacles controller.ObstacleDetector,
	expressions controller.ExpressionDetector,
	ctrl *controller.Controller,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		obstacles:   obstacles,
		expressions: expressions,
		controller:  ctrl,
		opts:        opts,
		logger:      logger,
		tracer:      otel.Tracer("go-glasses.server"),
	}

	s.router.Use(gin.Recovery(), s.requestID(), s.traceRequest(), s.accessLog())
	if opts.StaticDir != "" {
		s.router.Use(static.Serve("/static", static.LocalFile(opts.StaticDir, false)))
	}

	s.router.GET("/healthz", s.health)
	v1 := s.router.Group("/v1")
	v1.POST("/detect", s.detect)
	v1.POST("/expressions", s.faceExpressions)
	v1.GET("/mode", s.getMode)
	v1.PUT("/mode", s.setMode)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "failed to shut down HTTP server")
		}
		return nil
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// traceRequest starts a server span per request and carries it in the
// request context.
func (s *Server) traceRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("request_id", c.GetString(requestIDKey))),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// log returns the server logger bound to the request span.
func (s *Server) log(c *gin.Context) *zap.Logger {
	return logger.WithSpan(c.Request.Context(), s.logger)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log(c).Info("request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readImage decodes the request body. It writes a 400 or 413 response and
// returns false when the body is not an image or is too large.
func (s *Server) readImage(c *gin.Context) (image.Image, bool) {
	body := c.Request.Body
	if s.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, s.opts.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, errorResponse(c, errors.Wrap(err, "failed to read body")))
		return nil, false
	}

	img, err := images.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(c, err))
		return nil, false
	}
	return img, true
}

func (s *Server) detect(c *gin.Context) {
	img, ok := s.readImage(c)
	if !ok {
		return
	}

	results, err := s.obstacles.Detect(c.Request.Context(), img)
	if err != nil {
		s.log(c).Error("detection failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		c.JSON(statusFor(err), errorResponse(c, err))
		return
	}

	bounds := img.Bounds()
	c.JSON(http.StatusOK, DetectResponse{
		RequestID:  c.GetString(requestIDKey),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Detections: toDetections(results),
	})
}

func (s *Server) faceExpressions(c *gin.Context) {
	if s.expressions == nil {
		c.JSON(http.StatusNotFound, errorResponse(c, errors.New("face expression pipeline is disabled")))
		return
	}

	img, ok := s.readImage(c)
	if !ok {
		return
	}

	faces, err := s.expressions.FaceExpressions(c.Request.Context(), img)
	if err != nil {
		s.log(c).Error("expression recognition failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		c.JSON(statusFor(err), errorResponse(c, err))
		return
	}

	c.JSON(http.StatusOK, ExpressionsResponse{
		RequestID: c.GetString(requestIDKey),
		Faces:     toFaces(faces),
	})
}

func (s *Server) getMode(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusNotFound, errorResponse(c, errors.New("no stream is running")))
		return
	}
	c.JSON(http.StatusOK, ModeRequest{Mode: s.controller.Mode().String()})
}

func (s *Server) setMode(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusNotFound, errorResponse(c, errors.New("no stream is running")))
		return
	}

	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(c, err))
		return
	}
	mode, err := controller.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(c, err))
		return
	}

	s.controller.SetMode(mode)
	c.JSON(http.StatusOK, ModeRequest{Mode: mode.String()})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c *gin.Context, err error) ErrorResponse {
	return ErrorResponse{RequestID: c.GetString(requestIDKey), Error: err.Error()}
}

func toDetections(results []postprocess.Result) []Detection {
	out := make([]Detection, len(results))
	for i, r := range results {
		out[i] = Detection{
			ClassID:    r.Class,
			Label:      r.Label,
			Confidence: r.Score,
			Box:        Box{Left: r.Box.X1, Top: r.Box.Y1, Right: r.Box.X2, Bottom: r.Box.Y2},
		}
	}
	return out
}

func toFaces(faces []detector.FaceExpression) []Face {
	out := make([]Face, len(faces))
	for i, f := range faces {
		out[i] = Face{
			Box: Box{
				Left:   float32(f.Box.Min.X),
				Top:    float32(f.Box.Min.Y),
				Right:  float32(f.Box.Max.X),
				Bottom: float32(f.Box.Max.Y),
			},
			Expression: f.Expression.Label,
			Index:      f.Expression.Index,
			Score:      f.Expression.Score,
		}
	}
	return out
}
