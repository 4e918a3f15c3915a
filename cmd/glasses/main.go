package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-glasses/config"
	"github.com/nvr-ai/go-glasses/controller"
	"github.com/nvr-ai/go-glasses/detector"
	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/inference"
	"github.com/nvr-ai/go-glasses/internal/logger"
	"github.com/nvr-ai/go-glasses/internal/tracing"
	"github.com/nvr-ai/go-glasses/models"
	"github.com/nvr-ai/go-glasses/models/postprocess"
	"github.com/nvr-ai/go-glasses/server"
)

var (
	supportedVideoExtensions = []string{".mp4", ".avi", ".mov"}
	supportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}
)

// pipelines holds everything built from the configuration.
type pipelines struct {
	obstacles   *detector.ObjectDetector
	expressions *detector.ExpressionRecognizer
	closers     []func() error
}

func (p *pipelines) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		_ = p.closers[i]()
	}
}

func main() {
	var (
		camera    int
		videoPath string
		imagePath string
		dirPath   string
	)
	flag.IntVar(&camera, "camera", -2, "Capture device id; overrides stream.camera")
	flag.StringVar(&videoPath, "video", "", "Path to a video file (.mp4, .avi, .mov) to stream instead of a camera")
	flag.StringVar(&imagePath, "image", "", "Path to an image to run once; prints the detections and exits")
	flag.StringVar(&dirPath, "dir", "", "Directory of images to run once, in frame order; prints one JSON line per image and exits")
	configPath := config.ParseConfigFlag()

	if !config.Exists(configPath) {
		configPath = ""
	}
	if err := config.Init(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Config
	if camera != -2 {
		cfg.Stream.Camera = camera
	}

	logger.Init(cfg.Server.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	log := logger.GetZapLogger(ctx)

	var spans io.Writer
	if cfg.Server.Tracing {
		spans = os.Stderr
	}
	tp, err := tracing.SetupTracing("go-glasses", spans)
	if err != nil {
		log.Fatal("failed to set up tracing", zap.Error(err))
	}

	err = run(ctx, cfg, inputs{video: videoPath, image: imagePath, dir: dirPath}, log)
	stop()
	if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
		log.Warn("failed to flush spans", zap.Error(shutdownErr))
	}
	if err != nil {
		log.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

// inputs are the mutually exclusive command line sources.
type inputs struct {
	video string
	image string
	dir   string
}

func (in inputs) validate() error {
	n := 0
	for _, v := range []string{in.video, in.image, in.dir} {
		if v != "" {
			n++
		}
	}
	if n > 1 {
		return errors.New("-video, -image and -dir are mutually exclusive")
	}
	return nil
}

func run(ctx context.Context, cfg config.AppConfig, in inputs, log *zap.Logger) error {
	if err := in.validate(); err != nil {
		return err
	}

	p, err := build(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	switch {
	case in.image != "":
		return detectImage(ctx, p, in.image)
	case in.dir != "":
		return detectDirectory(ctx, p, in.dir)
	}

	mode, err := controller.ParseMode(cfg.Stream.Mode)
	if err != nil {
		return err
	}

	// A nil *ExpressionRecognizer must stay a nil interface.
	var expressions controller.ExpressionDetector
	if p.expressions != nil {
		expressions = p.expressions
	}

	capture, err := openSource(cfg.Stream.Camera, in.video)
	if err != nil {
		return err
	}

	// Both goroutines are joined before the deferred Close calls release the
	// capture and the native pipelines.
	g, gctx := errgroup.WithContext(ctx)

	var ctrl *controller.Controller
	if capture != nil {
		source := newCaptureSource(capture, log)
		defer source.Close()
		ctrl = controller.New(p.obstacles, expressions, mode, log)
		g.Go(func() error {
			return stream(gctx, ctrl, source, log)
		})
	}

	srv := server.New(p.obstacles, expressions, ctrl, server.Options{
		StaticDir:    cfg.Server.StaticDir,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Debug:        cfg.Server.Debug,
	}, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("listening", zap.String("addr", addr))
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})
	return g.Wait()
}

// build loads the models and engines named by cfg.
func build(cfg config.AppConfig, log *zap.Logger) (*pipelines, error) {
	p := &pipelines{}

	m, err := models.LoadModel(cfg.Detector.Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load obstacle model")
	}
	engine, err := inference.NewEngine(cfg.Detector.EngineConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create obstacle engine")
	}
	p.closers = append(p.closers, engine.Close)

	p.obstacles, err = detector.NewObjectDetector(engine, m, cfg.Detector.DetectorOptions(), log.Named("obstacles"))
	if err != nil {
		p.Close()
		return nil, err
	}
	log.Info("obstacle detector ready",
		zap.String("model", cfg.Detector.Model.Path),
		zap.String("engine", string(cfg.Detector.Engine.Type)),
		zap.Int("input_size", cfg.Detector.Model.InputSize),
	)

	if !cfg.Expression.Enabled {
		return p, nil
	}

	locator, err := detector.NewCascadeLocator(cfg.Face.CascadePath)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, locator.Close)

	exprEngine, err := inference.NewEngine(cfg.Expression.Engine)
	if err != nil {
		p.Close()
		return nil, errors.Wrap(err, "failed to create expression engine")
	}
	p.closers = append(p.closers, exprEngine.Close)

	p.expressions, err = detector.NewExpressionRecognizer(
		exprEngine,
		detector.NewFaceDetector(locator, cfg.Face.IoUThreshold),
		models.ExpressionVocabulary(),
		cfg.Expression.InputSize,
		log.Named("expressions"),
	)
	if err != nil {
		p.Close()
		return nil, err
	}
	log.Info("expression recognizer ready", zap.String("model", cfg.Expression.Engine.ModelPath))
	return p, nil
}

func detectImage(ctx context.Context, p *pipelines, path string) error {
	if err := validateFile(path, supportedImageExtensions); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	img, err := images.Decode(data)
	if err != nil {
		return err
	}

	results, err := p.obstacles.Detect(ctx, img)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func detectDirectory(ctx context.Context, p *pipelines, dir string) error {
	files, err := images.LoadDirectory(dir)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, f := range files {
		img, err := images.Decode(f.Data)
		if err != nil {
			return errors.Wrapf(err, "failed to decode %s", f.Path)
		}
		results, err := p.obstacles.Detect(ctx, img)
		if err != nil {
			return errors.Wrapf(err, "failed to detect %s", f.Path)
		}
		if err := enc.Encode(struct {
			Path       string               `json:"path"`
			Detections []postprocess.Result `json:"detections"`
		}{f.Path, results}); err != nil {
			return err
		}
	}
	return nil
}

// openSource opens the video file, or the camera when no file is given. It
// returns nil when streaming is disabled.
func openSource(camera int, videoPath string) (*gocv.VideoCapture, error) {
	if videoPath != "" {
		if err := validateFile(videoPath, supportedVideoExtensions); err != nil {
			return nil, err
		}
		capture, err := gocv.OpenVideoCapture(videoPath)
		if err != nil {
			return nil, errors.Wrapf(err, "error opening video file: %s", videoPath)
		}
		return capture, nil
	}
	if camera < 0 {
		return nil, nil
	}
	capture, err := gocv.OpenVideoCapture(camera)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening video capture device: %d", camera)
	}
	return capture, nil
}

// captureSource reads decoded frames from a gocv capture.
type captureSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	log     *zap.Logger
}

func newCaptureSource(capture *gocv.VideoCapture, log *zap.Logger) *captureSource {
	return &captureSource{capture: capture, mat: gocv.NewMat(), log: log}
}

// Next blocks until the capture yields a non-empty frame.
func (s *captureSource) Next() (image.Image, bool) {
	for {
		if ok := s.capture.Read(&s.mat); !ok {
			return nil, false
		}
		if s.mat.Empty() {
			continue
		}
		img, err := images.MatToImage(s.mat)
		if err != nil {
			s.log.Warn("failed to convert frame", zap.Error(err))
			continue
		}
		return img, true
	}
}

func (s *captureSource) Close() error {
	_ = s.mat.Close()
	return s.capture.Close()
}

// stream runs the controller on source and logs the reports. It returns once
// the source is no longer read and every report is logged.
func stream(ctx context.Context, ctrl *controller.Controller, source controller.FrameSource, log *zap.Logger) error {
	reports := make(chan controller.Report, 1)
	logged := make(chan struct{})

	go func() {
		defer close(logged)
		for r := range reports {
			if r.Err != nil {
				continue
			}
			log.Info("frame",
				zap.String("frame_id", r.FrameID.String()),
				zap.Stringer("mode", r.Mode),
				zap.Int("detections", len(r.Detections)),
				zap.Int("faces", len(r.Expressions)),
				zap.Duration("duration", r.Duration),
				zap.Uint64("dropped", ctrl.Dropped()),
			)
		}
	}()

	err := ctrl.Stream(ctx, source, reports)
	close(reports)
	<-logged

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// validateFile checks that the file exists and has a supported extension.
func validateFile(path string, supported []string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "file does not exist: %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(supported, ext) {
		return errors.Errorf("unsupported file extension %s (supported: %s)", ext, strings.Join(supported, ", "))
	}
	return nil
}
