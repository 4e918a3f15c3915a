package detector

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-glasses/models"
	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
	"github.com/nvr-ai/go-glasses/models/yolov5"
)

// fakeEngine returns a fixed output and records its inputs.
type fakeEngine struct {
	mu          sync.Mutex
	inputShape  []int
	outputShape []int
	output      []float32
	err         error
	inputs      [][]float32
}

func (e *fakeEngine) Run(_ context.Context, input []float32, output []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.inputs = append(e.inputs, append([]float32(nil), input...))
	copy(output, e.output)
	return nil
}

func (e *fakeEngine) InputShape() []int  { return e.inputShape }
func (e *fakeEngine) OutputShape() []int { return e.outputShape }
func (e *fakeEngine) Close() error       { return nil }

// fakeLocator returns fixed rectangles.
type fakeLocator struct {
	rects []image.Rectangle
	err   error
}

func (l *fakeLocator) Locate(image.Image) ([]image.Rectangle, error) {
	return l.rects, l.err
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var obstacleVocab = model.NewVocabulary([]string{"person", "chair", "door"})

func newObstacleModel(t *testing.T) model.Model {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.InputSize = 32
	m, err := models.NewModel(cfg, obstacleVocab)
	require.NoError(t, err)
	return m
}

// obstacleOutput holds one chair and one door in model-input pixels.
func obstacleOutput() []float32 {
	stride := yolov5.Stride(3)
	raw := make([]float32, yolov5.BoxCount(32)*stride)
	copy(raw[0:stride], []float32{16, 16, 8, 8, 1, 0.1, 0.9, 0.1})
	copy(raw[3*stride:4*stride], []float32{4, 4, 4, 4, 0.95, 0.1, 0.1, 0.8})
	return raw
}

func newObstacleEngine() *fakeEngine {
	return &fakeEngine{
		inputShape:  []int{1, 32, 32, 3},
		outputShape: []int{1, 63, 8},
		output:      obstacleOutput(),
	}
}

func TestNewObjectDetector_ShapeMismatch(t *testing.T) {
	m := newObstacleModel(t)

	engine := newObstacleEngine()
	engine.outputShape = []int{1, 63, 85}
	_, err := NewObjectDetector(engine, m, Config{}, zap.NewNop())
	assert.True(t, errors.Is(err, postprocess.ErrConfiguration))

	engine = newObstacleEngine()
	engine.inputShape = []int{1, 416, 416, 3}
	_, err = NewObjectDetector(engine, m, Config{}, zap.NewNop())
	assert.True(t, errors.Is(err, postprocess.ErrConfiguration))
}

func TestObjectDetector_Detect(t *testing.T) {
	engine := newObstacleEngine()
	d, err := NewObjectDetector(engine, newObstacleModel(t), Config{}, zap.NewNop())
	require.NoError(t, err)

	results, err := d.Detect(context.Background(), solidImage(64, 64, color.RGBA{255, 0, 0, 255}))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "chair", results[0].Label)
	assert.Equal(t, float32(24), results[0].Box.X1)
	assert.Equal(t, float32(40), results[0].Box.X2)
	assert.Equal(t, "door", results[1].Label)

	require.Len(t, engine.inputs, 1)
	assert.InDelta(t, 1, engine.inputs[0][0], 0.01)
	assert.InDelta(t, 0, engine.inputs[0][1], 0.01)
}

func TestObjectDetector_RelevantClasses(t *testing.T) {
	d, err := NewObjectDetector(newObstacleEngine(), newObstacleModel(t), Config{RelevantClasses: []string{"door"}}, zap.NewNop())
	require.NoError(t, err)

	results, err := d.Detect(context.Background(), solidImage(32, 32, color.RGBA{0, 0, 0, 255}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "door", results[0].Label)
}

func TestObjectDetector_EngineError(t *testing.T) {
	engine := newObstacleEngine()
	engine.err = errors.New("interpreter busy")

	d, err := NewObjectDetector(engine, newObstacleModel(t), Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), solidImage(32, 32, color.RGBA{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interpreter busy")
}

func TestFaceDetector_MergesOverlappingHits(t *testing.T) {
	locator := &fakeLocator{rects: []image.Rectangle{
		image.Rect(10, 10, 30, 30),
		image.Rect(11, 11, 31, 31),
		image.Rect(50, 50, 90, 90),
	}}
	d := NewFaceDetector(locator, 0.5)

	faces, err := d.Detect(solidImage(100, 100, color.RGBA{}))
	require.NoError(t, err)
	assert.Equal(t, []image.Rectangle{
		image.Rect(50, 50, 90, 90),
		image.Rect(10, 10, 30, 30),
	}, faces)
}

func TestFaceDetector_NoFaces(t *testing.T) {
	d := NewFaceDetector(&fakeLocator{}, 0.5)

	faces, err := d.Detect(solidImage(10, 10, color.RGBA{}))
	require.NoError(t, err)
	assert.Empty(t, faces)

	d = NewFaceDetector(&fakeLocator{err: errors.New("cascade failed")}, 0.5)
	_, err = d.Detect(solidImage(10, 10, color.RGBA{}))
	assert.Error(t, err)
}

func newExpressionEngine(scores ...float32) *fakeEngine {
	return &fakeEngine{
		inputShape:  []int{1, 48, 48, 3},
		outputShape: []int{1, 7},
		output:      scores,
	}
}

func TestExpressionRecognizer_FaceExpressions(t *testing.T) {
	engine := newExpressionEngine(0, 0, 0, 0, 0, 0.7, 0.3)
	faces := NewFaceDetector(&fakeLocator{rects: []image.Rectangle{image.Rect(10, 10, 60, 60)}}, 0.5)

	r, err := NewExpressionRecognizer(engine, faces, models.ExpressionVocabulary(), models.ExpressionInputSize, zap.NewNop())
	require.NoError(t, err)

	got, err := r.FaceExpressions(context.Background(), solidImage(100, 100, color.RGBA{100, 100, 100, 255}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, image.Rect(10, 10, 60, 60), got[0].Box)
	assert.Equal(t, "Surprise", got[0].Expression.Label)
	assert.Equal(t, 5, got[0].Expression.Index)

	require.Len(t, engine.inputs, 1)
	assert.InDelta(t, 100, engine.inputs[0][0], 0.01)
	assert.InDelta(t, 100, engine.inputs[0][2], 0.01)
}

func TestNewExpressionRecognizer_ShapeMismatch(t *testing.T) {
	faces := NewFaceDetector(&fakeLocator{}, 0.5)

	engine := newExpressionEngine()
	engine.outputShape = []int{1, 8}
	_, err := NewExpressionRecognizer(engine, faces, models.ExpressionVocabulary(), models.ExpressionInputSize, zap.NewNop())
	assert.True(t, errors.Is(err, postprocess.ErrConfiguration))

	engine = newExpressionEngine()
	engine.inputShape = []int{1, 64, 64, 1}
	_, err = NewExpressionRecognizer(engine, faces, models.ExpressionVocabulary(), models.ExpressionInputSize, zap.NewNop())
	assert.True(t, errors.Is(err, postprocess.ErrConfiguration))
}

func TestCascadeLocator_Closed(t *testing.T) {
	l := &CascadeLocator{classifier: gocv.NewCascadeClassifier()}
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	mat := gocv.NewMat()
	defer mat.Close()
	_, err := l.LocateMat(mat)
	assert.ErrorIs(t, err, ErrLocatorClosed)

	_, err = l.Locate(solidImage(8, 8, color.RGBA{A: 255}))
	assert.ErrorIs(t, err, ErrLocatorClosed)
}
