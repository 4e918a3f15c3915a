package detector

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// DefaultCascadePath is the Haar cascade used to find frontal faces.
const DefaultCascadePath = "haarcascade_frontalface_alt2.xml"

// FaceLocator finds face rectangles in an image.
type FaceLocator interface {
	Locate(img image.Image) ([]image.Rectangle, error)
}

// CascadeLocator finds faces with an OpenCV Haar cascade.
type CascadeLocator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	closed     bool
}

// ErrLocatorClosed is returned by a CascadeLocator after Close.
var ErrLocatorClosed = errors.New("cascade locator is closed")

// NewCascadeLocator loads the cascade file.
func NewCascadeLocator(path string) (*CascadeLocator, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, errors.Errorf("error reading cascade file: %s", path)
	}
	return &CascadeLocator{classifier: classifier}, nil
}

// Locate runs the cascade on img.
func (l *CascadeLocator) Locate(img image.Image) ([]image.Rectangle, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert image")
	}
	defer mat.Close()

	return l.LocateMat(mat)
}

// LocateMat runs the cascade on a frame already held in a Mat. Rectangles are
// relative to the Mat origin.
func (l *CascadeLocator) LocateMat(mat gocv.Mat) ([]image.Rectangle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLocatorClosed
	}
	return l.classifier.DetectMultiScale(mat), nil
}

// Close releases the classifier. Later calls are no-ops.
func (l *CascadeLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.classifier.Close()
}

// FaceDetector merges overlapping cascade hits into one box per face.
type FaceDetector struct {
	locator      FaceLocator
	iouThreshold float32
}

// NewFaceDetector returns a face detector. Hits overlapping a larger hit with
// an IoU of at least iouThreshold are dropped.
func NewFaceDetector(locator FaceLocator, iouThreshold float32) *FaceDetector {
	return &FaceDetector{locator: locator, iouThreshold: iouThreshold}
}

// Detect returns one rectangle per face, largest first, in img coordinates.
func (d *FaceDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	rects, err := d.locator.Locate(img)
	if err != nil {
		return nil, err
	}
	if len(rects) == 0 {
		return nil, nil
	}

	origin := img.Bounds().Min
	hits := make([]postprocess.Result, len(rects))
	for i, r := range rects {
		box := images.FromRectangle(r.Add(origin))
		hits[i] = postprocess.Result{Box: box, Score: box.Area()}
	}

	kept := postprocess.ApplyGreedyNMS(hits, &postprocess.NMSConfig{IoUThreshold: d.iouThreshold})
	faces := make([]image.Rectangle, len(kept))
	for i, k := range kept {
		faces[i] = k.Box.ToRectangle().Intersect(img.Bounds())
	}
	return faces, nil
}
