package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// TensorMode selects how pixels are written into a model input tensor.
type TensorMode int

const (
	// ModeRGBUnit writes R, G, B scaled to [0, 1].
	ModeRGBUnit TensorMode = iota
	// ModeGrayRaw writes the desaturated luminance, unscaled [0, 255], replicated
	// on all three channels.
	ModeGrayRaw
)

// Luminance weights used when desaturating a color image (saturation 0 color matrix).
const (
	lumR = 0.213
	lumG = 0.715
	lumB = 0.072
)

// TensorSize returns the number of float32 values of a size x size x 3 HWC tensor.
func TensorSize(size int) int {
	return size * size * 3
}

// ToTensor resizes img to size x size (aspect ratio is not preserved) and writes
// the pixels into dst in HWC order.
//
// Arguments:
//   - img: The source image.
//   - size: The square side of the model input.
//   - mode: How the pixel values are encoded.
//   - dst: Destination buffer of at least TensorSize(size) values.
//
// Returns:
//   - error: If the destination buffer is too small or the size is invalid.
//
// @example
// buf := make([]float32, TensorSize(416))
// err := ToTensor(frame, 416, ModeRGBUnit, buf)
func ToTensor(img image.Image, size int, mode TensorMode, dst []float32) error {
	if size <= 0 {
		return errors.Errorf("invalid tensor size %d", size)
	}
	if len(dst) < TensorSize(size) {
		return errors.Errorf("destination tensor only holds %d floats, needs %d", len(dst), TensorSize(size))
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	bounds := resized.Bounds()

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r8, g8, b8 := float32(r>>8), float32(g>>8), float32(b>>8)

			switch mode {
			case ModeGrayRaw:
				gray := lumR*r8 + lumG*g8 + lumB*b8
				dst[i], dst[i+1], dst[i+2] = gray, gray, gray
			default:
				dst[i], dst[i+1], dst[i+2] = r8/255.0, g8/255.0, b8/255.0
			}
			i += 3
		}
	}
	return nil
}

// Crop returns the part of img inside r, sharing pixels when the image supports it.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return dst
}
