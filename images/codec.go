package images

import (
	"bytes"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// DetectFormat sniffs the container format from the leading bytes.
func DetectFormat(data []byte) (ImageFormat, bool) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP, true
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG, true
	case len(data) >= 8 && bytes.Equal(data[0:8], []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, true
	}
	return "", false
}

// Decode decodes JPEG, PNG or WebP bytes into an image.Image.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: If the data is empty, of an unknown format or corrupt.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	format, ok := DetectFormat(data)
	if !ok {
		return nil, errors.New("unsupported image format")
	}

	if format == FormatWebP {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode webp")
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", format)
	}
	return img, nil
}

// MatToImage converts a gocv.Mat captured from a camera into an image.Image.
func MatToImage(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, errors.New("empty frame")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert frame")
	}
	return img, nil
}
