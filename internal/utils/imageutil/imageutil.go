package imageutil

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"github.com/anthonynsimon/bild/transform"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// CanonicalSize is the edge length images are resized to before they are
	// sent for reconstruction.
	CanonicalSize = 256

	// DefaultMaskCoverage is the fraction of width and height covered by the
	// synthesized elliptical mask.
	DefaultMaskCoverage = 0.6

	Foreground uint8 = 255
	Background uint8 = 0
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrInvalidSize  = errors.New("invalid image size")
)

func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func DecodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	return data, nil
}

// DecodeImage decodes any registered raster format and returns it as RGBA.
func DecodeImage(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return toRGBA(img), nil
}

// DecodeMask decodes any registered raster format and converts it to a
// single luminance channel.
func DecodeMask(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return toGray(img), nil
}

func DecodeBase64Image(s string) (*image.RGBA, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}

	return DecodeImage(data)
}

func DecodeBase64Mask(s string) (*image.Gray, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}

	return DecodeMask(data)
}

func LoadImage(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return img, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var output bytes.Buffer
	if err := png.Encode(&output, img); err != nil {
		return nil, err
	}

	return output.Bytes(), nil
}

// ResizeLanczos resamples img to exactly width x height.
func ResizeLanczos(img image.Image, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}

	return transform.Resize(img, width, height, transform.Lanczos), nil
}

// EllipticalMask returns a width x height mask holding an ellipse centred in
// the frame whose radii cover the given fraction of each dimension.
func EllipticalMask(width, height int, coverage float64) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))

	cx, cy := width/2, height/2
	rx := int(float64(width) * coverage / 2)
	ry := int(float64(height) * coverage / 2)

	for y := 0; y < height; y++ {
		dy, ok := normalizedOffset(y, cy, ry)
		if !ok {
			continue
		}

		for x := 0; x < width; x++ {
			dx, ok := normalizedOffset(x, cx, rx)
			if ok && dx*dx+dy*dy <= 1 {
				mask.Pix[y*mask.Stride+x] = Foreground
			}
		}
	}

	return mask
}

// normalizedOffset returns (v-center)/radius. A zero radius degenerates the
// ellipse to its centre line.
func normalizedOffset(v, center, radius int) (float64, bool) {
	if v == center {
		return 0, true
	}
	if radius <= 0 {
		return 0, false
	}

	return float64(v-center) / float64(radius), true
}

// FullMask marks every pixel as foreground.
func FullMask(width, height int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	for i := range mask.Pix {
		mask.Pix[i] = Foreground
	}

	return mask
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Rect.Min == (image.Point{}) {
		return gray
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
