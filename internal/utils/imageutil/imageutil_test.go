package imageutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestBase64RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 4096).Draw(t, "data")

		decoded, err := DecodeBase64(EncodeBase64(data))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestDecodeBase64(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty string", input: "", wantErr: ErrEmptyPayload},
		{name: "not base64", input: "!!!not-base64!!!"},
		{name: "valid", input: "aGVsbG8="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeBase64(tt.input)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.name == "valid":
				require.NoError(t, err)
				assert.Equal(t, []byte("hello"), data)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestDecodeImage(t *testing.T) {
	pngBytes, err := EncodePNG(solidImage(8, 4, color.RGBA{R: 200, A: 255}))
	require.NoError(t, err)

	img, err := DecodeImage(pngBytes)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, solidImage(16, 16, color.White), nil))
	img, err = DecodeImage(jpg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	_, err = DecodeImage(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodeImage([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestDecodeMaskIsSingleChannel(t *testing.T) {
	pngBytes, err := EncodePNG(solidImage(5, 5, color.White))
	require.NoError(t, err)

	mask, err := DecodeMask(pngBytes)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), mask.GrayAt(2, 2).Y)
	assert.Len(t, mask.Pix, 25)
}

func TestDecodeBase64Image(t *testing.T) {
	pngBytes, err := EncodePNG(solidImage(3, 3, color.Black))
	require.NoError(t, err)

	img, err := DecodeBase64Image(EncodeBase64(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = DecodeBase64Image("")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestResizeLanczos(t *testing.T) {
	resized, err := ResizeLanczos(solidImage(640, 480, color.White), CanonicalSize, CanonicalSize)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, CanonicalSize, CanonicalSize), resized.Bounds())

	_, err = ResizeLanczos(solidImage(4, 4, color.White), 0, 10)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestEllipticalMask(t *testing.T) {
	mask := EllipticalMask(CanonicalSize, CanonicalSize, DefaultMaskCoverage)

	assert.Equal(t, Foreground, mask.GrayAt(128, 128).Y)
	assert.Equal(t, Background, mask.GrayAt(0, 0).Y)
	// radius is int(256*0.6/2) = 76
	assert.Equal(t, Foreground, mask.GrayAt(128+76, 128).Y)
	assert.Equal(t, Background, mask.GrayAt(128+77, 128).Y)
}

func TestEllipticalMaskCentreAndCorners(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(3, 400).Draw(t, "width")
		h := rapid.IntRange(3, 400).Draw(t, "height")
		coverage := rapid.Float64Range(0.001, 0.999).Draw(t, "coverage")

		mask := EllipticalMask(w, h, coverage)

		if got := mask.GrayAt(w/2, h/2).Y; got != Foreground {
			t.Fatalf("centre = %d, want %d", got, Foreground)
		}

		corners := []image.Point{{0, 0}, {w - 1, 0}, {0, h - 1}, {w - 1, h - 1}}
		for _, p := range corners {
			if got := mask.GrayAt(p.X, p.Y).Y; got != Background {
				t.Fatalf("corner %v = %d, want %d", p, got, Background)
			}
		}
	})
}

func TestFullMask(t *testing.T) {
	mask := FullMask(7, 3)
	assert.Equal(t, image.Rect(0, 0, 7, 3), mask.Bounds())
	for _, v := range mask.Pix {
		assert.Equal(t, Foreground, v)
	}
}
