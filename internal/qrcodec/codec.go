// Package qrcodec renders identifiers as QR code images and reads them back.
package qrcodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"unicode/utf8"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	zxingdecoder "github.com/makiuchi-d/gozxing/qrcode/decoder"
	zxingencoder "github.com/makiuchi-d/gozxing/qrcode/encoder"
	"github.com/skip2/go-qrcode"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	defaultModuleSize = 10
	minQuietZone      = 4

	// MaxPayloadBytes is the byte-mode capacity of a version 40 symbol at
	// error correction level L.
	MaxPayloadBytes = 2953
)

// ErrCapacityExceeded is returned when content does not fit the largest symbol.
var ErrCapacityExceeded = errors.New("qrcodec: content exceeds qr code capacity")

var palette = color.Palette{color.White, color.Black}

// Option customises a Codec.
type Option func(*Codec)

// WithModuleSize sets the pixel width of a single module.
func WithModuleSize(px int) Option {
	return func(c *Codec) {
		if px > 0 {
			c.moduleSize = px
		}
	}
}

// WithQuietZone sets the border width in modules. Values below four are raised to four.
func WithQuietZone(modules int) Option {
	return func(c *Codec) {
		if modules > minQuietZone {
			c.quietZone = modules
		}
	}
}

// Codec encodes strings into PNG QR codes and decodes raster images back into
// strings. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	moduleSize int
	quietZone  int
}

// New constructs a Codec using error correction level L.
func New(opts ...Option) *Codec {
	c := &Codec{
		moduleSize: defaultModuleSize,
		quietZone:  minQuietZone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode renders content as a black-on-white PNG using the smallest version
// that can hold it.
func (c *Codec) Encode(content string) ([]byte, error) {
	modules, err := c.matrix(content)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, c.render(modules)); err != nil {
		return nil, fmt.Errorf("qrcodec: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode returns the text of the first QR code found in data. Unreadable
// images and images without a symbol both report ok=false.
func (c *Codec) Decode(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", false
	}

	result := decodeSymbol(img)
	if result == nil {
		return "", false
	}

	text := result.GetText()
	if !utf8.ValidString(text) {
		return "", false
	}
	return text, true
}

// decodeAttempt is one binarizer and hint combination tried by decodeSymbol.
type decodeAttempt struct {
	binarizer func(gozxing.LuminanceSource) gozxing.Binarizer
	hints     map[gozxing.DecodeHintType]interface{}
}

// The finder pattern search under TRY_HARDER misses a small share of clean
// symbols, all of which decode with PURE_BARCODE.
var decodeAttempts = []decodeAttempt{
	{
		binarizer: gozxing.NewHybridBinarizer,
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER:    true,
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	},
	{
		binarizer: gozxing.NewHybridBinarizer,
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_PURE_BARCODE:  true,
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	},
	{
		binarizer: gozxing.NewHybridBinarizer,
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	},
	{
		binarizer: gozxing.NewGlobalHistgramBinarizer,
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER:    true,
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	},
	{
		binarizer: gozxing.NewGlobalHistgramBinarizer,
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_PURE_BARCODE:  true,
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	},
}

func decodeSymbol(img image.Image) *gozxing.Result {
	source := gozxing.NewLuminanceSourceFromImage(img)
	reader := zxingqr.NewQRCodeReader()

	for _, attempt := range decodeAttempts {
		bmp, err := gozxing.NewBinaryBitmap(attempt.binarizer(source))
		if err != nil {
			continue
		}
		result, err := reader.Decode(bmp, attempt.hints)
		if err == nil && result != nil {
			return result
		}
	}
	return nil
}

func (c *Codec) matrix(content string) ([][]bool, error) {
	if len(content) > MaxPayloadBytes {
		return nil, ErrCapacityExceeded
	}

	// go-qrcode refuses empty input, so the empty symbol comes from the zxing encoder.
	if content == "" {
		code, err := zxingencoder.Encoder_encode(content, zxingdecoder.ErrorCorrectionLevel_L, nil)
		if err != nil {
			return nil, fmt.Errorf("qrcodec: encode empty content: %w", err)
		}
		m := code.GetMatrix()
		modules := make([][]bool, m.GetHeight())
		for y := range modules {
			modules[y] = make([]bool, m.GetWidth())
			for x := range modules[y] {
				modules[y][x] = m.Get(x, y) == 1
			}
		}
		return modules, nil
	}

	q, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}
	q.DisableBorder = true
	return q.Bitmap(), nil
}

func (c *Codec) render(modules [][]bool) image.Image {
	span := len(modules) + 2*c.quietZone
	size := span * c.moduleSize
	img := image.NewPaletted(image.Rect(0, 0, size, size), palette)

	for y, row := range modules {
		for x, dark := range row {
			if !dark {
				continue
			}
			x0 := (x + c.quietZone) * c.moduleSize
			y0 := (y + c.quietZone) * c.moduleSize
			for dy := 0; dy < c.moduleSize; dy++ {
				for dx := 0; dx < c.moduleSize; dx++ {
					img.SetColorIndex(x0+dx, y0+dy, 1)
				}
			}
		}
	}
	return img
}
