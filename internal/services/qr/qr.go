// Package qr renders serial numbers as QR code PNGs.
//
// We use skip2/go-qrcode: pure Go, writes PNG straight to memory, and the
// output size is fixed in pixels so the stamp can scale it to an exact
// size in points.
package qr

import (
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrEmptyContent is returned when asked to encode an empty string.
var ErrEmptyContent = errors.New("qr: empty content")

// DefaultPixels is the raster size of generated codes. It is scaled down to
// the stamp size when embedded, so a larger raster only costs file size.
const DefaultPixels = 256

// Encoder turns text into a PNG image.
type Encoder interface {
	Encode(text string) ([]byte, error)
}

// PNGEncoder encodes with error-correction level High (up to ~30% damage).
type PNGEncoder struct {
	Pixels        int  // Output width and height in pixels
	DisableBorder bool // Drop the quiet zone around the symbol
}

// NewEncoder creates an encoder with the default raster size.
func NewEncoder() *PNGEncoder {
	return &PNGEncoder{Pixels: DefaultPixels}
}

// Encode returns a square PNG of Pixels×Pixels encoding text.
func (e *PNGEncoder) Encode(text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyContent
	}

	q, err := qrcode.New(text, qrcode.High)
	if err != nil {
		return nil, fmt.Errorf("failed to build QR code for %q: %w", text, err)
	}
	q.DisableBorder = e.DisableBorder

	size := e.Pixels
	if size <= 0 {
		size = DefaultPixels
	}

	png, err := q.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code for %q: %w", text, err)
	}
	return png, nil
}
