package stamp

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png" // registers the PNG decoder for image.DecodeConfig
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
)

// captionFont is one of the 14 standard PDF fonts, so nothing is embedded.
const captionFont = "Helvetica"

// CheckCaption rejects templates whose serials the caption cannot print
// verbatim. pdfcpu expands %p, %P, %t and %v in stamp text and drops any other
// percent sign, and it splits lines on newlines and on a literal `\n`.
func CheckCaption(tmpl serial.Template) error {
	s := tmpl.Prefix + tmpl.Suffix
	switch {
	case strings.Contains(s, "%"):
		return fmt.Errorf("%w: %q: '%%' cannot be printed in the caption", serial.ErrInvalidTemplateFormat, tmpl.String())
	case strings.Contains(s, `\n`), strings.IndexFunc(s, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: %q: line breaks and control characters cannot be printed in the caption", serial.ErrInvalidTemplateFormat, tmpl.String())
	}
	return nil
}

// serialStamp holds the QR image and caption for one serial number.
type serialStamp struct {
	serial   string
	qrPNG    []byte
	qrPixels int
	fontSize int
	gap      float64
}

func newSerialStamp(serial string, qrPNG []byte, fontSize int, gap float64) (*serialStamp, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(qrPNG))
	if err != nil {
		return nil, fmt.Errorf("%w: QR image for %q: %v", ErrEncoding, serial, err)
	}
	if cfg.Width <= 0 {
		return nil, fmt.Errorf("%w: QR image for %q has zero width", ErrEncoding, serial)
	}

	return &serialStamp{
		serial:   serial,
		qrPNG:    qrPNG,
		qrPixels: cfg.Width,
		fontSize: fontSize,
		gap:      gap,
	}, nil
}

// captionOrigin returns the offset pdfcpu needs so the caption's baseline
// ends at (right, baseline). pdfcpu positions the text's bounding box, whose
// bottom lies ceil(descent) below the baseline.
func (s *serialStamp) captionOrigin(right, baseline float64) (float64, float64) {
	bb := model.CalcBoundingBox(s.serial, 0, 0, captionFont, s.fontSize)
	return right - bb.Width(), baseline + bb.LL.Y
}

// watermarks builds the QR and caption watermarks for pl.
//
// The QR is drawn at (X, Y) scaled to Size×Size. The caption is right
// aligned with the QR's right edge and its baseline sits gap points below
// the QR's bottom. Each call reads the QR image anew, so the result may be
// applied exactly once.
func (s *serialStamp) watermarks(pl Placement) (qrWM, textWM *model.Watermark, err error) {
	qrDesc := fmt.Sprintf("position:bl, offset:%.4f %.4f, scalefactor:%.6f abs, rotation:0, opacity:1",
		pl.X, pl.Y, pl.Size/float64(s.qrPixels))
	qrWM, err = api.ImageWatermarkForReader(bytes.NewReader(s.qrPNG), qrDesc, true, false, types.POINTS)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: QR stamp for %q: %v", ErrEncoding, s.serial, err)
	}

	x, y := s.captionOrigin(pl.X+pl.Size, pl.Y-s.gap)
	textDesc := fmt.Sprintf("fontname:%s, points:%d, position:bl, offset:%.4f %.4f, scalefactor:1 abs, rotation:0, fillcolor:#000000, opacity:1",
		captionFont, s.fontSize, x, y)
	textWM, err = api.TextWatermark(s.serial, textDesc, true, false, types.POINTS)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: caption stamp for %q: %v", ErrEncoding, s.serial, err)
	}
	return qrWM, textWM, nil
}

// stampPages stamps the given pages (1-based) at pl. The QR image is
// embedded once and shared by all of them.
func (s *serialStamp) stampPages(ctx *model.Context, pages types.IntSet, pl Placement) error {
	qrWM, textWM, err := s.watermarks(pl)
	if err != nil {
		return err
	}
	for _, wm := range []*model.Watermark{qrWM, textWM} {
		if err := pdfcpu.AddWatermarks(ctx, pages, wm); err != nil {
			return fmt.Errorf("%w: stamping %q: %v", ErrEncoding, s.serial, err)
		}
	}
	return nil
}

// apply stamps every page of ctx; placements holds one entry per page.
// Pages sharing a placement are stamped together.
func (s *serialStamp) apply(ctx *model.Context, placements []Placement) error {
	var order []Placement
	groups := make(map[Placement]types.IntSet)
	for i, pl := range placements {
		set, ok := groups[pl]
		if !ok {
			set = types.IntSet{}
			groups[pl] = set
			order = append(order, pl)
		}
		set[i+1] = true
	}

	for _, pl := range order {
		if err := s.stampPages(ctx, groups[pl], pl); err != nil {
			return err
		}
	}
	return nil
}
