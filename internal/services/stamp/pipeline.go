// Package stamp produces serialized copies of a template PDF.
//
// Every copy gets a serial number from a serial.Template and a QR code of
// that serial, stamped on each page. Two output modes exist:
//
//   - ModeArchive: one PDF per serial, each built from a fresh decode of the
//     template so copies share no document state, zipped together.
//   - ModeMerged: the template is decoded once, its pages are copied for
//     every serial, and all copies are concatenated into one PDF.
//
// Copies are always numbered and emitted in ascending serial order.
package stamp

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"golang.org/x/sync/errgroup"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/archive"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/qr"
)

// Mode selects the output strategy for a whole run.
type Mode string

const (
	ModeArchive Mode = "archive"
	ModeMerged  Mode = "merged"
)

// ParseMode maps user input to a Mode. Empty means ModeArchive.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeArchive:
		return ModeArchive, nil
	case ModeMerged:
		return ModeMerged, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Options are the fixed stamp parameters shared by every run.
type Options struct {
	QRSize      float64         // QR edge length in points (2 cm = 56.69)
	Margin      float64         // Distance from the top-right corner for the default placement
	FontSize    int             // Caption size in points
	CaptionGap  float64         // Caption baseline distance below the QR
	Policy      PlacementPolicy // How the placement carries over to other pages
	Fallback    PageSize        // Size of pages substituted for invalid ones
	Concurrency int             // Archive-mode copies built at once
}

// DefaultOptions match the classic layout: a 2 cm code 20 pt from the
// top-right corner with a 14 pt caption 15 pt below it.
func DefaultOptions() Options {
	return Options{
		QRSize:      56.69,
		Margin:      20,
		FontSize:    14,
		CaptionGap:  15,
		Policy:      PolicyFixed,
		Fallback:    A4,
		Concurrency: 1,
	}
}

// Point is a user-chosen stamp position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether both coordinates are finite.
func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Request describes one run.
type Request struct {
	Source   []byte
	Template serial.Template
	Copies   int
	Mode     Mode
	Override *Point // nil means the default top-right placement
}

// Artifact is the finished output of a run.
type Artifact struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	Serials     []string  `json:"serials"`
	Entries     []string  `json:"entries,omitempty"` // Archive entry names, same order as Serials
	PageCount   int       `json:"page_count"`        // Pages per copy
	Placement   Placement `json:"placement"`
	Warnings    []Warning `json:"warnings,omitempty"`
}

// Observer receives progress after each finished copy.
type Observer interface {
	CopyDone(done, total int, serial string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(done, total int, serial string)

func (f ObserverFunc) CopyDone(done, total int, serial string) { f(done, total, serial) }

type nopObserver struct{}

func (nopObserver) CopyDone(int, int, string) {}

// Pipeline builds serialized copies. It is safe for concurrent use.
type Pipeline struct {
	qr   qr.Encoder
	opts Options
}

// New creates a pipeline. Zero-valued options fall back to DefaultOptions.
func New(enc qr.Encoder, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.QRSize <= 0 {
		opts.QRSize = def.QRSize
	}
	if opts.FontSize <= 0 {
		opts.FontSize = def.FontSize
	}
	if opts.CaptionGap == 0 {
		opts.CaptionGap = def.CaptionGap
	}
	if opts.Policy == "" {
		opts.Policy = def.Policy
	}
	if !opts.Fallback.Valid() {
		opts.Fallback = def.Fallback
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Pipeline{qr: enc, opts: opts}
}

// Options returns the pipeline's effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Placement computes the run placement from the first page, or from the
// override when one is given. It is computed once and reused for all copies.
func (p *Pipeline) Placement(first PageSize, override *Point) Placement {
	if !first.Valid() {
		first = p.opts.Fallback
	}
	if override == nil {
		return DefaultPlacement(first, p.opts.QRSize, p.opts.Margin)
	}
	return Placement{X: override.X, Y: override.Y, Size: p.opts.QRSize}.ClampTo(first)
}

// Run validates req, builds every copy in order and packages the result.
// Any error aborts the run; no partial artifact is returned. ctx is checked
// between copies.
func (p *Pipeline) Run(ctx context.Context, req Request, obs Observer) (*Artifact, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	if len(req.Source) == 0 {
		return nil, ErrMissingInputFile
	}
	serials, err := req.Template.Generate(req.Copies)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	if err := CheckCaption(req.Template); err != nil {
		return nil, err
	}
	if req.Override != nil && !req.Override.Valid() {
		return nil, fmt.Errorf("%w: override (%v, %v) is not a finite point", ErrInvalidPlacement, req.Override.X, req.Override.Y)
	}

	sizes, err := Inspect(req.Source)
	if err != nil {
		return nil, err
	}
	placement := p.Placement(sizes[0], req.Override)

	art := &Artifact{
		Serials:   serials,
		PageCount: len(sizes),
		Placement: placement,
	}

	switch mode {
	case ModeMerged:
		data, warnings, err := p.BuildMerged(ctx, req.Source, serials, placement, obs)
		if err != nil {
			return nil, err
		}
		art.Data = data
		art.Warnings = warnings
		art.Filename = req.Template.Prefix + "series.pdf"
		art.ContentType = "application/pdf"

	default:
		data, entries, warnings, err := p.buildArchive(ctx, req.Source, serials, placement, obs)
		if err != nil {
			return nil, err
		}
		art.Data = data
		art.Entries = entries
		art.Warnings = warnings
		art.Filename = req.Template.Prefix + "series.zip"
		art.ContentType = "application/zip"
	}

	return art, nil
}

// BuildCopy produces one stamped PDF for serial from a fresh decode of src.
func (p *Pipeline) BuildCopy(ctx context.Context, src []byte, serial string, placement Placement) ([]byte, []Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	doc, err := decode(src)
	if err != nil {
		return nil, nil, err
	}
	sizes, err := pageSizes(doc)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := replaceInvalidPages(doc, sizes, p.opts.Fallback)
	if err != nil {
		return nil, nil, err
	}

	st, err := p.newStamp(serial)
	if err != nil {
		return nil, nil, err
	}
	if err := st.apply(doc, layout(p.opts.Policy, placement, sizes)); err != nil {
		return nil, nil, err
	}

	data, err := encode(doc)
	if err != nil {
		return nil, nil, err
	}
	return data, warnings, nil
}

// BuildMerged decodes src once and produces a single PDF holding one
// stamped copy of every page per serial, in serial order. Pages with an
// invalid size become blank fallback pages so the page count always equals
// len(serials) × source pages.
func (p *Pipeline) BuildMerged(ctx context.Context, src []byte, serials []string, placement Placement, obs Observer) ([]byte, []Warning, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	if len(serials) == 0 {
		return nil, nil, fmt.Errorf("%w: no serials", serial.ErrInvalidCopyCount)
	}

	source, err := decode(src)
	if err != nil {
		return nil, nil, err
	}
	sourceSizes, err := pageSizes(source)
	if err != nil {
		return nil, nil, err
	}

	pageNrs := make([]int, source.PageCount)
	for i := range pageNrs {
		pageNrs[i] = i + 1
	}

	var warnings []Warning
	parts := make([][]byte, 0, len(serials))

	for i, s := range serials {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		doc, err := pdfcpu.ExtractPages(source, pageNrs, false)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: copying pages for %q: %v", ErrDocumentDecode, s, err)
		}
		if err := doc.EnsurePageCount(); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDocumentDecode, err)
		}

		sizes := append([]PageSize(nil), sourceSizes...)
		w, err := replaceInvalidPages(doc, sizes, p.opts.Fallback)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			warnings = w
		}

		st, err := p.newStamp(s)
		if err != nil {
			return nil, nil, err
		}
		if err := st.apply(doc, layout(p.opts.Policy, placement, sizes)); err != nil {
			return nil, nil, err
		}

		data, err := encode(doc)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, data)
		obs.CopyDone(i+1, len(serials), s)
	}

	merged, err := concatenate(parts)
	if err != nil {
		return nil, nil, err
	}
	return merged, warnings, nil
}

// buildArchive builds every copy and zips them in serial order. With
// Concurrency > 1 copies are built in parallel; each has its own decode so
// nothing is shared but the read-only source bytes.
func (p *Pipeline) buildArchive(ctx context.Context, src []byte, serials []string, placement Placement, obs Observer) ([]byte, []string, []Warning, error) {
	results := make([][]byte, len(serials))
	var (
		mu       sync.Mutex
		done     int
		warnings []Warning
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, s := range serials {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			data, w, err := p.BuildCopy(gctx, src, s, placement)
			if err != nil {
				return fmt.Errorf("copy %q: %w", s, err)
			}
			results[i] = data

			mu.Lock()
			defer mu.Unlock()
			if i == 0 {
				warnings = w
			}
			done++
			obs.CopyDone(done, len(serials), s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	// errgroup only reports errors from started goroutines.
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	zw := archive.NewWriter()
	entries := make([]string, len(serials))
	for i, s := range serials {
		entries[i] = archive.EntryName(s)
		if err := zw.Add(entries[i], results[i]); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
	}
	data, err := zw.Bytes()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, entries, warnings, nil
}

func (p *Pipeline) newStamp(s string) (*serialStamp, error) {
	png, err := p.qr.Encode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return newSerialStamp(s, png, p.opts.FontSize, p.opts.CaptionGap)
}
