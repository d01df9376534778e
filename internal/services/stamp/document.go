package stamp

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disableConfigDir sync.Once

// newConfiguration returns a fresh pdfcpu configuration. pdfcpu would
// otherwise create a config directory under the user's home on first use.
func newConfiguration() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Warning is a non-fatal problem found while building a document.
type Warning struct {
	Page   int      `json:"page"`
	Size   PageSize `json:"size"`
	Reason string   `json:"reason"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("page %d: %s", w.Page, w.Reason)
}

// decode reads src into a fresh pdfcpu context.
func decode(src []byte) (*model.Context, error) {
	if len(src) == 0 {
		return nil, ErrMissingInputFile
	}

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(src), newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentDecode, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentDecode, err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrDocumentDecode)
	}
	return ctx, nil
}

// pageSizes returns the visible size (CropBox, else MediaBox) of every page.
// Pages without a usable box get a zero size rather than an error.
func pageSizes(ctx *model.Context) ([]PageSize, error) {
	sizes := make([]PageSize, ctx.PageCount)
	for i := 1; i <= ctx.PageCount; i++ {
		_, _, inh, err := ctx.PageDict(i, false)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrDocumentDecode, i, err)
		}
		if inh == nil {
			continue
		}
		box := inh.CropBox
		if box == nil {
			box = inh.MediaBox
		}
		if box != nil {
			sizes[i-1] = PageSize{Width: box.Width(), Height: box.Height()}
		}
	}
	return sizes, nil
}

// replaceInvalidPages turns every page with an unusable size into a blank
// page of size fallback, updating sizes in place. It returns one warning
// per replaced page.
func replaceInvalidPages(ctx *model.Context, sizes []PageSize, fallback PageSize) ([]Warning, error) {
	var warnings []Warning
	for i, size := range sizes {
		if size.Valid() {
			continue
		}

		pageDict, _, _, err := ctx.PageDict(i+1, false)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrDocumentDecode, i+1, err)
		}

		box := types.RectForDim(fallback.Width, fallback.Height)
		pageDict["MediaBox"] = box.Array()
		pageDict.Delete("CropBox")
		pageDict.Delete("Rotate")
		pageDict.Delete("Contents")

		warnings = append(warnings, Warning{
			Page:   i + 1,
			Size:   size,
			Reason: fmt.Sprintf("%v: replaced with blank %s page", ErrPageDimensionInvalid, fallback),
		})
		sizes[i] = fallback
	}
	return warnings, nil
}

// encode serializes ctx.
func encode(ctx *model.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("%w: failed to write PDF: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// concatenate joins whole documents in order.
func concatenate(parts [][]byte) ([]byte, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}

	readers := make([]io.ReadSeeker, len(parts))
	for i, p := range parts {
		readers[i] = bytes.NewReader(p)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, newConfiguration()); err != nil {
		return nil, fmt.Errorf("%w: failed to merge copies: %v", ErrEncoding, err)
	}
	return out.Bytes(), nil
}

// Inspect decodes src and reports its page sizes, without modifying it.
func Inspect(src []byte) ([]PageSize, error) {
	ctx, err := decode(src)
	if err != nil {
		return nil, err
	}
	return pageSizes(ctx)
}

// PageCount decodes src and returns the number of pages.
func PageCount(src []byte) (int, error) {
	ctx, err := decode(src)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}
