package stamp

import (
	"bytes"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/require"
)

// fixturePDF builds a PDF with one page per size, each carrying a line of text.
func fixturePDF(t *testing.T, sizes ...PageSize) []byte {
	t.Helper()

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i, s := range sizes {
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: s.Width, Ht: s.Height})
		pdf.Text(40, 60, "Template page")
		pdf.Text(40, 80, string(rune('A'+i)))
	}

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

// withDegeneratePage rewrites page pageNr of src to have a zero-size MediaBox.
func withDegeneratePage(t *testing.T, src []byte, pageNr int) []byte {
	t.Helper()

	ctx, err := decode(src)
	require.NoError(t, err)
	pageDict, _, _, err := ctx.PageDict(pageNr, false)
	require.NoError(t, err)
	pageDict["MediaBox"] = types.NewRectangle(0, 0, 0, 0).Array()
	pageDict.Delete("CropBox")

	out, err := encode(ctx)
	require.NoError(t, err)
	return out
}
