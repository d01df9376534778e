package stamp

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/require"
)

var (
	// A stamp form drawn from the page content stream.
	formUseRe = regexp.MustCompile(`q ([-\d.]+) ([-\d.]+) ([-\d.]+) ([-\d.]+) ([-\d.]+) ([-\d.]+) cm /\w+ gs /(\w+) Do Q`)
	// The caption inside a text stamp form.
	captionRe = regexp.MustCompile(`([-\d.]+) ([-\d.]+) Td \d+ Tr \((.*?)\) Tj`)
	// The image inside a QR stamp form.
	qrDrawRe = regexp.MustCompile(`q ([-\d.]+) 0 0 ([-\d.]+) 0 0 cm /Im0 Do Q`)
)

// caption is a rendered serial caption in page coordinates.
type caption struct {
	Text     string
	Left     float64
	Baseline float64
}

// qrImage is a rendered QR image in page coordinates.
type qrImage struct {
	X, Y          float64
	Width, Height float64
}

// pageStamps is what a page carries on top of its template content.
type pageStamps struct {
	Captions []caption
	Images   []qrImage
}

// readStamps decodes a stamped PDF and resolves every stamp form on every
// page into page coordinates.
func readStamps(t *testing.T, data []byte) []pageStamps {
	t.Helper()

	ctx, err := decode(data)
	require.NoError(t, err)

	out := make([]pageStamps, ctx.PageCount)
	for nr := 1; nr <= ctx.PageCount; nr++ {
		d, _, _, err := ctx.PageDict(nr, true)
		require.NoError(t, err)
		content, err := ctx.PageContent(d, nr)
		require.NoError(t, err)
		xobjects := resourceDict(t, ctx, d, "XObject")

		for _, m := range formUseRe.FindAllStringSubmatch(string(content), -1) {
			e, f := parseNum(t, m[5]), parseNum(t, m[6])

			o, ok := xobjects.Find(m[7])
			require.True(t, ok, "page %d: form %s not in resources", nr, m[7])
			sd, _, err := ctx.DereferenceStreamDict(o)
			require.NoError(t, err)
			require.NotNil(t, sd)
			require.NoError(t, sd.Decode())
			body := string(sd.Content)

			if c := captionRe.FindStringSubmatch(body); c != nil {
				out[nr-1].Captions = append(out[nr-1].Captions, caption{
					Text:     unescapeLiteral(c[3]),
					Left:     e + parseNum(t, c[1]),
					Baseline: f + parseNum(t, c[2]),
				})
				continue
			}
			if q := qrDrawRe.FindStringSubmatch(body); q != nil {
				require.True(t, hasImage(t, ctx, sd.Dict), "page %d: QR form without an image", nr)
				out[nr-1].Images = append(out[nr-1].Images, qrImage{
					X: e, Y: f, Width: parseNum(t, q[1]), Height: parseNum(t, q[2]),
				})
			}
		}
	}
	return out
}

func resourceDict(t *testing.T, ctx *model.Context, d types.Dict, kind string) types.Dict {
	t.Helper()

	o, ok := d.Find("Resources")
	if !ok {
		return types.Dict{}
	}
	res, err := ctx.DereferenceDict(o)
	require.NoError(t, err)
	o, ok = res.Find(kind)
	if !ok {
		return types.Dict{}
	}
	sub, err := ctx.DereferenceDict(o)
	require.NoError(t, err)
	return sub
}

func hasImage(t *testing.T, ctx *model.Context, form types.Dict) bool {
	t.Helper()

	for _, o := range resourceDict(t, ctx, form, "XObject") {
		sd, _, err := ctx.DereferenceStreamDict(o)
		require.NoError(t, err)
		if sd != nil && sd.Dict.Subtype() != nil && *sd.Dict.Subtype() == "Image" {
			return true
		}
	}
	return false
}

func parseNum(t *testing.T, s string) float64 {
	t.Helper()
	f, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	return f
}

func unescapeLiteral(s string) string {
	return strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`).Replace(s)
}
