package stamp

import (
	"bytes"
	"context"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/qr"
)

// recordingEncoder remembers every text it was asked to encode.
type recordingEncoder struct {
	mu    sync.Mutex
	texts []string
	next  qr.Encoder
}

func (r *recordingEncoder) Encode(text string) ([]byte, error) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	return r.next.Encode(text)
}

func newTestPipeline(opts Options) (*Pipeline, *recordingEncoder) {
	enc := &recordingEncoder{next: qr.NewEncoder()}
	return New(enc, opts), enc
}

// readZip returns the entry names in archive order and their contents.
func readZip(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	contents := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, f.Name)
		contents[f.Name] = b
	}
	return names, contents
}

func TestRun_Archive(t *testing.T) {
	src := fixturePDF(t, A4)
	p, enc := newTestPipeline(DefaultOptions())

	art, err := p.Run(context.Background(), Request{
		Source:   src,
		Template: serial.MustParse("KM-{0001}"),
		Copies:   3,
		Mode:     ModeArchive,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "KM-series.zip", art.Filename)
	assert.Equal(t, "application/zip", art.ContentType)
	assert.Equal(t, []string{"KM-0001", "KM-0002", "KM-0003"}, art.Serials)
	assert.Equal(t, []string{"KM-0001.pdf", "KM-0002.pdf", "KM-0003.pdf"}, art.Entries)
	assert.Equal(t, 1, art.PageCount)
	assert.Empty(t, art.Warnings)
	assert.Equal(t, art.Serials, enc.texts)

	names, entries := readZip(t, art.Data)
	assert.Equal(t, art.Entries, names)
	for _, name := range art.Entries {
		n, err := PageCount(entries[name])
		require.NoError(t, err, name)
		assert.Equal(t, 1, n, name)
	}
}

func TestRun_ArchiveParallelKeepsOrder(t *testing.T) {
	src := fixturePDF(t, A4, A4)
	opts := DefaultOptions()
	opts.Concurrency = 4
	p, enc := newTestPipeline(opts)

	art, err := p.Run(context.Background(), Request{
		Source:   src,
		Template: serial.MustParse("{98}"),
		Copies:   5,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "series.zip", art.Filename)
	assert.Equal(t, []string{"98.pdf", "99.pdf", "100.pdf", "101.pdf", "102.pdf"}, art.Entries)
	assert.ElementsMatch(t, art.Serials, enc.texts)

	names, entries := readZip(t, art.Data)
	assert.Equal(t, art.Entries, names)
	for _, name := range art.Entries {
		n, err := PageCount(entries[name])
		require.NoError(t, err, name)
		assert.Equal(t, 2, n, name)
	}
}

func TestRun_Merged(t *testing.T) {
	src := fixturePDF(t, A4, PageSize{Width: 612, Height: 792})
	p, enc := newTestPipeline(DefaultOptions())

	art, err := p.Run(context.Background(), Request{
		Source:   src,
		Template: serial.MustParse("INV-{7}-B"),
		Copies:   3,
		Mode:     ModeMerged,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "INV-series.pdf", art.Filename)
	assert.Equal(t, "application/pdf", art.ContentType)
	assert.Equal(t, []string{"INV-7-B", "INV-8-B", "INV-9-B"}, art.Serials)
	assert.Nil(t, art.Entries)
	assert.Equal(t, art.Serials, enc.texts)

	n, err := PageCount(art.Data)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	sizes, err := Inspect(art.Data)
	require.NoError(t, err)
	for i := 0; i < 6; i += 2 {
		assert.InDelta(t, A4.Width, sizes[i].Width, 0.01)
		assert.InDelta(t, 612, sizes[i+1].Width, 0.01)
	}
}

func TestRun_MergedSingleCopy(t *testing.T) {
	src := fixturePDF(t, A4)
	p, _ := newTestPipeline(DefaultOptions())

	art, err := p.Run(context.Background(), Request{
		Source:   src,
		Template: serial.MustParse("X{1}"),
		Copies:   1,
		Mode:     ModeMerged,
	}, nil)
	require.NoError(t, err)

	n, err := PageCount(art.Data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_InvalidPageIsReplaced(t *testing.T) {
	src := withDegeneratePage(t, fixturePDF(t, A4, A4, A4), 2)

	for _, mode := range []Mode{ModeArchive, ModeMerged} {
		t.Run(string(mode), func(t *testing.T) {
			p, _ := newTestPipeline(DefaultOptions())
			art, err := p.Run(context.Background(), Request{
				Source:   src,
				Template: serial.MustParse("P{01}"),
				Copies:   2,
				Mode:     mode,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, 3, art.PageCount)

			require.Len(t, art.Warnings, 1)
			assert.Equal(t, 2, art.Warnings[0].Page)
			assert.False(t, art.Warnings[0].Size.Valid())
			assert.Contains(t, art.Warnings[0].Reason, ErrPageDimensionInvalid.Error())

			outputs := map[string]int{}
			if mode == ModeMerged {
				outputs[string(art.Data)] = 6
			} else {
				_, entries := readZip(t, art.Data)
				for _, name := range art.Entries {
					outputs[string(entries[name])] = 3
				}
			}

			for data, pages := range outputs {
				sizes, err := Inspect([]byte(data))
				require.NoError(t, err)
				assert.Len(t, sizes, pages)
				for _, s := range sizes {
					assert.True(t, s.Valid(), "page size %v", s)
				}
			}
		})
	}
}

// assertStamped checks that page carries one QR image at pl and one
// caption reading want, right aligned with the QR and gap points below it.
func assertStamped(t *testing.T, page pageStamps, want string, pl Placement, opts Options) {
	t.Helper()

	require.Len(t, page.Images, 1)
	img := page.Images[0]
	assert.InDelta(t, pl.X, img.X, 0.01)
	assert.InDelta(t, pl.Y, img.Y, 0.01)
	assert.InDelta(t, pl.Size, img.Width, 0.01)
	assert.InDelta(t, pl.Size, img.Height, 0.01)

	require.Len(t, page.Captions, 1)
	c := page.Captions[0]
	assert.Equal(t, want, c.Text)
	assert.InDelta(t, pl.Y-opts.CaptionGap, c.Baseline, 0.02)
	assert.InDelta(t, pl.X+pl.Size, c.Left+font.TextWidth(want, captionFont, opts.FontSize), 0.02)
}

func TestRun_StampsEveryPage(t *testing.T) {
	letter := PageSize{Width: 612, Height: 792}
	src := fixturePDF(t, A4, letter)
	opts := DefaultOptions()
	p, _ := newTestPipeline(opts)

	t.Run("archive", func(t *testing.T) {
		art, err := p.Run(context.Background(), Request{
			Source:   src,
			Template: serial.MustParse("KM-{0001}"),
			Copies:   2,
		}, nil)
		require.NoError(t, err)

		_, entries := readZip(t, art.Data)
		for i, name := range art.Entries {
			pages := readStamps(t, entries[name])
			require.Len(t, pages, 2, name)
			for _, page := range pages {
				assertStamped(t, page, art.Serials[i], art.Placement, opts)
			}
		}
	})

	t.Run("merged", func(t *testing.T) {
		art, err := p.Run(context.Background(), Request{
			Source:   src,
			Template: serial.MustParse("INV-{7}-B"),
			Copies:   3,
			Mode:     ModeMerged,
		}, nil)
		require.NoError(t, err)

		pages := readStamps(t, art.Data)
		require.Len(t, pages, 6)
		for i, page := range pages {
			assertStamped(t, page, art.Serials[i/2], art.Placement, opts)
		}
	})
}

func TestRun_StampsPerPagePolicy(t *testing.T) {
	letter := PageSize{Width: 612, Height: 792}
	opts := DefaultOptions()
	opts.Policy = PolicyPerPage
	p, _ := newTestPipeline(opts)

	art, err := p.Run(context.Background(), Request{
		Source:   fixturePDF(t, A4, letter),
		Template: serial.MustParse("PP{1}"),
		Copies:   1,
		Mode:     ModeMerged,
	}, nil)
	require.NoError(t, err)

	want := layout(PolicyPerPage, art.Placement, []PageSize{A4, letter})
	pages := readStamps(t, art.Data)
	require.Len(t, pages, 2)
	assertStamped(t, pages[0], "PP1", want[0], opts)
	assertStamped(t, pages[1], "PP1", want[1], opts)
	assert.InDelta(t, letter.Width-opts.Margin-opts.QRSize, want[1].X, 1e-9)
}

func TestRun_CaptionIsLiteral(t *testing.T) {
	opts := DefaultOptions()
	p, _ := newTestPipeline(opts)

	art, err := p.Run(context.Background(), Request{
		Source:   fixturePDF(t, A4, A4),
		Template: serial.MustParse("LOT (A)-{09}"),
		Copies:   1,
		Mode:     ModeMerged,
	}, nil)
	require.NoError(t, err)

	for _, page := range readStamps(t, art.Data) {
		assertStamped(t, page, "LOT (A)-09", art.Placement, opts)
	}
}

func TestRun_Override(t *testing.T) {
	src := fixturePDF(t, A4)
	p, _ := newTestPipeline(DefaultOptions())

	tests := []struct {
		name     string
		override *Point
		want     Placement
	}{
		{"default", nil, DefaultPlacement(A4, 56.69, 20)},
		{"inside", &Point{X: 100, Y: 200}, Placement{X: 100, Y: 200, Size: 56.69}},
		{"clamped", &Point{X: 10000, Y: -5}, Placement{X: A4.Width - 56.69, Y: 0, Size: 56.69}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := p.Run(context.Background(), Request{
				Source:   src,
				Template: serial.MustParse("{1}"),
				Copies:   1,
				Override: tt.override,
			}, nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.X, art.Placement.X, 1e-9)
			assert.InDelta(t, tt.want.Y, art.Placement.Y, 1e-9)
			assert.Equal(t, tt.want.Size, art.Placement.Size)
		})
	}
}

func TestRun_Observer(t *testing.T) {
	src := fixturePDF(t, A4)

	for _, mode := range []Mode{ModeArchive, ModeMerged} {
		t.Run(string(mode), func(t *testing.T) {
			p, _ := newTestPipeline(DefaultOptions())

			type event struct {
				done, total int
				serial      string
			}
			var got []event
			obs := ObserverFunc(func(done, total int, s string) {
				got = append(got, event{done, total, s})
			})

			_, err := p.Run(context.Background(), Request{
				Source:   src,
				Template: serial.MustParse("S{8}"),
				Copies:   3,
				Mode:     mode,
			}, obs)
			require.NoError(t, err)

			assert.Equal(t, []event{{1, 3, "S8"}, {2, 3, "S9"}, {3, 3, "S10"}}, got)
		})
	}
}

func TestRun_Idempotent(t *testing.T) {
	src := fixturePDF(t, A4, A4)
	p, _ := newTestPipeline(DefaultOptions())
	req := Request{Source: src, Template: serial.MustParse("R{001}"), Copies: 2, Mode: ModeMerged}

	first, err := p.Run(context.Background(), req, nil)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Serials, second.Serials)
	assert.Equal(t, first.Placement, second.Placement)

	n1, err := PageCount(first.Data)
	require.NoError(t, err)
	n2, err := PageCount(second.Data)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestRun_Errors(t *testing.T) {
	src := fixturePDF(t, A4)
	tmpl := serial.MustParse("E{1}")

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"missing source", Request{Template: tmpl, Copies: 1}, ErrMissingInputFile},
		{"zero copies", Request{Source: src, Template: tmpl, Copies: 0}, serial.ErrInvalidCopyCount},
		{"negative copies", Request{Source: src, Template: tmpl, Copies: -2}, serial.ErrInvalidCopyCount},
		{"bad mode", Request{Source: src, Template: tmpl, Copies: 1, Mode: "tarball"}, ErrInvalidMode},
		{"not a pdf", Request{Source: []byte("hello, world"), Template: tmpl, Copies: 1}, ErrDocumentDecode},
		{"percent in template", Request{Source: src, Template: serial.MustParse("A%p-{1}"), Copies: 1}, serial.ErrInvalidTemplateFormat},
		{"line break in template", Request{Source: src, Template: serial.MustParse("A\\n{1}"), Copies: 1}, serial.ErrInvalidTemplateFormat},
		{"NaN override", Request{Source: src, Template: tmpl, Copies: 1, Override: &Point{X: math.NaN(), Y: math.NaN()}}, ErrInvalidPlacement},
		{"infinite override", Request{Source: src, Template: tmpl, Copies: 1, Override: &Point{X: 10, Y: math.Inf(1)}}, ErrInvalidPlacement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, enc := newTestPipeline(DefaultOptions())
			art, err := p.Run(context.Background(), tt.req, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, art)
			assert.Empty(t, enc.texts)
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	src := fixturePDF(t, A4)

	for _, mode := range []Mode{ModeArchive, ModeMerged} {
		t.Run(string(mode), func(t *testing.T) {
			p, _ := newTestPipeline(DefaultOptions())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			art, err := p.Run(ctx, Request{
				Source:   src,
				Template: serial.MustParse("C{1}"),
				Copies:   4,
				Mode:     mode,
			}, nil)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Nil(t, art)
		})
	}
}

func TestRun_CancelMidRun(t *testing.T) {
	src := fixturePDF(t, A4)
	p, _ := newTestPipeline(DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int
	obs := ObserverFunc(func(done, total int, s string) {
		seen = done
		if done == 2 {
			cancel()
		}
	})

	art, err := p.Run(ctx, Request{
		Source:   src,
		Template: serial.MustParse("M{1}"),
		Copies:   10,
		Mode:     ModeMerged,
	}, obs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, art)
	assert.Equal(t, 2, seen)
}

type failingEncoder struct{}

func (failingEncoder) Encode(string) ([]byte, error) { return nil, qr.ErrEmptyContent }

func TestRun_EncoderFailure(t *testing.T) {
	p := New(failingEncoder{}, DefaultOptions())
	_, err := p.Run(context.Background(), Request{
		Source:   fixturePDF(t, A4),
		Template: serial.MustParse("F{1}"),
		Copies:   2,
	}, nil)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestNew_Defaults(t *testing.T) {
	p := New(qr.NewEncoder(), Options{})
	assert.Equal(t, DefaultOptions().QRSize, p.Options().QRSize)
	assert.Equal(t, 14, p.Options().FontSize)
	assert.Equal(t, PolicyFixed, p.Options().Policy)
	assert.Equal(t, A4, p.Options().Fallback)
	assert.Equal(t, 1, p.Options().Concurrency)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeArchive, "archive": ModeArchive, "merged": ModeMerged} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("zip")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
