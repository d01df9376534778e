package stamp

import (
	"fmt"
	"math"
)

// PageSize is a page's visible size in points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// A4 is the size used for fallback pages.
var A4 = PageSize{Width: 595.28, Height: 841.89}

// Valid reports whether both sides are finite and positive.
func (s PageSize) Valid() bool {
	return s.Width > 0 && s.Height > 0 &&
		!math.IsInf(s.Width, 0) && !math.IsInf(s.Height, 0) &&
		!math.IsNaN(s.Width) && !math.IsNaN(s.Height)
}

func (s PageSize) String() string {
	return fmt.Sprintf("%.2fx%.2f", s.Width, s.Height)
}

// Placement is where the QR stamp goes, in page coordinates: origin at the
// bottom-left corner, units in points. The caption sits below it.
type Placement struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// PlacementPolicy decides how one placement carries over to pages of a
// different size than the first page.
type PlacementPolicy string

const (
	// PolicyFixed reuses the first page's placement unchanged on every page.
	PolicyFixed PlacementPolicy = "fixed"
	// PolicyPerPage keeps the stamp's distance from the top-right corner
	// measured on the first page and re-applies it on each page.
	PolicyPerPage PlacementPolicy = "per-page"
)

// ParsePolicy maps a config string to a policy. Empty means PolicyFixed.
func ParsePolicy(s string) (PlacementPolicy, error) {
	switch PlacementPolicy(s) {
	case "", PolicyFixed:
		return PolicyFixed, nil
	case PolicyPerPage:
		return PolicyPerPage, nil
	}
	return "", fmt.Errorf("unknown placement policy %q (use %q or %q)", s, PolicyFixed, PolicyPerPage)
}

// DefaultPlacement puts the stamp in the top-right corner, margin points
// in from both edges.
func DefaultPlacement(page PageSize, size, margin float64) Placement {
	return Placement{
		X:    page.Width - size - margin,
		Y:    page.Height - size - margin,
		Size: size,
	}
}

// PlacementFromScreen converts a drag position on a preview of the page
// into page coordinates. The preview is drawn in page units with the origin
// top-left, so only Y flips. The result keeps the whole stamp on the page.
func PlacementFromScreen(page PageSize, size, screenX, screenY float64) Placement {
	return Placement{
		X:    clamp(screenX, 0, page.Width-size),
		Y:    clamp(page.Height-screenY-size, 0, page.Height-size),
		Size: size,
	}
}

// ClampTo moves p so the stamp lies inside page.
func (p Placement) ClampTo(page PageSize) Placement {
	p.X = clamp(p.X, 0, page.Width-p.Size)
	p.Y = clamp(p.Y, 0, page.Height-p.Size)
	return p
}

// layout returns one placement per page. sizes[0] is the reference page
// that ref was computed against.
func layout(policy PlacementPolicy, ref Placement, sizes []PageSize) []Placement {
	out := make([]Placement, len(sizes))
	if len(sizes) == 0 {
		return out
	}

	refPage := sizes[0]
	fromRight := refPage.Width - ref.X
	fromTop := refPage.Height - ref.Y

	for i, page := range sizes {
		if policy != PolicyPerPage || i == 0 {
			out[i] = ref
			continue
		}
		out[i] = Placement{
			X:    page.Width - fromRight,
			Y:    page.Height - fromTop,
			Size: ref.Size,
		}.ClampTo(page)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo || math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
