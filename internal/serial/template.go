// Package serial expands serial-number templates like "KM-{0001}" into
// runs of fixed-width serial numbers.
//
// A template is a literal prefix, a brace-delimited run of decimal digits,
// and a literal suffix. The digit run sets both the first number and the
// minimum printed width: "{007}" starts at 7 and pads every number to three
// digits. Numbers that outgrow the width are printed in full ("A{99}" yields
// "A99", "A100"), which keeps serials unique without ever failing.
package serial

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"regexp"
	"strconv"
)

var (
	// ErrInvalidTemplateFormat means the template does not look like PREFIX{NUMBER}SUFFIX.
	ErrInvalidTemplateFormat = errors.New("invalid template format")
	// ErrInvalidStartValue means the numeric token could not be read as a non-negative integer.
	ErrInvalidStartValue = errors.New("invalid start value")
	// ErrInvalidCopyCount means the number of copies is not a positive integer
	// or would run the counter past its numeric range.
	ErrInvalidCopyCount = errors.New("invalid copy count")
)

// templatePattern is greedy on the prefix, so "A{1}{2}" reads prefix "A{1}".
var templatePattern = regexp.MustCompile(`^(.*)\{(\d+)\}(.*)$`)

// Template is a parsed serial-number template. It is immutable.
type Template struct {
	Prefix string `json:"prefix"`
	Start  uint64 `json:"start"`
	Width  int    `json:"width"`
	Suffix string `json:"suffix"`
}

// Parse reads a template string of the form PREFIX{NUMBER}SUFFIX.
func Parse(s string) (Template, error) {
	m := templatePattern.FindStringSubmatch(s)
	if m == nil {
		return Template{}, fmt.Errorf("%w: %q must match PREFIX{NUMBER}SUFFIX", ErrInvalidTemplateFormat, s)
	}

	token := m[2]
	if token == "" {
		return Template{}, fmt.Errorf("%w: empty number", ErrInvalidStartValue)
	}

	// ParseUint rejects values past uint64 instead of wrapping.
	start, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return Template{}, fmt.Errorf("%w: %q: %v", ErrInvalidStartValue, token, err)
	}

	return Template{
		Prefix: m[1],
		Start:  start,
		Width:  len(token),
		Suffix: m[3],
	}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Template {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Format renders n with the template's prefix, padding and suffix.
func (t Template) Format(n uint64) string {
	return fmt.Sprintf("%s%0*d%s", t.Prefix, t.Width, n, t.Suffix)
}

// At returns the serial at offset i from the start value.
// It does not check i against a copy count; call Validate first.
func (t Template) At(i int) string {
	return t.Format(t.Start + uint64(i))
}

// Validate checks that count copies can be numbered from this template.
func (t Template) Validate(count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: %d (must be at least 1)", ErrInvalidCopyCount, count)
	}
	if uint64(count-1) > math.MaxUint64-t.Start {
		return fmt.Errorf("%w: %d copies from %d exceeds the numeric range", ErrInvalidCopyCount, count, t.Start)
	}
	return nil
}

// Serials returns a lazy sequence of (index, serial) pairs for count copies,
// in ascending order. The sequence can be ranged over any number of times.
func (t Template) Serials(count int) (iter.Seq2[int, string], error) {
	if err := t.Validate(count); err != nil {
		return nil, err
	}
	return func(yield func(int, string) bool) {
		for i := 0; i < count; i++ {
			if !yield(i, t.At(i)) {
				return
			}
		}
	}, nil
}

// Generate returns all count serials as a slice.
func (t Template) Generate(count int) ([]string, error) {
	seq, err := t.Serials(count)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, count)
	for _, s := range seq {
		out = append(out, s)
	}
	return out, nil
}

// String returns the canonical template text, e.g. "KM-{0001}".
func (t Template) String() string {
	return fmt.Sprintf("%s{%0*d}%s", t.Prefix, t.Width, t.Start, t.Suffix)
}
