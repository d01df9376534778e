package serial

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Template
		wantErr error
	}{
		{
			name:  "prefix and suffix",
			input: "PREFIX{0005}SUFFIX",
			want:  Template{Prefix: "PREFIX", Start: 5, Width: 4, Suffix: "SUFFIX"},
		},
		{
			name:  "prefix only",
			input: "KM-{0001}",
			want:  Template{Prefix: "KM-", Start: 1, Width: 4},
		},
		{
			name:  "number only",
			input: "{42}",
			want:  Template{Start: 42, Width: 2},
		},
		{
			name:  "greedy prefix keeps the last braces",
			input: "A{1}{2}",
			want:  Template{Prefix: "A{1}", Start: 2, Width: 1},
		},
		{name: "no braces", input: "NOBRACES", wantErr: ErrInvalidTemplateFormat},
		{name: "negative number", input: "A{-5}", wantErr: ErrInvalidTemplateFormat},
		{name: "empty number", input: "A{}", wantErr: ErrInvalidTemplateFormat},
		{name: "letters in number", input: "A{12b}", wantErr: ErrInvalidTemplateFormat},
		{name: "empty string", input: "", wantErr: ErrInvalidTemplateFormat},
		{name: "overflow", input: "A{99999999999999999999}", wantErr: ErrInvalidStartValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		count    int
		want     []string
	}{
		{
			name:     "prefix and suffix",
			template: "PREFIX{0005}SUFFIX",
			count:    3,
			want:     []string{"PREFIX0005SUFFIX", "PREFIX0006SUFFIX", "PREFIX0007SUFFIX"},
		},
		{
			name:     "padding kept across a digit boundary",
			template: "A{09}",
			count:    2,
			want:     []string{"A09", "A10"},
		},
		{
			name:     "number outgrows its width",
			template: "A{99}",
			count:    2,
			want:     []string{"A99", "A100"},
		},
		{
			name:     "single copy",
			template: "KM-{0001}",
			count:    1,
			want:     []string{"KM-0001"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MustParse(tt.template).Generate(tt.count)
			if err != nil {
				t.Fatalf("Generate(%d) unexpected error: %v", tt.count, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Generate(%d) = %v, want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestGenerate_InvalidCopyCount(t *testing.T) {
	tmpl := MustParse("A{1}")
	for _, count := range []int{0, -1, -100} {
		if _, err := tmpl.Generate(count); !errors.Is(err, ErrInvalidCopyCount) {
			t.Errorf("Generate(%d) error = %v, want ErrInvalidCopyCount", count, err)
		}
	}

	top := Template{Prefix: "X", Start: math.MaxUint64, Width: 1}
	if _, err := top.Generate(1); err != nil {
		t.Errorf("Generate(1) at MaxUint64 unexpected error: %v", err)
	}
	if _, err := top.Generate(2); !errors.Is(err, ErrInvalidCopyCount) {
		t.Errorf("Generate(2) at MaxUint64 error = %v, want ErrInvalidCopyCount", err)
	}
}

// The sequence is a pure function of the template, so ranging twice gives
// the same serials and breaking early stops cleanly.
func TestSerials_Restartable(t *testing.T) {
	seq, err := MustParse("S{0010}").Serials(5)
	if err != nil {
		t.Fatalf("Serials unexpected error: %v", err)
	}

	var first, second []string
	for _, s := range seq {
		first = append(first, s)
	}
	for _, s := range seq {
		second = append(second, s)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second pass = %v, want %v", second, first)
	}

	var seen []int
	for i := range seq {
		seen = append(seen, i)
		if i == 1 {
			break
		}
	}
	if !reflect.DeepEqual(seen, []int{0, 1}) {
		t.Errorf("early break saw %v, want [0 1]", seen)
	}
}

func TestTemplateString(t *testing.T) {
	for _, in := range []string{"KM-{0001}", "{7}", "A{009}B"} {
		if got := MustParse(in).String(); got != in {
			t.Errorf("String() = %q, want %q", got, in)
		}
	}
}
