package plate

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSanitize(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"BAM 9267", "BAM 9267"},
		{"  |BAM-9267|\n", "BAM9267"},
		{"\x0cWXS 3465.\n\n", "WXS 3465"},
		{"b@m 92_67", "bm 9267"},
		{"", ""},
		{"!!!", ""},
		{"BAM 9267²", "BAM 9267²"},
		{"Ⅻ-½ KCH", "Ⅻ½ KCH"},
		{"٣٤٥ WXS", "٣٤٥ WXS"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.raw); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{" [IIUM] 6763 ", "vs\t2277", "JFC-2218\r\n", "日本 123"}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"tide", "diet", 0.25},
		{"diet", "tide", 0.5},
		{"BAM 9287", "BAM 9267", 0.875},
		{"XQZ 0000", "BAM 9267", 0.125},
		{"WX 3465", "WXS 3465", 14.0 / 15.0},
		{"WX 3465", "WXM 3268", 10.0 / 15.0},
		{"AAA", "AAA 4444", 6.0 / 11.0},
		{"", "BAM", 0},
		{"", "", 1},
		{"IIUM 6763", "IIUM 6763", 1},
	}
	for _, tt := range tests {
		if got := Ratio(tt.a, tt.b); !approx(got, tt.want) {
			t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func mustResolver(t *testing.T, registry []string, threshold float64) *Resolver {
	t.Helper()
	r, err := NewResolver(registry, threshold)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolveExactMatch(t *testing.T) {
	r := mustResolver(t, []string{"BAM 9267", "AAA 4444"}, 0.7)
	m := r.Resolve("BAM 9267")
	if !m.Matched || m.Plate != "BAM 9267" || m.Ratio != 1.0 {
		t.Fatalf("Resolve exact = %+v", m)
	}
}

func TestResolveNoConfidentMatch(t *testing.T) {
	r := mustResolver(t, []string{"BAM 9267", "AAA 4444"}, 0.7)
	m := r.Resolve("XQZ 0000")
	if m.Matched || m.Plate != "" {
		t.Fatalf("expected no match, got %+v", m)
	}
	if m.Ratio >= 0.7 || !approx(m.Ratio, 0.125) {
		t.Fatalf("best ratio = %v, want 0.125", m.Ratio)
	}
	if m.Nearest != "BAM 9267" {
		t.Fatalf("nearest = %q, want first tied entry", m.Nearest)
	}
}

func TestResolveNoisyOCR(t *testing.T) {
	r := mustResolver(t, testRegistry(), DefaultThreshold)
	tests := map[string]string{
		"8AM 9267": "BAM 9267",
		"WX 3465":  "WXS 3465",
		"IIUM6763": "IIUM 6763",
	}
	for ocr, want := range tests {
		m := r.Resolve(ocr)
		if !m.Matched || m.Plate != want {
			t.Errorf("Resolve(%q) = %+v, want %s", ocr, m, want)
		}
	}
}

func testRegistry() []string {
	return []string{
		"BAM 9267", "AAA 4444", "WVX 3589", "WXM 3268", "WSN 5634",
		"IIUM 6763", "VS 2277", "WXS 3465", "BGN 6677", "JFC 2218",
	}
}

func TestResolveFirstMaxWins(t *testing.T) {
	forward := mustResolver(t, []string{"AB 12", "AB 13"}, 0.5)
	if m := forward.Resolve("AB 1"); m.Plate != "AB 12" {
		t.Fatalf("forward tie resolved to %q", m.Plate)
	}
	reverse := mustResolver(t, []string{"AB 13", "AB 12"}, 0.5)
	if m := reverse.Resolve("AB 1"); m.Plate != "AB 13" {
		t.Fatalf("reverse tie resolved to %q", m.Plate)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := mustResolver(t, testRegistry(), DefaultThreshold)
	first := r.Resolve("WSN 5B34")
	for i := 0; i < 50; i++ {
		if got := r.Resolve("WSN 5B34"); got != first {
			t.Fatalf("iteration %d: %+v != %+v", i, got, first)
		}
	}
}

func TestResolveNeverBelowThreshold(t *testing.T) {
	inputs := []string{"", "B", "BAM", "AM 92", "WXM 3", "VS 2277", "zzzz", "JFC 221B", "IIUM 67"}
	for _, threshold := range []float64{0, 0.3, 0.7, 0.9, 1} {
		r := mustResolver(t, testRegistry(), threshold)
		for _, in := range inputs {
			m := r.Resolve(in)
			if m.Matched && m.Ratio < threshold {
				t.Fatalf("threshold %v: %q matched %q at %v", threshold, in, m.Plate, m.Ratio)
			}
			if !m.Matched && m.Ratio >= threshold {
				t.Fatalf("threshold %v: %q rejected with ratio %v", threshold, in, m.Ratio)
			}
		}
	}
}

func TestNewResolverValidation(t *testing.T) {
	if _, err := NewResolver(nil, 0.7); !errors.Is(err, ErrEmptyRegistry) {
		t.Fatalf("empty registry err = %v", err)
	}
	if _, err := NewResolver([]string{"BAM 9267", " "}, 0.7); !errors.Is(err, ErrBlankEntry) {
		t.Fatalf("blank entry err = %v", err)
	}
	if _, err := NewResolver([]string{"BAM 9267"}, 1.5); !errors.Is(err, ErrThreshold) {
		t.Fatalf("threshold err = %v", err)
	}
}

func TestResolverCopiesRegistry(t *testing.T) {
	reg := []string{"BAM 9267", "AAA 4444"}
	r := mustResolver(t, reg, 0.7)
	reg[0] = "ZZZ 0000"
	if m := r.Resolve("BAM 9267"); m.Plate != "BAM 9267" {
		t.Fatalf("resolver saw caller mutation: %+v", m)
	}
}
