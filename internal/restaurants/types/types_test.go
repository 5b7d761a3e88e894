package types

import "testing"

func TestParseCategory(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Category
	}{
		{"한식", Korean},
		{"한식>비빔밥", Korean},
		{"Korean BBQ", Korean},
		{"중식", Chinese},
		{"JAPANESE", Japanese},
		{"양식 레스토랑", Western},
		{"카페", Cafe},
		{"Coffee Shop", Cafe},
		{"디저트", Etc},
		{"", Etc},
		{"   ", Etc},
		{"분식", Etc},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			if got := ParseCategory(tt.raw); got != tt.want {
				t.Fatalf("ParseCategory(%q) = %q want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestJoinLocalized(t *testing.T) {
	t.Parallel()
	if got := JoinLocalized(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := JoinLocalized([]Category{Korean, Cafe}); got != "한식,카페" {
		t.Fatalf("got %q", got)
	}
}

func TestLocationValid(t *testing.T) {
	t.Parallel()
	cases := map[Location]bool{
		{Lat: 37.5, Lng: 127}:  true,
		{Lat: 90, Lng: -180}:   true,
		{Lat: 90.1, Lng: 0}:    false,
		{Lat: 0, Lng: 180.5}:   false,
		{Lat: -91, Lng: 126.9}: false,
	}
	for loc, want := range cases {
		if got := loc.Valid(); got != want {
			t.Fatalf("%+v.Valid() = %v want %v", loc, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if got := ParseLevel("lacto-ovo"); got != LevelLactoOvo {
		t.Fatalf("got %q", got)
	}
	for _, raw := range []string{"others", "", "VEGAN", "meat"} {
		if got := ParseLevel(raw); got != LevelUnset {
			t.Fatalf("ParseLevel(%q) = %q, want unset", raw, got)
		}
	}
	if LevelUnset.Label() != "아직 분석되지 않음" {
		t.Fatalf("unexpected unset label %q", LevelUnset.Label())
	}
	if got := LevelLacto.Info(); got != "🥛 락토 베지테리언 - 유제품 가능" {
		t.Fatalf("unexpected info %q", got)
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score   float64
		percent int
		band    string
	}{
		{-0.2, 0, "low"},
		{0.494, 49, "low"},
		{0.5, 50, "medium"},
		{0.79, 79, "medium"},
		{0.8, 80, "high"},
		{1.7, 100, "high"},
	}
	for _, tt := range tests {
		if got := ConfidencePercent(tt.score); got != tt.percent {
			t.Fatalf("ConfidencePercent(%v) = %d want %d", tt.score, got, tt.percent)
		}
		if got := ConfidenceBand(tt.score); got != tt.band {
			t.Fatalf("ConfidenceBand(%v) = %q want %q", tt.score, got, tt.band)
		}
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]int64{"12": 12, "rest-7": 7, " 3 ": 3} {
		got, ok := ParseID(in)
		if !ok || got != want {
			t.Fatalf("ParseID(%q) = %d,%v want %d", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "rest-", "abc", "-4", "0"} {
		if _, ok := ParseID(in); ok {
			t.Fatalf("ParseID(%q) should fail", in)
		}
	}
}
