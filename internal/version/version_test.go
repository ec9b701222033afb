package version

import "testing"

func TestLatest(t *testing.T) {
	tests := []struct {
		name     string
		locale   string
		branches []string
		want     string
		wantOK   bool
	}{
		{
			name:     "numeric ordering beats lexicographic",
			locale:   "gb",
			branches: []string{"gb-9", "gb-10", "gb-2"},
			want:     "gb-10",
			wantOK:   true,
		},
		{
			name:     "single match",
			locale:   "gb",
			branches: []string{"main", "gb-27", "feature-x"},
			want:     "gb-27",
			wantOK:   true,
		},
		{
			name:     "no matching branches",
			locale:   "gb",
			branches: []string{"main", "feature-x"},
			wantOK:   false,
		},
		{
			name:     "empty set",
			locale:   "gb",
			branches: nil,
			wantOK:   false,
		},
		{
			name:     "other locales ignored",
			locale:   "gb",
			branches: []string{"de-99", "gb-3", "fr-100"},
			want:     "gb-3",
			wantOK:   true,
		},
		{
			name:     "extraneous characters rejected",
			locale:   "gb",
			branches: []string{"gb-27-rc1", "gb-27x", "xgb-27", "gb-26"},
			want:     "gb-26",
			wantOK:   true,
		},
		{
			name:     "sentinel counts as a version",
			locale:   "gb",
			branches: []string{"gb-0"},
			want:     "gb-0",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Latest(tt.locale, tt.branches)
			if ok != tt.wantOK {
				t.Fatalf("Latest() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Latest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		locale string
		branch string
		want   int
		wantOK bool
	}{
		{name: "plain version", locale: "gb", branch: "gb-27", want: 27, wantOK: true},
		{name: "zero", locale: "gb", branch: "gb-0", want: 0, wantOK: true},
		{name: "negative rejected", locale: "gb", branch: "gb--1", wantOK: false},
		{name: "missing suffix", locale: "gb", branch: "gb-", wantOK: false},
		{name: "wrong locale", locale: "gb", branch: "de-27", wantOK: false},
		{name: "locale with regex metacharacters", locale: "g.b", branch: "gxb-1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.locale, tt.branch)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q, %q) ok = %v, want %v", tt.locale, tt.branch, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Parse(%q, %q) = %d, want %d", tt.locale, tt.branch, got, tt.want)
			}
		})
	}
}

func TestSentinel(t *testing.T) {
	if got := Sentinel("gb"); got != "gb-0" {
		t.Errorf("Sentinel(gb) = %q, want gb-0", got)
	}
}
