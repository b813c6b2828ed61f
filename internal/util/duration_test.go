package util

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		// Simple units
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},

		// Milliseconds (standard Go format)
		{"400ms", 400 * time.Millisecond, false},
		{"2500ms", 2500 * time.Millisecond, false},

		// Standard Go compound durations
		{"1h30m", 90 * time.Minute, false},

		// Whitespace is tolerated
		{" 24h ", 24 * time.Hour, false},

		// Errors
		{"", 0, true},
		{"s", 0, true},
		{"abc", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseDuration(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ParseDuration(%q) expected error, got %v", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseDuration(%q) unexpected error: %v", tc.input, err)
				return
			}
			if got != tc.expected {
				t.Errorf("ParseDuration(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{24 * time.Hour, "1d"},
		{14 * 24 * time.Hour, "2w"},
		{400 * time.Millisecond, "400ms"},
		{90 * time.Second, "1m30s"},
	}
	for _, tc := range tests {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
		back, err := ParseDuration(FormatDuration(tc.in))
		if err != nil || back != tc.in {
			t.Errorf("round trip %v -> %q -> %v (%v)", tc.in, FormatDuration(tc.in), back, err)
		}
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1d")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 24*time.Hour {
		t.Errorf("got %v, want 24h", d.Duration)
	}
	out, err := D(6 * time.Second).MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(out) != "6s" {
		t.Errorf("MarshalText = %q, want 6s", out)
	}
	if err := d.UnmarshalText([]byte("nope")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
