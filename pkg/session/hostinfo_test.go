package session

import (
	"math"
	"testing"
)

func TestParseByteSizeMB(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"512MiB", 512},
		{"1GiB", 1024},
		{"0B", 0},
		{"", 0},
		{"2048KiB", 2},
		{"1.5GiB", 1536},
		{"1MB", 1000 * 1000 / (1024.0 * 1024.0)},
		{"garbage", 0},
	}
	for _, tt := range tests {
		got := parseByteSizeMB(tt.in)
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("parseByteSizeMB(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"42.5%", 42.5},
		{"0.00%", 0},
		{" 13% ", 13},
		{"junk", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parsePercent(tt.in); got != tt.want {
			t.Errorf("parsePercent(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}
