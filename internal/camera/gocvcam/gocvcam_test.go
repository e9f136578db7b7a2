package gocvcam

import "testing"

func TestJPEGQuality(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want int
	}{
		{0, DefaultJPEGQuality},
		{-5, DefaultJPEGQuality},
		{101, DefaultJPEGQuality},
		{1, 1},
		{95, 95},
	}
	for _, tt := range tests {
		if got := jpegQuality(tt.in); got != tt.want {
			t.Errorf("jpegQuality(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
