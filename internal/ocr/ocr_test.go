package ocr

import (
	"context"
	"errors"
	"image"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fire", "fire"},
		{"Fire  Mage\n", "fire_mage"},
		{" sea-dog ", "sea_dog"},
		{"Bombardier 3", "bombardier"},
		{"Ice'Wizard", "ice_wizard"},
		{"", ""},
		{"|", ""},
		{"x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNop(t *testing.T) {
	_, err := Nop{}.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Recognize() error = %v, want %v", err, ErrDisabled)
	}
}
