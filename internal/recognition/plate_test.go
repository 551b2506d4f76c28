package recognition

import (
	"testing"

	"gate-service/internal/domain/gate"
)

func glyph(char string, x, y float64) Glyph {
	return Glyph{Char: char, X1: x - 5, Y1: y - 10, X2: x + 5, Y2: y + 10, Confidence: 0.9}
}

func TestAssemblePlate(t *testing.T) {
	tests := []struct {
		name     string
		glyphs   []Glyph
		expected string
	}{
		{
			name:     "no glyphs",
			glyphs:   nil,
			expected: gate.UnknownPlate,
		},
		{
			name:     "blank glyphs only",
			glyphs:   []Glyph{glyph(" ", 10, 10)},
			expected: gate.UnknownPlate,
		},
		{
			name: "ordered left to right",
			glyphs: []Glyph{
				glyph("2", 40, 20),
				glyph("B", 10, 20),
				glyph("1", 25, 22),
			},
			expected: "B12",
		},
		{
			name: "second row dropped",
			glyphs: []Glyph{
				glyph("B", 10, 20),
				glyph("1", 30, 21),
				glyph("0", 15, 80),
				glyph("5", 25, 80),
			},
			expected: "B1",
		},
		{
			name: "tolerance is exclusive",
			glyphs: []Glyph{
				glyph("A", 10, 0),
				glyph("B", 20, 24.9),
				glyph("C", 30, 25),
			},
			expected: "AB",
		},
		{
			name: "slanted row within tolerance",
			glyphs: []Glyph{
				glyph("X", 50, 18),
				glyph("Y", 60, 12),
				glyph("W", 40, 24),
			},
			expected: "WXY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AssemblePlate(tt.glyphs, DefaultRowTolerance)
			if result != tt.expected {
				t.Errorf("AssemblePlate() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestAssemblePlate_DefaultTolerance(t *testing.T) {
	glyphs := []Glyph{glyph("A", 10, 0), glyph("B", 20, 20)}
	if got := AssemblePlate(glyphs, 0); got != "AB" {
		t.Errorf("AssemblePlate() with zero tolerance = %q, want %q", got, "AB")
	}
}
