package recognition

import (
	"math"
	"sort"
	"strings"

	"gate-service/internal/domain/gate"
)

// DefaultRowTolerance is how far, in pixels, a glyph centre may sit below
// the topmost glyph and still belong to the plate's first row.
const DefaultRowTolerance = 25.0

// Glyph is one character found by the OCR model inside a plate crop.
type Glyph struct {
	Char       string  `json:"char"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

func (g Glyph) centerX() float64 { return (g.X1 + g.X2) / 2 }
func (g Glyph) centerY() float64 { return (g.Y1 + g.Y2) / 2 }

// AssemblePlate turns glyphs into the plate string: only the top text row is
// kept, read left to right. Region codes and expiry dates printed on a second
// row are dropped. No glyphs yields gate.UnknownPlate.
func AssemblePlate(glyphs []Glyph, rowTolerance float64) string {
	if rowTolerance <= 0 {
		rowTolerance = DefaultRowTolerance
	}

	usable := make([]Glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if strings.TrimSpace(g.Char) == "" {
			continue
		}
		usable = append(usable, g)
	}
	if len(usable) == 0 {
		return gate.UnknownPlate
	}

	top := math.Inf(1)
	for _, g := range usable {
		top = math.Min(top, g.centerY())
	}

	row := usable[:0]
	for _, g := range usable {
		if math.Abs(g.centerY()-top) < rowTolerance {
			row = append(row, g)
		}
	}

	sort.SliceStable(row, func(i, j int) bool {
		return row[i].centerX() < row[j].centerX()
	})

	var b strings.Builder
	for _, g := range row {
		b.WriteString(strings.TrimSpace(g.Char))
	}
	return b.String()
}
