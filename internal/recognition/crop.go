package recognition

import (
	"image"
	"image/draw"
	"math"

	"gate-service/internal/domain/gate"
)

// ClipBox converts a detector box to integer pixels inside bounds. Boxes
// that end up with no area are reported as not usable.
func ClipBox(box gate.Box, bounds image.Rectangle) (image.Rectangle, bool) {
	if anyNaN(box.X1, box.Y1, box.X2, box.Y2) {
		return image.Rectangle{}, false
	}

	r := image.Rect(
		int(math.Floor(box.X1)),
		int(math.Floor(box.Y1)),
		int(math.Ceil(box.X2)),
		int(math.Ceil(box.Y2)),
	).Intersect(bounds)

	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the region of img. Decoded JPEG and PNG frames share pixels
// with the crop; other image types are copied.
func Crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
