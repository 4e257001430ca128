package utils

import (
	"math"

	"github.com/knakano/receipt-ocr-engine/dto"
)

// MergeBBoxes returns the union box of the given boxes.
func MergeBBoxes(boxes []dto.BBox) (dto.BBox, bool) {
	if len(boxes) == 0 {
		return dto.BBox{}, false
	}
	out := boxes[0]
	for _, b := range boxes[1:] {
		out[0] = math.Min(out[0], b[0])
		out[1] = math.Min(out[1], b[1])
		out[2] = math.Max(out[2], b[2])
		out[3] = math.Max(out[3], b[3])
	}
	return out, true
}

// BBoxDistance is the euclidean distance between box centers.
func BBoxDistance(a, b dto.BBox) float64 {
	dx := a.CenterX() - b.CenterX()
	dy := a.CenterY() - b.CenterY()
	return math.Sqrt(dx*dx + dy*dy)
}

// BBoxIoU computes intersection-over-union of two boxes.
func BBoxIoU(a, b dto.BBox) float64 {
	ix := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	iy := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// IsTopRegion reports whether the box center sits in the top band of
// the page (ratio 0.25 = upper quartile).
func IsTopRegion(b dto.BBox, ratio float64) bool {
	return b.CenterY() <= ratio
}

// IsNearLine reports whether two lines sit close enough to count as
// label/value neighbors.
func IsNearLine(line, other dto.OCRLine, verticalTol, horizontalTol float64) bool {
	return math.Abs(line.BBox.CenterY()-other.BBox.CenterY()) <= verticalTol &&
		math.Abs(line.BBox.CenterX()-other.BBox.CenterX()) <= horizontalTol
}

// LineInBBox reports whether the line's center falls inside the box.
func LineInBBox(line dto.OCRLine, box dto.BBox) bool {
	cx, cy := line.Center()
	return box[0] <= cx && cx <= box[2] && box[1] <= cy && cy <= box[3]
}

// FindNearestLine returns the line whose center is closest to the
// target box, or false when nothing is within maxDistance.
func FindNearestLine(lines []dto.OCRLine, target dto.BBox, maxDistance float64) (dto.OCRLine, bool) {
	var nearest dto.OCRLine
	best := math.Inf(1)
	for _, line := range lines {
		d := BBoxDistance(line.BBox, target)
		if d < best {
			best = d
			nearest = line
		}
	}
	if math.IsInf(best, 1) || best > maxDistance {
		return dto.OCRLine{}, false
	}
	return nearest, true
}
