package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// rowBandTolerance groups lines whose vertical centers are this close
// into one reading-order row.
const rowBandTolerance = 0.015

// Normalizer turns an engine-specific raw OCR payload into the ordered
// unit-square line representation the rest of the pipeline consumes.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize converts pixel geometry to the unit square, drops
// degenerate lines (recording each drop for audit), clamps confidence
// values into [0,1], sorts lines into reading order and assigns
// zero-based line indices. It fails only when the image metadata
// itself is unusable.
func (n *Normalizer) Normalize(raw *dto.RawResult) ([]dto.OCRLine, []string, error) {
	if raw == nil {
		return nil, nil, fmt.Errorf("%w: nil payload", dto.ErrMalformedOCRResult)
	}
	if raw.ImageWidth <= 0 || raw.ImageHeight <= 0 {
		return nil, nil, fmt.Errorf("%w: image size %dx%d",
			dto.ErrMalformedOCRResult, raw.ImageWidth, raw.ImageHeight)
	}

	width := float64(raw.ImageWidth)
	height := float64(raw.ImageHeight)
	var lines []dto.OCRLine
	var dropped []string

	for i, row := range raw.Lines {
		text := utils.NormalizeText(row.Text)
		if text == "" {
			continue
		}
		bbox, ok := normalizeBBox(row, width, height)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("dropped_line:%d:degenerate_bbox", i))
			continue
		}
		confidence, clamped := normalizeConfidence(row.Confidence)
		if clamped {
			dropped = append(dropped, fmt.Sprintf("clamped_confidence:%d", i))
		}
		page := row.Page
		if page < 1 {
			page = 1
		}
		lines = append(lines, dto.OCRLine{
			Text:       text,
			BBox:       bbox,
			Polygon:    normalizePolygon(row.Polygon, width, height),
			Confidence: confidence,
			Page:       page,
		})
	}

	// Reading order: top-to-bottom, left-to-right within a row band.
	sort.SliceStable(lines, func(a, b int) bool {
		la, lb := lines[a], lines[b]
		if la.Page != lb.Page {
			return la.Page < lb.Page
		}
		cya, cyb := la.BBox.CenterY(), lb.BBox.CenterY()
		if math.Abs(cya-cyb) > rowBandTolerance {
			return cya < cyb
		}
		return la.BBox[0] < lb.BBox[0]
	})
	for i := range lines {
		lines[i].LineIndex = i
	}
	return lines, dropped, nil
}

// normalizeBBox accepts either a 4-float bbox or a polygon and maps it
// to unit-square coordinates. Coordinates already in [0,1] pass through
// unchanged so pre-normalized adapters keep working.
func normalizeBBox(row dto.RawLine, width, height float64) (dto.BBox, bool) {
	x1, y1, x2, y2 := 0.0, 0.0, 0.0, 0.0
	switch {
	case len(row.BBox) == 4:
		x1, y1, x2, y2 = row.BBox[0], row.BBox[1], row.BBox[2], row.BBox[3]
	case len(row.Polygon) >= 3:
		x1, y1 = math.Inf(1), math.Inf(1)
		x2, y2 = math.Inf(-1), math.Inf(-1)
		for _, p := range row.Polygon {
			x1, y1 = math.Min(x1, p[0]), math.Min(y1, p[1])
			x2, y2 = math.Max(x2, p[0]), math.Max(y2, p[1])
		}
	default:
		return dto.BBox{}, false
	}

	if isAbsolute(x1, y1, x2, y2) {
		x1, x2 = x1/width, x2/width
		y1, y2 = y1/height, y2/height
	}
	left := utils.Clamp01(math.Min(x1, x2))
	right := utils.Clamp01(math.Max(x1, x2))
	top := utils.Clamp01(math.Min(y1, y2))
	bottom := utils.Clamp01(math.Max(y1, y2))
	if left >= right || top >= bottom {
		return dto.BBox{}, false
	}
	return dto.BBox{left, top, right, bottom}, true
}

func normalizePolygon(poly []dto.Point, width, height float64) []dto.Point {
	if len(poly) == 0 {
		return nil
	}
	out := make([]dto.Point, 0, len(poly))
	for _, p := range poly {
		x, y := p[0], p[1]
		if x > 1.5 || y > 1.5 {
			x, y = x/width, y/height
		}
		out = append(out, dto.Point{utils.Clamp01(x), utils.Clamp01(y)})
	}
	return out
}

func normalizeConfidence(v float64) (float64, bool) {
	// Engines reporting percentages get folded into [0,1].
	if v > 1.0 && v <= 100.0 {
		return v / 100.0, false
	}
	if v < 0 || v > 1 {
		return utils.Clamp01(v), true
	}
	return v, false
}

func isAbsolute(vals ...float64) bool {
	for _, v := range vals {
		if v > 1.5 {
			return true
		}
	}
	return false
}
