package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
)

func fixedNow() time.Time {
	return time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)
}

func newDateExtractor() *DateExtractor {
	rules := config.DefaultRules()
	return NewDateExtractor(rules.Date, rules.Eras, fixedNow)
}

func TestDateExtractPrefersReceiptDateOverPrescriptionDate(t *testing.T) {
	extractor := newDateExtractor()

	lines := []dto.OCRLine{
		line(0, "処方箋交付日 2026/02/20", dto.BBox{0.06, 0.3, 0.5, 0.34}, 0.93),
		line(1, "領収日 2026/02/22", dto.BBox{0.06, 0.4, 0.42, 0.44}, 0.95),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 2)

	best := bestOf(candidates)
	assert.Equal(t, "2026-02-22", best.ValueNormalized)
	assert.Contains(t, best.Reasons, "has_preferred_date_label")
}

func TestDateExtractNearbyLabelMergesGeometry(t *testing.T) {
	extractor := newDateExtractor()

	lines := []dto.OCRLine{
		line(0, "領収日", dto.BBox{0.06, 0.4, 0.2, 0.43}, 0.94),
		line(1, "2026/02/22", dto.BBox{0.24, 0.4, 0.44, 0.43}, 0.95),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 1)

	c := candidates[0]
	assert.Contains(t, c.Reasons, "near_preferred_date_label")
	assert.Equal(t, []int{0, 1}, c.SourceLineIndices)
	assert.InDelta(t, 0.06, c.BBox[0], 1e-9)
	assert.InDelta(t, 0.44, c.BBox[2], 1e-9)
}

func TestDateExtractPartialDateIsHeldNotDefaulted(t *testing.T) {
	extractor := newDateExtractor()

	lines := []dto.OCRLine{
		line(0, "領収日 2月22日", dto.BBox{0.06, 0.4, 0.4, 0.44}, 0.95),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 1)
	assert.Equal(t, "02-22", candidates[0].ValueNormalized)
	assert.Contains(t, candidates[0].Reasons, "year_missing_hold_candidate")
}

func TestDateExtractFuturePenalty(t *testing.T) {
	extractor := newDateExtractor()

	lines := []dto.OCRLine{
		line(0, "領収日 2027/06/01", dto.BBox{0.06, 0.4, 0.42, 0.44}, 0.95),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 1)
	assert.Contains(t, candidates[0].Reasons, "future_date_penalty")
}

func TestDateExtractTomorrowAlreadyPenalized(t *testing.T) {
	extractor := newDateExtractor()

	lines := []dto.OCRLine{
		line(0, "領収日 2026/02/26", dto.BBox{0.06, 0.4, 0.42, 0.44}, 0.95),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 1)
	assert.Contains(t, candidates[0].Reasons, "future_date_penalty")
}

func TestDateExtractInferredEraFlagged(t *testing.T) {
	extractor := newDateExtractor()

	lines := []dto.OCRLine{
		line(0, "調剤日 8/2/22", dto.BBox{0.06, 0.4, 0.4, 0.44}, 0.92),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 1)
	assert.Equal(t, "2026-02-22", candidates[0].ValueNormalized)
	assert.Contains(t, candidates[0].Reasons, "era_inferred_without_marker")
}
