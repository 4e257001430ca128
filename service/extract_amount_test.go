package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
)

func newAmountExtractor() *AmountExtractor {
	return NewAmountExtractor(config.DefaultRules().Amount)
}

func TestAmountExtractPrefersLabeledTotal(t *testing.T) {
	extractor := newAmountExtractor()

	lines := []dto.OCRLine{
		line(0, "調剤技術料 810", dto.BBox{0.06, 0.45, 0.38, 0.49}, 0.89),
		line(1, "薬学管理料 330", dto.BBox{0.06, 0.5, 0.38, 0.54}, 0.9),
		line(2, "総点数 513点", dto.BBox{0.06, 0.55, 0.38, 0.59}, 0.88),
		line(3, "領収金額 ¥1,540", dto.BBox{0.06, 0.64, 0.46, 0.69}, 0.97),
	}
	candidates := extractor.Extract(lines)
	assert.NotEmpty(t, candidates)

	best := bestOf(candidates)
	assert.Equal(t, 1540, best.ValueNormalized)
	assert.Contains(t, best.Reasons, "has_primary_amount_label")
	assert.Contains(t, best.Reasons, "has_currency_marker")
}

func TestAmountExtractSuppressesInsurancePoints(t *testing.T) {
	extractor := newAmountExtractor()

	lines := []dto.OCRLine{
		line(0, "総点数 513点", dto.BBox{0.06, 0.55, 0.38, 0.59}, 0.88),
		line(1, "領収金額 1540円", dto.BBox{0.06, 0.64, 0.46, 0.69}, 0.97),
	}
	candidates := extractor.Extract(lines)

	var points *dto.Candidate
	for i := range candidates {
		if candidates[i].ValueNormalized == 513 {
			points = &candidates[i]
		}
	}
	assert.NotNil(t, points)
	assert.Contains(t, points.Reasons, "excluded_points_tax_context")
	assert.Greater(t, bestOf(candidates).Score, points.Score)
	assert.Equal(t, 1540, bestOf(candidates).ValueNormalized)
}

func TestAmountExtractZeroExemption(t *testing.T) {
	extractor := newAmountExtractor()

	lines := []dto.OCRLine{
		line(0, "公費負担のため", dto.BBox{0.06, 0.5, 0.4, 0.54}, 0.9),
		line(1, "領収金額 0円", dto.BBox{0.06, 0.64, 0.4, 0.69}, 0.95),
	}
	candidates := extractor.Extract(lines)

	best := bestOf(candidates)
	assert.Equal(t, 0, best.ValueNormalized)
	assert.Contains(t, best.Reasons, "zero_amount_exempted")
	assert.NotContains(t, best.Reasons, "zero_amount_penalty")
}

func TestAmountExtractZeroWithoutExemptionPenalized(t *testing.T) {
	extractor := newAmountExtractor()

	lines := []dto.OCRLine{
		line(0, "領収金額 0円", dto.BBox{0.06, 0.64, 0.4, 0.69}, 0.95),
	}
	candidates := extractor.Extract(lines)
	assert.Len(t, candidates, 1)
	assert.Contains(t, candidates[0].Reasons, "zero_amount_penalty")
}

func TestAmountExtractPlainYearDiscounted(t *testing.T) {
	extractor := newAmountExtractor()

	lines := []dto.OCRLine{
		line(0, "2026年のご利用分", dto.BBox{0.06, 0.3, 0.5, 0.34}, 0.9),
		line(1, "合計 980円", dto.BBox{0.06, 0.6, 0.4, 0.64}, 0.94),
	}
	candidates := extractor.Extract(lines)

	best := bestOf(candidates)
	assert.Equal(t, 980, best.ValueNormalized)
}
