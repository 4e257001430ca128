package service

import (
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// Classifier keyword-scores normalized lines into a document type.
// Deterministic, no learning.
type Classifier struct {
	rules config.ClassifierRules
}

func NewClassifier(rules config.ClassifierRules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the document type, a classifier confidence, the
// applied reason tokens and the overall OCR quality (mean line
// confidence).
func (c *Classifier) Classify(lines []dto.OCRLine) (dto.DocumentType, float64, []string, float64) {
	if len(lines) == 0 {
		return dto.DocTypeUnknown, 0.0, []string{"no_ocr_lines"}, 0.0
	}

	var pharmacyScore, clinicScore, quality float64
	var reasons []string
	for _, line := range lines {
		quality += line.Confidence
	}
	quality /= float64(len(lines))

	for _, line := range lines {
		topBand := utils.IsTopRegion(line.BBox, c.rules.TopBandRatio)
		for _, kw := range c.rules.PharmacyKeywords {
			if !matchKeyword(line.Text, kw) {
				continue
			}
			pharmacyScore += c.rules.PharmacyWeight
			reasons = append(reasons, "pharmacy_keyword:"+kw)
			if topBand {
				pharmacyScore += c.rules.TopBandBonus
				reasons = append(reasons, "pharmacy_top_band_bonus:"+kw)
			}
		}
		for _, kw := range c.rules.ClinicKeywords {
			if !strings.Contains(line.Text, kw) {
				continue
			}
			clinicScore += c.rules.ClinicWeight
			reasons = append(reasons, "clinic_keyword:"+kw)
			if topBand {
				clinicScore += c.rules.TopBandBonus
				reasons = append(reasons, "clinic_top_band_bonus:"+kw)
			}
		}
	}

	margin := pharmacyScore - clinicScore
	if margin < 0 {
		margin = -margin
	}

	switch {
	case quality < c.rules.QualityFloor:
		return dto.DocTypeUnknown, 0.2, append(reasons, "low_ocr_quality"), quality
	case pharmacyScore == 0 && clinicScore == 0:
		return dto.DocTypeUnknown, 0.3, append(reasons, "no_domain_keywords"), quality
	case margin < c.rules.MinMargin:
		return dto.DocTypeUnknown, 0.4, append(reasons, "score_gap_too_small"), quality
	}

	confidence := utils.Clamp01(0.55 + margin/10.0)
	if pharmacyScore > clinicScore {
		return dto.DocTypePharmacy, confidence, reasons, quality
	}
	return dto.DocTypeClinic, confidence, reasons, quality
}

// matchKeyword treats 処方箋 specially: 処方箋料 is a fee line item on
// clinic receipts, not evidence of a pharmacy document.
func matchKeyword(text, kw string) bool {
	if kw == "処方箋" {
		return strings.Contains(text, "処方箋") && !strings.Contains(text, "処方箋料")
	}
	return strings.Contains(text, kw)
}
