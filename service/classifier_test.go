package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
)

func line(index int, text string, bbox dto.BBox, conf float64) dto.OCRLine {
	return dto.OCRLine{Text: text, BBox: bbox, Confidence: conf, LineIndex: index, Page: 1}
}

func TestClassifyPharmacy(t *testing.T) {
	classifier := NewClassifier(config.DefaultRules().Classifier)

	lines := []dto.OCRLine{
		line(0, "領収書", dto.BBox{0.38, 0.03, 0.62, 0.07}, 0.98),
		line(1, "〇〇調剤薬局", dto.BBox{0.06, 0.09, 0.48, 0.13}, 0.96),
		line(2, "処方箋に基づき調剤いたしました", dto.BBox{0.06, 0.3, 0.7, 0.34}, 0.9),
	}

	docType, confidence, reasons, quality := classifier.Classify(lines)
	assert.Equal(t, dto.DocTypePharmacy, docType)
	assert.Greater(t, confidence, 0.55)
	assert.Greater(t, quality, 0.9)
	assert.Contains(t, reasons, "pharmacy_keyword:薬局")
}

func TestClassifyClinic(t *testing.T) {
	classifier := NewClassifier(config.DefaultRules().Classifier)

	lines := []dto.OCRLine{
		line(0, "△△内科クリニック", dto.BBox{0.06, 0.04, 0.5, 0.08}, 0.95),
		line(1, "診療費領収書", dto.BBox{0.3, 0.1, 0.7, 0.14}, 0.93),
		line(2, "再診料 125点", dto.BBox{0.06, 0.4, 0.4, 0.44}, 0.9),
	}

	docType, _, reasons, _ := classifier.Classify(lines)
	assert.Equal(t, dto.DocTypeClinic, docType)
	assert.Contains(t, reasons, "clinic_keyword:クリニック")
}

func TestClassifyPrescriptionFeeIsNotPharmacyEvidence(t *testing.T) {
	classifier := NewClassifier(config.DefaultRules().Classifier)

	// 処方箋料 is a clinic fee line; it must not count toward the
	// pharmacy score.
	lines := []dto.OCRLine{
		line(0, "□□医院", dto.BBox{0.06, 0.04, 0.4, 0.08}, 0.95),
		line(1, "処方箋料 68点", dto.BBox{0.06, 0.5, 0.4, 0.54}, 0.92),
	}

	docType, _, reasons, _ := classifier.Classify(lines)
	assert.Equal(t, dto.DocTypeClinic, docType)
	assert.NotContains(t, reasons, "pharmacy_keyword:処方箋")
}

func TestClassifyUnknownOnLowQuality(t *testing.T) {
	classifier := NewClassifier(config.DefaultRules().Classifier)

	lines := []dto.OCRLine{
		line(0, "薬局", dto.BBox{0.1, 0.05, 0.3, 0.09}, 0.2),
		line(1, "???", dto.BBox{0.1, 0.2, 0.3, 0.24}, 0.1),
	}

	docType, confidence, reasons, _ := classifier.Classify(lines)
	assert.Equal(t, dto.DocTypeUnknown, docType)
	assert.Equal(t, 0.2, confidence)
	assert.Contains(t, reasons, "low_ocr_quality")
}

func TestClassifyUnknownWithoutKeywords(t *testing.T) {
	classifier := NewClassifier(config.DefaultRules().Classifier)

	lines := []dto.OCRLine{
		line(0, "お買い上げありがとうございます", dto.BBox{0.1, 0.05, 0.8, 0.09}, 0.9),
	}

	docType, _, reasons, _ := classifier.Classify(lines)
	assert.Equal(t, dto.DocTypeUnknown, docType)
	assert.Contains(t, reasons, "no_domain_keywords")
}
