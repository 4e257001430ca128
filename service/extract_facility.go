package service

import (
	"regexp"
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

var reFacilityPrefix = regexp.MustCompile(
	`^(処方箋交付医療機関|保険医療機関|医療機関名|病院名|医院名|薬局名|調剤薬局名)\s*[:：]?\s*`)

// FacilityExtractor is role-aware: on pharmacy receipts the dispensing
// pharmacy (payer) and the prescribing clinic both appear, and the two
// rule sets penalize each other's context so the roles never collapse
// onto the same line.
type FacilityExtractor struct {
	rules config.FacilityRules
}

func NewFacilityExtractor(rules config.FacilityRules) *FacilityExtractor {
	return &FacilityExtractor{rules: rules}
}

func (e *FacilityExtractor) Extract(docType dto.DocumentType, lines []dto.OCRLine) map[string][]dto.Candidate {
	pool := map[string][]dto.Candidate{
		dto.FieldPayerFacilityName:       nil,
		dto.FieldPrescribingFacilityName: nil,
	}
	if len(lines) == 0 {
		return pool
	}

	var contactLines, prescribingLines []dto.OCRLine
	for _, line := range lines {
		if utils.ContainsAny(line.Text, e.rules.ContactAnchors) {
			contactLines = append(contactLines, line)
		}
		if utils.ContainsAny(line.Text, e.rules.PrescribingContext) {
			prescribingLines = append(prescribingLines, line)
		}
	}

	for _, line := range lines {
		cleaned := e.cleanName(line.Text)
		if !e.looksLikeName(cleaned) {
			continue
		}

		switch docType {
		case dto.DocTypePharmacy:
			if c, ok := e.scorePharmacyPayer(line, cleaned, contactLines, prescribingLines); ok {
				pool[dto.FieldPayerFacilityName] = append(pool[dto.FieldPayerFacilityName], c)
			}
			if c, ok := e.scorePharmacyPrescribing(line, cleaned, prescribingLines); ok {
				pool[dto.FieldPrescribingFacilityName] = append(pool[dto.FieldPrescribingFacilityName], c)
			}
		case dto.DocTypeClinic:
			if c, ok := e.scoreClinicPayer(line, cleaned, contactLines); ok {
				pool[dto.FieldPayerFacilityName] = append(pool[dto.FieldPayerFacilityName], c)
			}
		default:
			if c, ok := e.scoreUnknownPayer(line, cleaned); ok {
				pool[dto.FieldPayerFacilityName] = append(pool[dto.FieldPayerFacilityName], c)
			}
		}
	}
	return pool
}

func (e *FacilityExtractor) scorePharmacyPayer(line dto.OCRLine, cleaned string, contact, prescribing []dto.OCRLine) (dto.Candidate, bool) {
	score := 1.0
	var reasons []string

	if utils.ContainsAny(line.Text, e.rules.PharmacyKeywords) {
		score += e.rules.PayerPharmacyKeywordBonus
		reasons = append(reasons, "contains_pharmacy_keyword")
	}
	if utils.IsTopRegion(line.BBox, 0.25) {
		score += e.rules.PayerTopRegionBonus
		reasons = append(reasons, "top_region_bonus")
	}
	if nearAny(line, contact) {
		score += e.rules.PayerContactAnchorBonus
		reasons = append(reasons, "near_contact_anchor")
	}
	if utils.ContainsAny(line.Text, e.rules.PrescribingContext) || nearAny(line, prescribing) {
		score -= e.rules.PayerPrescribingPenalty
		reasons = append(reasons, "near_prescribing_context_penalty")
	}
	if utils.ContainsAny(line.Text, e.rules.ClinicKeywords) {
		score -= e.rules.PayerClinicKeywordPenalty
		reasons = append(reasons, "contains_clinic_keyword_penalty")
	}
	if score < 1.0 {
		return dto.Candidate{}, false
	}
	return facilityCandidate(dto.FieldPayerFacilityName, line, cleaned, score, reasons), true
}

func (e *FacilityExtractor) scorePharmacyPrescribing(line dto.OCRLine, cleaned string, prescribing []dto.OCRLine) (dto.Candidate, bool) {
	score := 0.8
	var reasons []string

	if utils.ContainsAny(line.Text, e.rules.PrescribingContext) || nearAny(line, prescribing) {
		score += e.rules.PrescribingAnchorBonus
		reasons = append(reasons, "near_prescribing_anchor")
	}
	if utils.ContainsAny(line.Text, e.rules.ClinicKeywords) {
		score += e.rules.PrescribingClinicBonus
		reasons = append(reasons, "contains_clinic_keyword")
	}
	if utils.ContainsAny(line.Text, e.rules.PharmacyKeywords) {
		score -= e.rules.PrescribingPharmacyPenalty
		reasons = append(reasons, "contains_pharmacy_keyword_penalty")
	}
	if cy := line.BBox.CenterY(); cy >= 0.18 && cy <= 0.6 {
		score += 0.6
		reasons = append(reasons, "middle_region_bonus")
	}
	if score < 1.0 {
		return dto.Candidate{}, false
	}
	return facilityCandidate(dto.FieldPrescribingFacilityName, line, cleaned, score, reasons), true
}

func (e *FacilityExtractor) scoreClinicPayer(line dto.OCRLine, cleaned string, contact []dto.OCRLine) (dto.Candidate, bool) {
	score := 1.0
	var reasons []string

	if utils.IsTopRegion(line.BBox, 0.25) {
		score += e.rules.ClinicTopRegionBonus
		reasons = append(reasons, "top_region_bonus")
	}
	if utils.ContainsAny(line.Text, e.rules.ClinicKeywords) {
		score += e.rules.ClinicKeywordBonus
		reasons = append(reasons, "contains_clinic_keyword")
	}
	if strings.Contains(line.Text, "医療法人") {
		score += 0.8
		reasons = append(reasons, "contains_medical_corporation_keyword")
	}
	if nearAny(line, contact) {
		score += e.rules.ClinicContactAnchorBonus
		reasons = append(reasons, "near_contact_anchor")
	}
	if utils.ContainsAny(line.Text, e.rules.PrescribingContext) {
		score -= e.rules.ClinicPrescribingPenalty
		reasons = append(reasons, "prescribing_context_penalty")
	}
	if strings.HasSuffix(cleaned, "様") || strings.HasSuffix(cleaned, "殿") {
		score -= 3.0
		reasons = append(reasons, "patient_honorific_penalty")
	}
	if score < 1.0 {
		return dto.Candidate{}, false
	}
	return facilityCandidate(dto.FieldPayerFacilityName, line, cleaned, score, reasons), true
}

func (e *FacilityExtractor) scoreUnknownPayer(line dto.OCRLine, cleaned string) (dto.Candidate, bool) {
	score := 0.5
	var reasons []string

	if utils.ContainsAny(line.Text, e.rules.PharmacyKeywords) {
		score += 1.8
		reasons = append(reasons, "contains_pharmacy_keyword")
	}
	if utils.ContainsAny(line.Text, e.rules.ClinicKeywords) {
		score += 1.8
		reasons = append(reasons, "contains_clinic_keyword")
	}
	if utils.IsTopRegion(line.BBox, 0.3) {
		score += 1.0
		reasons = append(reasons, "top_region_bonus")
	}
	if score < 1.4 {
		return dto.Candidate{}, false
	}
	return facilityCandidate(dto.FieldPayerFacilityName, line, cleaned, score, reasons), true
}

func facilityCandidate(field string, line dto.OCRLine, cleaned string, score float64, reasons []string) dto.Candidate {
	if len(reasons) == 0 {
		reasons = []string{"facility_candidate"}
	}
	return dto.Candidate{
		Field:             field,
		ValueRaw:          line.Text,
		ValueNormalized:   cleaned,
		SourceLineIndices: []int{line.LineIndex},
		BBox:              line.BBox,
		Score:             score,
		OCRConfidence:     line.Confidence,
		Reasons:           reasons,
		Source:            "generic",
	}
}

func nearAny(line dto.OCRLine, anchors []dto.OCRLine) bool {
	for _, anchor := range anchors {
		if anchor.LineIndex == line.LineIndex {
			continue
		}
		if utils.IsNearLine(line, anchor, 0.12, 0.5) {
			return true
		}
	}
	return false
}

func (e *FacilityExtractor) looksLikeName(text string) bool {
	t := utils.NormalizeText(text)
	if t == "" {
		return false
	}
	upper := strings.ToUpper(t)
	if strings.HasPrefix(t, "〒") || strings.HasPrefix(upper, "TEL") || strings.Contains(upper, "FAX") {
		return false
	}
	runes := []rune(t)
	if len(runes) < 2 || len(runes) > 64 {
		return false
	}
	if utils.ContainsAny(t, e.rules.NonNameHints) {
		return false
	}
	compact := utils.CompactText(t)
	switch compact {
	case "調剤", "明細", "領収", "合計", "内訳":
		return false
	}
	if strings.HasSuffix(compact, "様") || strings.HasSuffix(compact, "殿") {
		return false
	}
	if strings.Contains(t, ":") &&
		!utils.ContainsAny(t, e.rules.PharmacyKeywords) && !utils.ContainsAny(t, e.rules.ClinicKeywords) {
		return false
	}
	if digits := utils.CountDigits(t); digits > 0 && float64(digits)/float64(len(runes)) > 0.35 {
		return false
	}
	return true
}

func (e *FacilityExtractor) cleanName(text string) string {
	cleaned := utils.NormalizeText(text)
	cleaned = reFacilityPrefix.ReplaceAllString(cleaned, "")
	return strings.Trim(cleaned, " :：")
}
