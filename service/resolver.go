package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// Expected rule-score ceilings per field, used to map additive scores
// onto [0,1] for the confidence blend.
var fieldScoreCeilings = map[string]float64{
	dto.FieldPayerFacilityName:       8.0,
	dto.FieldPrescribingFacilityName: 6.0,
	dto.FieldPaymentDate:             6.5,
	dto.FieldPaymentAmount:           10.0,
	dto.FieldFamilyMemberName:        8.0,
}

// Confidence blend weights. Field evidence dominates; OCR quality,
// template agreement and validity checks modulate.
const (
	fieldTermWeight     = 0.45
	ocrQualityWeight    = 0.20
	templateTermWeight  = 0.15
	validityTermWeight  = 0.20
	fieldOCRBlendWeight = 0.55
)

// Resolver picks the winning candidate per field and turns the field
// set into a decision with traceable reasons.
type Resolver struct {
	rules *config.Rules
}

func NewResolver(rules *config.Rules) *Resolver {
	return &Resolver{rules: rules}
}

// Resolve selects per-field winners from the candidate pools and
// computes the decision. Pools must already be boosted and sorted by
// the pipeline; Resolve never mutates candidates.
func (r *Resolver) Resolve(docType dto.DocumentType, pools map[string][]dto.Candidate, match dto.TemplateMatch, ocrQuality float64) (map[string]*dto.FieldResult, dto.Decision) {
	fields := make(map[string]*dto.FieldResult)
	var reasons []string

	for field, pool := range pools {
		winner, ok := r.selectWinner(pool)
		if !ok {
			continue
		}
		fields[field] = &dto.FieldResult{Candidate: winner, Selected: true}
	}

	required := requiredFieldsFor(docType, pools)
	var missing []string
	for _, field := range required {
		if _, ok := fields[field]; !ok {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		reasons = append(reasons, "missing_required_fields:"+strings.Join(missing, ","))
	} else {
		reasons = append(reasons, "all_required_fields_present")
	}

	validity := 1.0
	if amount, ok := fields[dto.FieldPaymentAmount]; ok {
		if v, isInt := amount.ValueNormalized.(int); isInt && v <= 0 && !hasReason(amount.Reasons, "zero_amount_exempted") {
			validity = 0.0
			reasons = append(reasons, "non_positive_amount")
		}
	}
	if date, ok := fields[dto.FieldPaymentDate]; ok {
		if hasReason(date.Reasons, "year_missing_hold_candidate") {
			validity *= 0.4
			reasons = append(reasons, "payment_date_year_missing")
		}
		if hasReason(date.Reasons, "future_date_penalty") {
			validity *= 0.5
			reasons = append(reasons, "payment_date_in_future")
		}
	}

	// The unregistered-name policy only means something when the
	// household actually has a member registry to check against.
	unregisteredFamily := false
	if fam, ok := fields[dto.FieldFamilyMemberName]; ok && len(r.rules.Family.Members) > 0 {
		if hasReason(fam.Reasons, "family_name_unregistered_different_surname") {
			unregisteredFamily = true
			reasons = append(reasons, "family_member_unregistered")
		}
	}

	ambiguity := r.ambiguityReasons(fields, pools)
	reasons = append(reasons, ambiguity...)

	totalCandidates := 0
	for _, pool := range pools {
		totalCandidates += len(pool)
	}
	if totalCandidates == 0 {
		reasons = append(reasons, "no_viable_candidates")
	}

	confidence := r.blendConfidence(fields, required, match, ocrQuality, validity)

	if match.Matched {
		if match.Score >= 0.85 {
			reasons = append(reasons, "template_match_strong")
		} else {
			reasons = append(reasons, "template_match_applied")
		}
	}
	if ocrQuality < r.rules.Thresholds.OCRQualityFloor {
		reasons = append(reasons, "low_ocr_quality")
	}
	if docType == dto.DocTypeUnknown {
		reasons = append(reasons, "document_type_unknown")
	}

	status := r.statusFor(confidence, missing, docType, ocrQuality, totalCandidates == 0)
	// An ambiguous winner or a patient name outside the registered
	// household never auto-accepts; a human settles it.
	if status == dto.StatusAutoAccept && (unregisteredFamily || len(ambiguity) > 0) {
		status = dto.StatusReviewRequired
	}
	return fields, dto.Decision{
		Status:     status,
		Confidence: round3(confidence),
		Reasons:    reasons,
	}
}

// selectWinner picks the highest-scoring candidate at or above the
// candidate threshold. Equal scores break toward the smaller first
// source line index, so the outcome is stable across runs.
func (r *Resolver) selectWinner(pool []dto.Candidate) (dto.Candidate, bool) {
	threshold := r.rules.Thresholds.Candidate
	best := -1
	for i, c := range pool {
		if c.Score < threshold {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		switch {
		case c.Score > pool[best].Score:
			best = i
		case c.Score == pool[best].Score && firstIndex(c) < firstIndex(pool[best]):
			best = i
		}
	}
	if best == -1 {
		return dto.Candidate{}, false
	}
	return pool[best], true
}

// requiredFieldsFor adds the prescribing facility as required on
// pharmacy documents when the document produced any prescribing
// candidate at all. A pharmacy receipt that never prints the clinic
// is not punished for the omission.
func requiredFieldsFor(docType dto.DocumentType, pools map[string][]dto.Candidate) []string {
	required := append([]string{}, dto.RequiredFields...)
	if docType == dto.DocTypePharmacy && len(pools[dto.FieldPrescribingFacilityName]) > 0 {
		required = append(required, dto.FieldPrescribingFacilityName)
	}
	return required
}

func (r *Resolver) ambiguityReasons(fields map[string]*dto.FieldResult, pools map[string][]dto.Candidate) []string {
	var reasons []string

	if winner, ok := fields[dto.FieldPaymentAmount]; ok {
		margin := r.rules.Amount.AmbiguityScoreMargin
		for _, c := range pools[dto.FieldPaymentAmount] {
			if sameCandidate(c, winner.Candidate) {
				continue
			}
			if c.ValueNormalized == winner.ValueNormalized {
				continue
			}
			if winner.Score-c.Score <= margin {
				reasons = append(reasons, "amount_candidates_close")
				break
			}
		}
	}

	payer, hasPayer := fields[dto.FieldPayerFacilityName]
	prescribing, hasPrescribing := fields[dto.FieldPrescribingFacilityName]
	if hasPayer && hasPrescribing && sharesSourceLine(payer.Candidate, prescribing.Candidate) {
		reasons = append(reasons, "facility_role_conflict")
	}
	return reasons
}

// blendConfidence combines per-field evidence with document-level
// signals. Each resolved field contributes a blend of its OCR
// confidence and its normalized rule score; missing required fields
// contribute zero.
func (r *Resolver) blendConfidence(fields map[string]*dto.FieldResult, required []string, match dto.TemplateMatch, ocrQuality, validity float64) float64 {
	if len(required) == 0 {
		return 0
	}
	fieldSum := 0.0
	for _, field := range required {
		fr, ok := fields[field]
		if !ok {
			continue
		}
		ceiling := fieldScoreCeilings[field]
		if ceiling <= 0 {
			ceiling = 8.0
		}
		scoreUnit := utils.ScoreToUnit(fr.Score, 0, ceiling)
		fieldSum += fieldOCRBlendWeight*fr.OCRConfidence + (1-fieldOCRBlendWeight)*scoreUnit
	}
	fieldTerm := fieldSum / float64(len(required))

	templateTerm := match.Score
	if !match.Matched {
		// No template is neutral, not negative: an unseen layout must
		// still be able to auto-accept on strong generic evidence.
		templateTerm = 0.6
	}

	confidence := fieldTermWeight*fieldTerm +
		ocrQualityWeight*ocrQuality +
		templateTermWeight*templateTerm +
		validityTermWeight*validity
	return utils.Clamp01(confidence)
}

// statusFor applies the decision thresholds. Zero candidates across
// all fields or OCR quality under the floor rejects outright, before
// the confidence comparison; both boundaries are inclusive.
func (r *Resolver) statusFor(confidence float64, missing []string, docType dto.DocumentType, ocrQuality float64, noCandidates bool) dto.DecisionStatus {
	t := r.rules.Thresholds
	switch {
	case noCandidates, ocrQuality < t.OCRQualityFloor, confidence <= t.Reject:
		return dto.StatusRejected
	case len(missing) > 0, docType == dto.DocTypeUnknown:
		return dto.StatusReviewRequired
	case confidence >= t.Review:
		return dto.StatusAutoAccept
	default:
		return dto.StatusReviewRequired
	}
}

func firstIndex(c dto.Candidate) int {
	if len(c.SourceLineIndices) == 0 {
		return int(^uint(0) >> 1)
	}
	return c.SourceLineIndices[0]
}

func sameCandidate(a, b dto.Candidate) bool {
	return a.Field == b.Field && a.ValueRaw == b.ValueRaw &&
		fmt.Sprint(a.ValueNormalized) == fmt.Sprint(b.ValueNormalized) &&
		len(a.SourceLineIndices) == len(b.SourceLineIndices) &&
		firstIndex(a) == firstIndex(b)
}

func sharesSourceLine(a, b dto.Candidate) bool {
	for _, i := range a.SourceLineIndices {
		for _, j := range b.SourceLineIndices {
			if i == j {
				return true
			}
		}
	}
	return false
}

func hasReason(reasons []string, token string) bool {
	for _, r := range reasons {
		if r == token {
			return true
		}
	}
	return false
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
