package service

import (
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// AmountExtractor finds yen amounts and scores them by label context.
// Insurance-point and tax figures are suppressed; unlabeled small
// line-item amounts are kept but heavily discounted so the payment
// total still wins on a sparse receipt.
type AmountExtractor struct {
	rules config.AmountRules
}

func NewAmountExtractor(rules config.AmountRules) *AmountExtractor {
	return &AmountExtractor{rules: rules}
}

func (e *AmountExtractor) Extract(lines []dto.OCRLine) []dto.Candidate {
	zeroExempt := false
	for _, line := range lines {
		if utils.ContainsAny(line.Text, e.rules.ZeroExemptMarkers) {
			zeroExempt = true
			break
		}
	}

	var candidates []dto.Candidate
	for _, line := range lines {
		text := utils.NormalizeText(line.Text)
		matches := utils.FindAmounts(text)
		if len(matches) == 0 {
			continue
		}

		hasPrimary := utils.ContainsAny(text, e.rules.PrimaryLabels)
		hasSecondary := utils.ContainsAny(text, e.rules.SecondaryLabels)
		hasExclude := utils.ContainsAny(text, e.rules.ExcludeContext)
		hasDateContext := utils.ContainsAny(text, e.rules.DateContext)
		hasContact := utils.ContainsAny(strings.ToUpper(text), e.rules.ContactContext)
		nearPrimary := e.hasNearbyKeyword(line, lines, e.rules.PrimaryLabels)
		nearSecondary := e.hasNearbyKeyword(line, lines, e.rules.SecondaryLabels)
		nearExclude := e.hasNearbyKeyword(line, lines, e.rules.ExcludeContext)

		for _, m := range matches {
			score := 1.2
			var reasons []string

			switch {
			case hasPrimary:
				score += e.rules.PrimaryLabelBonus
				reasons = append(reasons, "has_primary_amount_label")
			case hasSecondary:
				score += e.rules.SecondaryLabelBonus
				reasons = append(reasons, "has_secondary_amount_label")
			}
			switch {
			case nearPrimary:
				score += e.rules.NearPrimaryBonus
				reasons = append(reasons, "near_primary_amount_label")
			case nearSecondary:
				score += e.rules.NearSecondaryBonus
				reasons = append(reasons, "near_secondary_amount_label")
			}
			if m.HasCurrency {
				score += e.rules.CurrencyBonus
				reasons = append(reasons, "has_currency_marker")
			}
			if hasExclude || nearExclude {
				score -= e.rules.ExcludePenalty
				reasons = append(reasons, "excluded_points_tax_context")
			}
			if hasDateContext {
				score -= e.rules.DateContextPenalty
				reasons = append(reasons, "date_context_penalty")
			}
			if hasContact {
				score -= e.rules.ContactPenalty
				reasons = append(reasons, "contact_context_penalty")
			}
			if !m.HasCurrency && !hasPrimary && !hasSecondary && !nearPrimary && !nearSecondary {
				score -= e.rules.UnlabeledPenalty
				reasons = append(reasons, "no_currency_or_amount_label_penalty")
			}
			if line.BBox.CenterY() >= 0.55 {
				score += e.rules.BottomRegionBonus
				reasons = append(reasons, "bottom_region_bonus")
			}

			switch {
			case m.Value == 0 && zeroExempt:
				reasons = append(reasons, "zero_amount_exempted")
			case m.Value == 0:
				score -= e.rules.ZeroAmountPenalty
				reasons = append(reasons, "zero_amount_penalty")
			case m.Value > e.rules.OutlierValue:
				score -= e.rules.OutlierPenalty
				reasons = append(reasons, "outlier_penalty")
			}
			if m.Value >= 1900 && m.Value <= 2100 && !m.HasCurrency {
				score -= e.rules.LikelyYearPenalty
				reasons = append(reasons, "likely_year_penalty")
			}
			if m.Value > 0 && m.Value < 100 && !m.HasCurrency && !hasPrimary {
				score -= e.rules.SmallAmountPenalty
				reasons = append(reasons, "small_plain_number_penalty")
			}
			if len(reasons) == 0 {
				reasons = append(reasons, "amount_pattern_match")
			}

			candidates = append(candidates, dto.Candidate{
				Field:             dto.FieldPaymentAmount,
				ValueRaw:          m.Raw,
				ValueNormalized:   m.Value,
				SourceLineIndices: []int{line.LineIndex},
				BBox:              line.BBox,
				Score:             score,
				OCRConfidence:     line.Confidence,
				Reasons:           reasons,
				Source:            "generic",
			})
		}
	}
	return candidates
}

func (e *AmountExtractor) hasNearbyKeyword(line dto.OCRLine, lines []dto.OCRLine, keywords []string) bool {
	for _, other := range lines {
		if other.LineIndex == line.LineIndex {
			continue
		}
		if !utils.ContainsAny(utils.NormalizeText(other.Text), keywords) {
			continue
		}
		if utils.IsNearLine(line, other, 0.06, 0.8) {
			return true
		}
	}
	return false
}
