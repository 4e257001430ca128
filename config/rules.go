package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// Rules carries every keyword table, rule weight and threshold the
// pipeline uses. A Rules value is immutable once constructed;
// re-loading config means building new extractor instances, never
// mutating shared tables in place.
type Rules struct {
	Thresholds ThresholdRules  `yaml:"thresholds"`
	Classifier ClassifierRules `yaml:"classifier"`
	Facility   FacilityRules   `yaml:"facility"`
	Date       DateRules       `yaml:"date"`
	Amount     AmountRules     `yaml:"amount"`
	Template   TemplateRules   `yaml:"template"`
	Family     FamilyRules     `yaml:"family"`
	Batch      BatchRules      `yaml:"batch"`
	Eras       []utils.Era     `yaml:"eras"`
}

type ThresholdRules struct {
	Review          float64 `yaml:"review_threshold"`
	Reject          float64 `yaml:"reject_threshold"`
	Candidate       float64 `yaml:"candidate_threshold"`
	HouseholdMatch  float64 `yaml:"household_match_threshold"`
	OCRQualityFloor float64 `yaml:"ocr_quality_floor"`
}

type ClassifierRules struct {
	PharmacyKeywords []string `yaml:"pharmacy_keywords"`
	ClinicKeywords   []string `yaml:"clinic_keywords"`
	PharmacyWeight   float64  `yaml:"pharmacy_weight"`
	ClinicWeight     float64  `yaml:"clinic_weight"`
	TopBandRatio     float64  `yaml:"top_band_ratio"`
	TopBandBonus     float64  `yaml:"top_band_bonus"`
	MinMargin        float64  `yaml:"min_margin"`
	QualityFloor     float64  `yaml:"quality_floor"`
}

type FacilityRules struct {
	PharmacyKeywords   []string `yaml:"pharmacy_keywords"`
	ClinicKeywords     []string `yaml:"clinic_keywords"`
	PrescribingContext []string `yaml:"prescribing_context"`
	ContactAnchors     []string `yaml:"contact_anchors"`
	NonNameHints       []string `yaml:"non_name_hints"`

	PayerPharmacyKeywordBonus  float64 `yaml:"payer_pharmacy_keyword_bonus"`
	PayerTopRegionBonus        float64 `yaml:"payer_top_region_bonus"`
	PayerContactAnchorBonus    float64 `yaml:"payer_contact_anchor_bonus"`
	PayerPrescribingPenalty    float64 `yaml:"payer_prescribing_penalty"`
	PayerClinicKeywordPenalty  float64 `yaml:"payer_clinic_keyword_penalty"`
	PrescribingAnchorBonus     float64 `yaml:"prescribing_anchor_bonus"`
	PrescribingClinicBonus     float64 `yaml:"prescribing_clinic_bonus"`
	PrescribingPharmacyPenalty float64 `yaml:"prescribing_pharmacy_penalty"`
	ClinicTopRegionBonus       float64 `yaml:"clinic_top_region_bonus"`
	ClinicKeywordBonus         float64 `yaml:"clinic_keyword_bonus"`
	ClinicContactAnchorBonus   float64 `yaml:"clinic_contact_anchor_bonus"`
	ClinicPrescribingPenalty   float64 `yaml:"clinic_prescribing_penalty"`
}

type DateRules struct {
	PriorityLabels   []string `yaml:"priority_labels"`
	DepriorityLabels []string `yaml:"depriority_labels"`

	LabelBonus         float64 `yaml:"label_bonus"`
	NearLabelBonus     float64 `yaml:"near_label_bonus"`
	DeprioPenalty      float64 `yaml:"deprio_penalty"`
	TopRegionBonus     float64 `yaml:"top_region_bonus"`
	PartialPenalty     float64 `yaml:"partial_penalty"`
	FuturePenalty      float64 `yaml:"future_penalty"`
	FutureGraceDays    int     `yaml:"future_grace_days"`
	InferredEraPenalty float64 `yaml:"inferred_era_penalty"`
}

type AmountRules struct {
	PrimaryLabels     []string `yaml:"primary_labels"`
	SecondaryLabels   []string `yaml:"secondary_labels"`
	ExcludeContext    []string `yaml:"exclude_context"`
	DateContext       []string `yaml:"date_context"`
	ContactContext    []string `yaml:"contact_context"`
	ZeroExemptMarkers []string `yaml:"zero_exempt_markers"`

	PrimaryLabelBonus    float64 `yaml:"primary_label_bonus"`
	SecondaryLabelBonus  float64 `yaml:"secondary_label_bonus"`
	NearPrimaryBonus     float64 `yaml:"near_primary_bonus"`
	NearSecondaryBonus   float64 `yaml:"near_secondary_bonus"`
	CurrencyBonus        float64 `yaml:"currency_bonus"`
	ExcludePenalty       float64 `yaml:"exclude_penalty"`
	DateContextPenalty   float64 `yaml:"date_context_penalty"`
	ContactPenalty       float64 `yaml:"contact_penalty"`
	UnlabeledPenalty     float64 `yaml:"unlabeled_penalty"`
	ZeroAmountPenalty    float64 `yaml:"zero_amount_penalty"`
	LikelyYearPenalty    float64 `yaml:"likely_year_penalty"`
	SmallAmountPenalty   float64 `yaml:"small_amount_penalty"`
	OutlierPenalty       float64 `yaml:"outlier_penalty"`
	OutlierValue         int     `yaml:"outlier_value"`
	BottomRegionBonus    float64 `yaml:"bottom_region_bonus"`
	AmbiguityScoreMargin float64 `yaml:"ambiguity_score_margin"`
}

type TemplateRules struct {
	TextWeight     float64 `yaml:"text_weight"`
	PositionWeight float64 `yaml:"position_weight"`
	AnchorMinIoU   float64 `yaml:"anchor_min_iou"`
	// Bonus bounds the template re-rank: a template can lift a generic
	// candidate by at most this much, never force a selection outright.
	Bonus            float64 `yaml:"bonus"`
	RuleKeywordBonus float64 `yaml:"rule_keyword_bonus"`
	BBoxExpandLimit  float64 `yaml:"bbox_expand_limit"`
}

type BatchRules struct {
	// YearConsistency flags documents whose payment year disagrees with
	// the dominant year across the batch.
	YearConsistency        bool    `yaml:"year_consistency"`
	MinSamples             int     `yaml:"min_samples"`
	DominantRatioThreshold float64 `yaml:"dominant_ratio_threshold"`
	WeightByConfidence     bool    `yaml:"weight_by_confidence"`
	// TargetTaxYear, when non-zero, flags any document outside it.
	TargetTaxYear int `yaml:"target_tax_year"`
	Concurrency   int `yaml:"concurrency"`
}

type FamilyMember struct {
	CanonicalName string   `yaml:"canonical_name"`
	Aliases       []string `yaml:"aliases"`
}

type FamilyRules struct {
	Members        []FamilyMember `yaml:"members"`
	NameLabels     []string       `yaml:"name_labels"`
	FuzzyThreshold float64        `yaml:"fuzzy_threshold"`
}

// DefaultRules returns the hand-tuned defaults. Every weight here is
// overridable through the YAML rules file.
func DefaultRules() *Rules {
	return &Rules{
		Thresholds: ThresholdRules{
			Review:          0.72,
			Reject:          0.35,
			Candidate:       2.5,
			HouseholdMatch:  0.65,
			OCRQualityFloor: 0.25,
		},
		Classifier: ClassifierRules{
			PharmacyKeywords: []string{"薬局", "調剤", "処方箋", "保険薬局", "ファーマシー"},
			ClinicKeywords:   []string{"病院", "医院", "クリニック", "診療所"},
			PharmacyWeight:   1.6,
			ClinicWeight:     1.2,
			TopBandRatio:     0.25,
			TopBandBonus:     0.5,
			MinMargin:        1.0,
			QualityFloor:     0.45,
		},
		Facility: FacilityRules{
			PharmacyKeywords:   []string{"薬局", "ファーマシー", "調剤", "保険薬局"},
			ClinicKeywords:     []string{"病院", "医院", "クリニック", "診療所"},
			PrescribingContext: []string{"処方箋", "保険医療機関", "交付", "医師"},
			ContactAnchors:     []string{"〒", "TEL", "領収書", "発行"},
			NonNameHints: []string{
				"領収日", "発行日", "調剤日", "受診日", "診療日",
				"請求額", "金額", "請求書", "合計", "お支払",
				"税込", "税率", "点数", "負担割合", "保険種類",
				"氏名", "患者", "生年月日", "保険者番号", "明細書",
				"領収書", "領収証", "調剤明細書",
			},
			PayerPharmacyKeywordBonus:  3.0,
			PayerTopRegionBonus:        2.0,
			PayerContactAnchorBonus:    2.0,
			PayerPrescribingPenalty:    4.0,
			PayerClinicKeywordPenalty:  2.0,
			PrescribingAnchorBonus:     3.0,
			PrescribingClinicBonus:     2.0,
			PrescribingPharmacyPenalty: 3.0,
			ClinicTopRegionBonus:       3.0,
			ClinicKeywordBonus:         2.0,
			ClinicContactAnchorBonus:   1.0,
			ClinicPrescribingPenalty:   2.0,
		},
		Date: DateRules{
			PriorityLabels:     []string{"領収日", "発行日", "調剤日", "お会計日"},
			DepriorityLabels:   []string{"処方箋交付日", "受診日"},
			LabelBonus:         3.0,
			NearLabelBonus:     2.2,
			DeprioPenalty:      0.7,
			TopRegionBonus:     0.8,
			PartialPenalty:     2.0,
			FuturePenalty:      2.0,
			FutureGraceDays:    0,
			InferredEraPenalty: 0.4,
		},
		Amount: AmountRules{
			PrimaryLabels:        []string{"領収", "請求", "お支払", "今回"},
			SecondaryLabels:      []string{"合計", "計", "入金額", "金額"},
			ExcludeContext:       []string{"点", "総点数", "保険点数", "消費税", "税率", "%", "％"},
			DateContext:          []string{"領収日", "発行日", "調剤日", "受診日", "診療日"},
			ContactContext:       []string{"TEL", "FAX", "電話", "〒"},
			ZeroExemptMarkers:    []string{"無料", "公費", "負担なし"},
			PrimaryLabelBonus:    4.0,
			SecondaryLabelBonus:  2.4,
			NearPrimaryBonus:     2.8,
			NearSecondaryBonus:   1.4,
			CurrencyBonus:        1.8,
			ExcludePenalty:       3.0,
			DateContextPenalty:   2.0,
			ContactPenalty:       4.5,
			UnlabeledPenalty:     1.6,
			ZeroAmountPenalty:    1.0,
			LikelyYearPenalty:    2.5,
			SmallAmountPenalty:   1.2,
			OutlierPenalty:       2.0,
			OutlierValue:         10_000_000,
			BottomRegionBonus:    0.6,
			AmbiguityScoreMargin: 0.5,
		},
		Template: TemplateRules{
			TextWeight:       0.7,
			PositionWeight:   0.3,
			AnchorMinIoU:     0.1,
			Bonus:            2.5,
			RuleKeywordBonus: 1.8,
			BBoxExpandLimit:  0.15,
		},
		Family: FamilyRules{
			NameLabels:     []string{"患者氏名", "患者名", "氏名", "受診者氏名", "受診者", "お名前"},
			FuzzyThreshold: 0.85,
		},
		Batch: BatchRules{
			YearConsistency:        true,
			MinSamples:             5,
			DominantRatioThreshold: 0.65,
			WeightByConfidence:     true,
			Concurrency:            4,
		},
		Eras: utils.DefaultEras(),
	}
}

// LoadRules reads the YAML rules file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		if err := yaml.Unmarshal(data, rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules file: %w", err)
		}
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate enforces threshold sanity. Violations are fatal at startup,
// never handled per-document.
func (r *Rules) Validate() error {
	t := r.Thresholds
	for name, v := range map[string]float64{
		"review_threshold":          t.Review,
		"reject_threshold":          t.Reject,
		"household_match_threshold": t.HouseholdMatch,
		"ocr_quality_floor":         t.OCRQualityFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v is outside [0,1]", dto.ErrConfiguration, name, v)
		}
	}
	if t.Reject >= t.Review {
		return fmt.Errorf("%w: reject_threshold %v must be below review_threshold %v",
			dto.ErrConfiguration, t.Reject, t.Review)
	}
	if len(r.Eras) == 0 {
		return fmt.Errorf("%w: era table must not be empty", dto.ErrConfiguration)
	}
	return nil
}
