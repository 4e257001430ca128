package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/store"
)

func storedTemplate() dto.Template {
	return dto.Template{
		TemplateFamilyID: "pharmacy_family_20260101T000000",
		Scope:            "household",
		HouseholdID:      "hh-1",
		DocumentType:     dto.DocTypePharmacy,
		Anchors: []dto.TemplateAnchor{
			{TextPattern: "領収書", BBox: dto.BBox{0.35, 0.02, 0.65, 0.08}},
			{TextPattern: "〇〇調剤薬局", BBox: dto.BBox{0.05, 0.08, 0.5, 0.14}},
			{TextPattern: "領収金額", BBox: dto.BBox{0.05, 0.6, 0.5, 0.7}},
		},
		FieldSpecs: map[string]dto.FieldSpec{
			dto.FieldPaymentAmount: {
				TargetBBox:     dto.BBox{0.05, 0.6, 0.6, 0.72},
				SelectionRules: []string{"prefer_keyword:円", "prefer_label:領収"},
			},
		},
		SampleCount: 4,
		SuccessRate: 0.75,
	}
}

func matcherWithTemplate(t *testing.T, templates ...dto.Template) *TemplateMatcher {
	t.Helper()
	st := store.NewMemoryStore()
	for _, tpl := range templates {
		assert.NoError(t, st.PutTemplate(context.Background(), tpl))
	}
	return NewTemplateMatcher(config.DefaultRules().Template, st)
}

func TestTemplateMatchAboveThreshold(t *testing.T) {
	matcher := matcherWithTemplate(t, storedTemplate())

	match, tpl, err := matcher.Match(context.Background(), "hh-1", dto.DocTypePharmacy, pharmacyReceiptLines(), 0.65)
	assert.NoError(t, err)
	assert.True(t, match.Matched)
	assert.NotNil(t, tpl)
	assert.Equal(t, "pharmacy_family_20260101T000000", match.TemplateFamilyID)
	assert.GreaterOrEqual(t, match.Score, 0.65)
}

func TestTemplateMatchRequiresAnchorPosition(t *testing.T) {
	// Same anchor texts but stored at the wrong positions: text alone
	// must not carry the match.
	tpl := storedTemplate()
	for i := range tpl.Anchors {
		tpl.Anchors[i].BBox = dto.BBox{0.7, 0.85, 0.95, 0.95}
	}
	matcher := matcherWithTemplate(t, tpl)

	match, matched, err := matcher.Match(context.Background(), "hh-1", dto.DocTypePharmacy, pharmacyReceiptLines(), 0.65)
	assert.NoError(t, err)
	assert.False(t, match.Matched)
	assert.Nil(t, matched)
}

// fixedStore returns a preset template list, bypassing write-time
// validation so corrupt payloads can be simulated.
type fixedStore struct {
	store.TemplateStore
	templates []dto.Template
}

func (f *fixedStore) GetTemplates(context.Context, string, dto.DocumentType) ([]dto.Template, error) {
	return f.templates, nil
}

func TestTemplateMatchSkipsCorruptTemplate(t *testing.T) {
	corrupt := storedTemplate()
	corrupt.TemplateFamilyID = "pharmacy_family_corrupt"
	corrupt.Anchors = nil

	st := &fixedStore{templates: []dto.Template{corrupt, storedTemplate()}}
	matcher := NewTemplateMatcher(config.DefaultRules().Template, st)

	match, _, err := matcher.Match(context.Background(), "hh-1", dto.DocTypePharmacy, pharmacyReceiptLines(), 0.65)
	assert.NoError(t, err)
	assert.True(t, match.Matched)
	assert.Equal(t, "pharmacy_family_20260101T000000", match.TemplateFamilyID)
	assert.Contains(t, match.Reasons, "template_skipped_corrupt:pharmacy_family_corrupt")
}

func TestTemplateBoostReRanksButNeverOverrides(t *testing.T) {
	tpl := storedTemplate()
	matcher := NewTemplateMatcher(config.DefaultRules().Template, store.NewMemoryStore())

	inTarget := candidate(dto.FieldPaymentAmount, 1540, 4.0, 10, 0.95)
	inTarget.BBox = dto.BBox{0.06, 0.64, 0.46, 0.69}
	inTarget.ValueRaw = "領収金額 ¥1,540円"
	outside := candidate(dto.FieldPaymentAmount, 980, 4.2, 4, 0.9)
	outside.BBox = dto.BBox{0.06, 0.3, 0.4, 0.34}

	pools := map[string][]dto.Candidate{
		dto.FieldPaymentAmount: {outside, inTarget},
	}
	boosted := matcher.Boost(&tpl, pools)

	var boostedInTarget, boostedOutside dto.Candidate
	for _, c := range boosted[dto.FieldPaymentAmount] {
		if c.ValueNormalized == 1540 {
			boostedInTarget = c
		} else {
			boostedOutside = c
		}
	}

	assert.Equal(t, "template", boostedInTarget.Source)
	assert.Contains(t, boostedInTarget.Reasons, "template_target_bbox_match")
	assert.Greater(t, boostedInTarget.Score, boostedOutside.Score)
	// Bounded lift: bbox bonus + two rule bonuses, nothing more.
	rules := config.DefaultRules().Template
	assert.InDelta(t, 4.0+rules.Bonus+2*rules.RuleKeywordBonus, boostedInTarget.Score, 1e-9)
	assert.Equal(t, 4.2, boostedOutside.Score)
}

func TestTemplateBoostLeavesOtherFieldsAlone(t *testing.T) {
	tpl := storedTemplate()
	matcher := NewTemplateMatcher(config.DefaultRules().Template, store.NewMemoryStore())

	pools := map[string][]dto.Candidate{
		dto.FieldPaymentDate: {candidate(dto.FieldPaymentDate, "2026-02-22", 5.0, 5, 0.95)},
	}
	boosted := matcher.Boost(&tpl, pools)
	assert.Equal(t, pools[dto.FieldPaymentDate], boosted[dto.FieldPaymentDate])
}
