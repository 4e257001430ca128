package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/store"
)

func learnerFixture() (*TemplateLearner, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewTemplateLearner(config.DefaultRules().Template, st), st
}

func extractionResultForLearning() *dto.ExtractionResult {
	return &dto.ExtractionResult{
		DocumentID:   "doc-1",
		HouseholdID:  "hh-1",
		DocumentType: dto.DocTypePharmacy,
		OCRLines:     pharmacyReceiptLines(),
	}
}

func TestLearnCreatesNewTemplateFamily(t *testing.T) {
	learner, st := learnerFixture()

	corrections := map[string]dto.Correction{
		dto.FieldPaymentAmount: {Value: "1540", BBox: dto.BBox{0.06, 0.64, 0.46, 0.69}},
	}
	tpl, err := learner.Learn(context.Background(), "hh-1", extractionResultForLearning(), corrections)
	assert.NoError(t, err)
	assert.NotNil(t, tpl)

	assert.Equal(t, "household", tpl.Scope)
	assert.Equal(t, "hh-1", tpl.HouseholdID)
	assert.Equal(t, dto.DocTypePharmacy, tpl.DocumentType)
	assert.Contains(t, tpl.TemplateFamilyID, "pharmacy_family_")
	assert.NotEmpty(t, tpl.Anchors)
	assert.Equal(t, 1, tpl.SampleCount)
	// A corrected document counts as a miss for the success ratio.
	assert.Equal(t, 0.0, tpl.SuccessRate)

	spec, ok := tpl.FieldSpecs[dto.FieldPaymentAmount]
	assert.True(t, ok)
	assert.Equal(t, dto.BBox{0.06, 0.64, 0.46, 0.69}, spec.TargetBBox)
	assert.Contains(t, spec.SelectionRules, "prefer_keyword:円")

	stored, err := st.GetTemplate(context.Background(), "hh-1", tpl.TemplateFamilyID)
	assert.NoError(t, err)
	assert.Equal(t, tpl.TemplateFamilyID, stored.TemplateFamilyID)
}

func TestLearnUpdatesMatchedFamilyWithBoundedExpansion(t *testing.T) {
	learner, st := learnerFixture()
	assert.NoError(t, st.PutTemplate(context.Background(), storedTemplate()))

	result := extractionResultForLearning()
	result.TemplateMatch = dto.TemplateMatch{
		Matched:          true,
		TemplateFamilyID: "pharmacy_family_20260101T000000",
	}

	// Correction bbox far outside the stored target: the union must be
	// clamped to the expand limit per edge.
	corrections := map[string]dto.Correction{
		dto.FieldPaymentAmount: {Value: "1540", BBox: dto.BBox{0.01, 0.05, 0.99, 0.98}},
	}
	tpl, err := learner.Learn(context.Background(), "hh-1", result, corrections)
	assert.NoError(t, err)

	// Stored target was {0.05, 0.6, 0.6, 0.72}: the left edge grows
	// freely (0.04 < limit), the other three clamp at the limit.
	spec := tpl.FieldSpecs[dto.FieldPaymentAmount]
	assert.InDelta(t, 0.01, spec.TargetBBox[0], 1e-9)
	assert.InDelta(t, 0.45, spec.TargetBBox[1], 1e-9)
	assert.InDelta(t, 0.75, spec.TargetBBox[2], 1e-9)
	assert.InDelta(t, 0.87, spec.TargetBBox[3], 1e-9)

	assert.Equal(t, 5, tpl.SampleCount)
}

func TestLearnRequiresHousehold(t *testing.T) {
	learner, _ := learnerFixture()

	_, err := learner.Learn(context.Background(), "", extractionResultForLearning(), nil)
	assert.Error(t, err)
}

func TestRecordSuccessRaisesRatio(t *testing.T) {
	learner, st := learnerFixture()

	corrections := map[string]dto.Correction{
		dto.FieldPaymentAmount: {Value: "1540", BBox: dto.BBox{0.06, 0.64, 0.46, 0.69}},
	}
	tpl, err := learner.Learn(context.Background(), "hh-1", extractionResultForLearning(), corrections)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, tpl.SuccessRate)

	assert.NoError(t, learner.RecordSuccess(context.Background(), "hh-1", tpl.TemplateFamilyID))

	stored, err := st.GetTemplate(context.Background(), "hh-1", tpl.TemplateFamilyID)
	assert.NoError(t, err)
	assert.Equal(t, 2, stored.SampleCount)
	assert.InDelta(t, 0.5, stored.SuccessRate, 1e-9)
}

func TestLearnIsolatedPerHousehold(t *testing.T) {
	learner, st := learnerFixture()

	corrections := map[string]dto.Correction{
		dto.FieldPaymentAmount: {Value: "1540", BBox: dto.BBox{0.06, 0.64, 0.46, 0.69}},
	}
	_, err := learner.Learn(context.Background(), "hh-1", extractionResultForLearning(), corrections)
	assert.NoError(t, err)

	other, err := st.GetTemplates(context.Background(), "hh-2", dto.DocTypePharmacy)
	assert.NoError(t, err)
	assert.Empty(t, other)
}
