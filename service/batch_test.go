package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/store"
)

func rawResultWithDate(date string) *dto.RawResult {
	raw := pharmacyRawResult()
	for i := range raw.Lines {
		if raw.Lines[i].Text == "領収日 2026/02/22" {
			raw.Lines[i].Text = "領収日 " + date
		}
	}
	return raw
}

func newTestBatchProcessor(rules *config.Rules) *BatchProcessor {
	pipeline := NewPipeline(rules, store.NewMemoryStore(), fixedNow)
	return NewBatchProcessor(pipeline, rules.Batch)
}

func TestBatchPreservesOrderAndProcessesAll(t *testing.T) {
	processor := newTestBatchProcessor(config.DefaultRules())

	var docs []BatchDocument
	for i := 0; i < 4; i++ {
		docs = append(docs, BatchDocument{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Raw:        pharmacyRawResult(),
		})
	}
	results, err := processor.Process(context.Background(), docs)
	assert.NoError(t, err)
	assert.Len(t, results, 4)
	for i, result := range results {
		assert.Equal(t, fmt.Sprintf("doc-%d", i), result.DocumentID)
		assert.Equal(t, dto.StatusAutoAccept, result.Decision.Status)
	}
}

func TestBatchYearOutlierDemotedToReview(t *testing.T) {
	rules := config.DefaultRules()
	rules.Batch.MinSamples = 3
	processor := newTestBatchProcessor(rules)

	docs := []BatchDocument{
		{DocumentID: "a", Raw: rawResultWithDate("2026/01/15")},
		{DocumentID: "b", Raw: rawResultWithDate("2026/02/22")},
		{DocumentID: "c", Raw: rawResultWithDate("2026/02/25")},
		{DocumentID: "d", Raw: rawResultWithDate("2025/03/10")},
	}
	results, err := processor.Process(context.Background(), docs)
	assert.NoError(t, err)

	outlier := results[3]
	assert.Equal(t, dto.StatusReviewRequired, outlier.Decision.Status)
	assert.Contains(t, outlier.Decision.Reasons, "year_inconsistent_with_batch:2025")

	for _, result := range results[:3] {
		assert.Equal(t, dto.StatusAutoAccept, result.Decision.Status)
	}
}

func TestBatchTooFewSamplesLeavesDecisionsAlone(t *testing.T) {
	rules := config.DefaultRules()
	rules.Batch.MinSamples = 5
	processor := newTestBatchProcessor(rules)

	docs := []BatchDocument{
		{DocumentID: "a", Raw: rawResultWithDate("2026/02/22")},
		{DocumentID: "b", Raw: rawResultWithDate("2025/03/10")},
	}
	results, err := processor.Process(context.Background(), docs)
	assert.NoError(t, err)
	for _, result := range results {
		assert.NotContains(t, result.Decision.Reasons, "year_inconsistent_with_batch:2025")
	}
}

func TestBatchTargetTaxYearOverridesDominance(t *testing.T) {
	rules := config.DefaultRules()
	rules.Batch.TargetTaxYear = 2026
	processor := newTestBatchProcessor(rules)

	docs := []BatchDocument{
		{DocumentID: "a", Raw: rawResultWithDate("2025/03/10")},
	}
	results, err := processor.Process(context.Background(), docs)
	assert.NoError(t, err)
	assert.Contains(t, results[0].Decision.Reasons, "year_inconsistent_with_batch:2025")
}

func TestBatchMalformedDocumentBecomesRejectedResult(t *testing.T) {
	processor := newTestBatchProcessor(config.DefaultRules())

	docs := []BatchDocument{
		{DocumentID: "ok", Raw: pharmacyRawResult()},
		{DocumentID: "broken", Raw: nil},
	}
	results, err := processor.Process(context.Background(), docs)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, dto.StatusAutoAccept, results[0].Decision.Status)
	assert.Equal(t, dto.StatusRejected, results[1].Decision.Status)
	assert.Contains(t, results[1].Decision.Reasons, "malformed_ocr_result")
}
