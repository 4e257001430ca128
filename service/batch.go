package service

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
)

// BatchDocument pairs a document with its raw OCR payload for batch
// processing.
type BatchDocument struct {
	DocumentID  string
	HouseholdID string
	Raw         *dto.RawResult
}

// BatchProcessor runs documents concurrently and then applies
// cross-document checks that single-document processing cannot do,
// currently year consistency: a household's receipt batch almost
// always belongs to one tax year, so a stray year is worth a review.
type BatchProcessor struct {
	pipeline *Pipeline
	rules    config.BatchRules
}

func NewBatchProcessor(pipeline *Pipeline, rules config.BatchRules) *BatchProcessor {
	return &BatchProcessor{pipeline: pipeline, rules: rules}
}

// Process runs the batch. Per-document results keep their input order;
// a malformed document becomes a REJECTED result rather than failing
// the batch.
func (b *BatchProcessor) Process(ctx context.Context, docs []BatchDocument) ([]*dto.ExtractionResult, error) {
	results := make([]*dto.ExtractionResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	limit := b.rules.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, doc := range docs {
		g.Go(func() error {
			result, err := b.pipeline.Process(gctx, doc.DocumentID, doc.Raw, doc.HouseholdID)
			if err != nil {
				result = &dto.ExtractionResult{
					DocumentID:   doc.DocumentID,
					HouseholdID:  doc.HouseholdID,
					DocumentType: dto.DocTypeUnknown,
					Fields:       map[string]*dto.FieldResult{},
					Decision: dto.Decision{
						Status:  dto.StatusRejected,
						Reasons: []string{"malformed_ocr_result"},
					},
				}
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if b.rules.YearConsistency {
		b.applyYearConsistency(results)
	}
	return results, nil
}

// applyYearConsistency finds the dominant payment year across the
// batch and demotes auto-accepted outliers to review. It only ever
// tightens decisions; a REVIEW_REQUIRED document is never promoted.
func (b *BatchProcessor) applyYearConsistency(results []*dto.ExtractionResult) {
	type sample struct {
		result *dto.ExtractionResult
		year   int
		weight float64
	}

	var samples []sample
	weights := make(map[int]float64)
	for _, result := range results {
		year, ok := paymentYear(result)
		if !ok {
			continue
		}
		weight := 1.0
		if b.rules.WeightByConfidence {
			weight = result.Decision.Confidence
		}
		samples = append(samples, sample{result: result, year: year, weight: weight})
		weights[year] += weight
	}

	dominantYear := 0
	if b.rules.TargetTaxYear > 0 {
		dominantYear = b.rules.TargetTaxYear
	} else {
		if len(samples) < b.rules.MinSamples {
			return
		}
		total, best, bestYear := 0.0, 0.0, 0
		for year, w := range weights {
			total += w
			if w > best {
				best, bestYear = w, year
			}
		}
		if total <= 0 || best/total < b.rules.DominantRatioThreshold {
			return
		}
		dominantYear = bestYear
	}

	for _, s := range samples {
		if s.year == dominantYear {
			continue
		}
		reason := "year_inconsistent_with_batch:" + strconv.Itoa(s.year)
		s.result.Decision.Reasons = append(s.result.Decision.Reasons, reason)
		if s.result.Decision.Status == dto.StatusAutoAccept {
			s.result.Decision.Status = dto.StatusReviewRequired
		}
	}
}

func paymentYear(result *dto.ExtractionResult) (int, bool) {
	if result == nil {
		return 0, false
	}
	field, ok := result.Fields[dto.FieldPaymentDate]
	if !ok {
		return 0, false
	}
	iso, ok := field.ValueNormalized.(string)
	if !ok || len(iso) < 4 || strings.Count(iso, "-") != 2 {
		return 0, false
	}
	year, err := strconv.Atoi(iso[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}
