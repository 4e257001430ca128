package service

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/store"
)

const pipelineVersion = "0.1.0"

// auditPoolLimit caps the per-field candidate pool kept in the result
// for audit; the full pool can run long on dense receipts.
const auditPoolLimit = 5

// Pipeline wires normalization, classification, template matching,
// extraction and resolution into the single Process entry point.
type Pipeline struct {
	rules      *config.Rules
	normalizer *Normalizer
	classifier *Classifier
	facility   *FacilityExtractor
	date       *DateExtractor
	amount     *AmountExtractor
	family     *FamilyNameExtractor
	matcher    *TemplateMatcher
	resolver   *Resolver
	now        func() time.Time
}

func NewPipeline(rules *config.Rules, templateStore store.TemplateStore, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		rules:      rules,
		normalizer: NewNormalizer(),
		classifier: NewClassifier(rules.Classifier),
		facility:   NewFacilityExtractor(rules.Facility),
		date:       NewDateExtractor(rules.Date, rules.Eras, now),
		amount:     NewAmountExtractor(rules.Amount),
		family:     NewFamilyNameExtractor(rules.Family),
		matcher:    NewTemplateMatcher(rules.Template, templateStore),
		resolver:   NewResolver(rules),
		now:        now,
	}
}

// Process runs one document through the full pipeline. A malformed
// payload is the only error path; degraded inputs (empty pages,
// unreadable lines) come back as a REJECTED result, not an error.
func (p *Pipeline) Process(ctx context.Context, documentID string, raw *dto.RawResult, householdID string) (*dto.ExtractionResult, error) {
	lines, dropped, err := p.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return p.emptyResult(documentID, householdID, raw, dropped), nil
	}

	docType, _, classifierReasons, ocrQuality := p.classifier.Classify(lines)

	match := dto.TemplateMatch{}
	var tpl *dto.Template
	if householdID != "" {
		match, tpl, err = p.matcher.Match(ctx, householdID, docType, lines, p.rules.Thresholds.HouseholdMatch)
		if err != nil {
			// Template store trouble degrades to generic extraction.
			log.Printf("template match failed for document %s: %v", documentID, err)
			match = dto.TemplateMatch{Reasons: []string{"template_store_unavailable"}}
			tpl = nil
		}
	}

	pools := p.facility.Extract(docType, lines)
	pools[dto.FieldPaymentDate] = p.date.Extract(lines)
	pools[dto.FieldPaymentAmount] = p.amount.Extract(lines)
	if family := p.family.Extract(lines); len(family) > 0 {
		pools[dto.FieldFamilyMemberName] = family
	}

	pools = p.matcher.Boost(tpl, pools)
	for field := range pools {
		sortPool(pools[field])
	}

	fields, decision := p.resolver.Resolve(docType, pools, match, ocrQuality)

	notes := []string{}
	if tpl != nil {
		notes = append(notes, "template_applied:"+tpl.TemplateFamilyID)
	}

	return &dto.ExtractionResult{
		DocumentID:    documentID,
		HouseholdID:   householdID,
		DocumentType:  docType,
		TemplateMatch: match,
		Fields:        fields,
		Decision:      decision,
		Audit: dto.AuditInfo{
			Engine:            raw.Engine,
			EngineVersion:     raw.EngineVersion,
			PipelineVersion:   pipelineVersion,
			ProcessedAt:       p.now().UTC().Format(time.RFC3339),
			ClassifierReasons: classifierReasons,
			DroppedLines:      dropped,
			Notes:             notes,
		},
		CandidatePool: capPools(pools, auditPoolLimit),
		OCRLines:      lines,
	}, nil
}

func (p *Pipeline) emptyResult(documentID, householdID string, raw *dto.RawResult, dropped []string) *dto.ExtractionResult {
	return &dto.ExtractionResult{
		DocumentID:   documentID,
		HouseholdID:  householdID,
		DocumentType: dto.DocTypeUnknown,
		Fields:       map[string]*dto.FieldResult{},
		Decision: dto.Decision{
			Status:     dto.StatusRejected,
			Confidence: 0,
			Reasons:    []string{"insufficient_ocr_data"},
		},
		Audit: dto.AuditInfo{
			Engine:          raw.Engine,
			EngineVersion:   raw.EngineVersion,
			PipelineVersion: pipelineVersion,
			ProcessedAt:     p.now().UTC().Format(time.RFC3339),
			DroppedLines:    dropped,
			Notes:           []string{"no_usable_lines"},
		},
	}
}

// sortPool orders candidates by score descending, then by smallest
// source line index so equal scores resolve deterministically.
func sortPool(pool []dto.Candidate) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		return firstIndex(pool[i]) < firstIndex(pool[j])
	})
}

func capPools(pools map[string][]dto.Candidate, limit int) map[string][]dto.Candidate {
	out := make(map[string][]dto.Candidate, len(pools))
	for field, pool := range pools {
		if len(pool) == 0 {
			continue
		}
		if len(pool) > limit {
			pool = pool[:limit]
		}
		out[field] = pool
	}
	return out
}
