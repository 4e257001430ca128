// Package store holds the household template store. The engine only
// ever calls this narrow interface; how writes are serialized is the
// store implementation's problem. The contract it must uphold: a
// template write for a given household must be linearizable with
// respect to concurrent reads for that same household; stale reads
// are acceptable, lost or interleaved writes are not.
package store

import (
	"context"
	"fmt"

	"github.com/knakano/receipt-ocr-engine/dto"
)

type TemplateStore interface {
	// GetTemplates returns every stored template for the household,
	// optionally filtered by document type ("" = all).
	GetTemplates(ctx context.Context, householdID string, docType dto.DocumentType) ([]dto.Template, error)
	// GetTemplate returns one template or dto.ErrTemplateNotFound.
	GetTemplate(ctx context.Context, householdID, familyID string) (*dto.Template, error)
	// PutTemplate inserts or replaces a template.
	PutTemplate(ctx context.Context, tmpl dto.Template) error
}

// ValidateTemplate checks the structural invariants a stored template
// must satisfy before the matcher may use it. A failing template is
// skipped, never fatal to the document being processed.
func ValidateTemplate(t *dto.Template) error {
	if t.TemplateFamilyID == "" || t.HouseholdID == "" {
		return fmt.Errorf("%w: missing identifiers", dto.ErrTemplateCorruption)
	}
	if t.Scope != "household" {
		return fmt.Errorf("%w: unsupported scope %q", dto.ErrTemplateCorruption, t.Scope)
	}
	if len(t.Anchors) == 0 {
		return fmt.Errorf("%w: template has no anchors", dto.ErrTemplateCorruption)
	}
	for _, anchor := range t.Anchors {
		if anchor.TextPattern == "" {
			return fmt.Errorf("%w: anchor with empty text_pattern", dto.ErrTemplateCorruption)
		}
		if err := validateBBox(anchor.BBox); err != nil {
			return fmt.Errorf("%w: anchor %q: %v", dto.ErrTemplateCorruption, anchor.TextPattern, err)
		}
	}
	for field, spec := range t.FieldSpecs {
		if err := validateBBox(spec.TargetBBox); err != nil {
			return fmt.Errorf("%w: field_spec %q: %v", dto.ErrTemplateCorruption, field, err)
		}
	}
	if t.SampleCount < 0 || t.SuccessRate < 0 || t.SuccessRate > 1 {
		return fmt.Errorf("%w: sample_count/success_rate out of range", dto.ErrTemplateCorruption)
	}
	return nil
}

func validateBBox(b dto.BBox) error {
	for _, v := range b {
		if v < 0 || v > 1 {
			return fmt.Errorf("coordinate %v outside unit square", v)
		}
	}
	if b[0] >= b[2] || b[1] >= b[3] {
		return fmt.Errorf("degenerate bbox %v", b)
	}
	return nil
}
