package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/store"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// Anchor label candidates, most specific first. Learned anchors come
// from stable printed labels near corrected values, not from the values
// themselves (values change per visit, labels do not).
var anchorLabelHints = []string{
	"領収書", "領収証", "調剤明細書", "領収日", "発行日", "調剤日",
	"領収金額", "請求金額", "合計", "患者氏名", "氏名", "保険薬局",
}

var reAnchorNoise = regexp.MustCompile(`[\d,，.。¥￥円:：/\-]+`)

// Default selection rules seeded into newly learned field specs.
var defaultFieldRules = map[string][]string{
	dto.FieldPaymentAmount:     {"prefer_keyword:円", "prefer_label:領収"},
	dto.FieldPaymentDate:       {"prefer_label:領収日"},
	dto.FieldPayerFacilityName: nil,
}

// TemplateLearner updates household templates from reviewer
// corrections. One correction batch updates exactly one template
// family; learning never touches other households.
type TemplateLearner struct {
	rules config.TemplateRules
	store store.TemplateStore
}

func NewTemplateLearner(rules config.TemplateRules, st store.TemplateStore) *TemplateLearner {
	return &TemplateLearner{rules: rules, store: st}
}

// Learn folds reviewer corrections for one document into the
// household's template. If the document matched a template family that
// family is updated, otherwise a new family is created. Returns the
// stored template.
func (l *TemplateLearner) Learn(ctx context.Context, householdID string, result *dto.ExtractionResult, corrections map[string]dto.Correction) (*dto.Template, error) {
	if householdID == "" {
		return nil, fmt.Errorf("%w: learn requires a household_id", dto.ErrConfiguration)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: learn requires the extraction result", dto.ErrMalformedOCRResult)
	}

	familyID := result.TemplateMatch.TemplateFamilyID
	var tpl *dto.Template
	if familyID != "" {
		existing, err := l.store.GetTemplate(ctx, householdID, familyID)
		switch {
		case err == nil:
			tpl = existing
		case errors.Is(err, dto.ErrTemplateNotFound):
			tpl = nil
		default:
			return nil, err
		}
	}
	if tpl == nil {
		familyID = fmt.Sprintf("%s_family_%s", result.DocumentType, utils.CompactTimestamp())
		tpl = &dto.Template{
			TemplateFamilyID: familyID,
			Scope:            "household",
			HouseholdID:      householdID,
			DocumentType:     result.DocumentType,
			FieldSpecs:       map[string]dto.FieldSpec{},
			SampleCount:      0,
			SuccessRate:      1.0,
		}
	}
	if tpl.FieldSpecs == nil {
		tpl.FieldSpecs = map[string]dto.FieldSpec{}
	}

	for field, corr := range corrections {
		l.learnField(tpl, field, corr, result.OCRLines)
	}
	l.refreshAnchors(tpl, result.OCRLines)

	// A correction batch means the automatic pass got something wrong:
	// outcome 0 folds into the running success ratio.
	tpl.SampleCount++
	tpl.SuccessRate = runningRate(tpl.SuccessRate, tpl.SampleCount, 0)
	tpl.UpdatedAt = dto.UTCNowISO()

	if err := store.ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	if err := l.store.PutTemplate(ctx, *tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// RecordSuccess folds an accepted, uncorrected document into the
// matched template's success ratio.
func (l *TemplateLearner) RecordSuccess(ctx context.Context, householdID, familyID string) error {
	tpl, err := l.store.GetTemplate(ctx, householdID, familyID)
	if err != nil {
		return err
	}
	tpl.SampleCount++
	tpl.SuccessRate = runningRate(tpl.SuccessRate, tpl.SampleCount, 1)
	tpl.UpdatedAt = dto.UTCNowISO()
	return l.store.PutTemplate(ctx, *tpl)
}

func (l *TemplateLearner) learnField(tpl *dto.Template, field string, corr dto.Correction, lines []dto.OCRLine) {
	spec, exists := tpl.FieldSpecs[field]
	if !exists {
		spec = dto.FieldSpec{
			TargetBBox:     corr.BBox,
			SelectionRules: append([]string{}, defaultFieldRules[field]...),
		}
	} else {
		spec.TargetBBox = l.expandBounded(spec.TargetBBox, corr.BBox)
	}

	if label, ok := utils.FindNearestLine(labelLines(lines), corr.BBox, 0.2); ok {
		ref := sanitizeAnchorText(label.Text)
		if ref != "" && !containsString(spec.AnchorRefs, ref) {
			spec.AnchorRefs = append(spec.AnchorRefs, ref)
		}
	}
	tpl.FieldSpecs[field] = spec
}

// expandBounded unions the stored target box with the corrected box,
// but never lets one correction grow the box by more than the expand
// limit per edge. A wild bbox from a mis-click stays contained.
func (l *TemplateLearner) expandBounded(current, next dto.BBox) dto.BBox {
	limit := l.rules.BBoxExpandLimit
	merged, _ := utils.MergeBBoxes([]dto.BBox{current, next})
	out := merged
	if current[0]-out[0] > limit {
		out[0] = current[0] - limit
	}
	if current[1]-out[1] > limit {
		out[1] = current[1] - limit
	}
	if out[2]-current[2] > limit {
		out[2] = current[2] + limit
	}
	if out[3]-current[3] > limit {
		out[3] = current[3] + limit
	}
	return clampBBox(out)
}

// refreshAnchors rebuilds the anchor set from the stable label lines
// present on this document, keeping any previously learned anchors that
// still validate.
func (l *TemplateLearner) refreshAnchors(tpl *dto.Template, lines []dto.OCRLine) {
	seen := make(map[string]bool)
	var anchors []dto.TemplateAnchor
	for _, a := range tpl.Anchors {
		if a.TextPattern != "" && !seen[a.TextPattern] {
			seen[a.TextPattern] = true
			anchors = append(anchors, a)
		}
	}
	for _, line := range labelLines(lines) {
		pattern := sanitizeAnchorText(line.Text)
		if pattern == "" || seen[pattern] {
			continue
		}
		seen[pattern] = true
		anchors = append(anchors, dto.TemplateAnchor{TextPattern: pattern, BBox: line.BBox})
		if len(anchors) >= 8 {
			break
		}
	}
	tpl.Anchors = anchors
}

func labelLines(lines []dto.OCRLine) []dto.OCRLine {
	var out []dto.OCRLine
	for _, line := range lines {
		if utils.ContainsAny(line.Text, anchorLabelHints) {
			out = append(out, line)
		}
	}
	return out
}

// sanitizeAnchorText reduces a label line to its stable printed part:
// digits, prices and separators vary per visit and are stripped.
func sanitizeAnchorText(text string) string {
	t := utils.NormalizeText(text)
	for _, hint := range anchorLabelHints {
		if strings.Contains(t, hint) {
			return hint
		}
	}
	t = reAnchorNoise.ReplaceAllString(t, "")
	t = strings.TrimSpace(t)
	if n := len([]rune(t)); n < 2 || n > 16 {
		return ""
	}
	return t
}

func runningRate(rate float64, newCount int, outcome float64) float64 {
	if newCount <= 0 {
		return rate
	}
	prev := rate * float64(newCount-1)
	return (prev + outcome) / float64(newCount)
}

func clampBBox(b dto.BBox) dto.BBox {
	for i, v := range b {
		b[i] = utils.Clamp01(v)
	}
	return b
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
