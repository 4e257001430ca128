package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/store"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// TemplateMatcher scores stored household templates against the
// normalized lines of a new document. Matching is read-only; a matched
// template only re-ranks generic candidates through Boost, it never
// fabricates values.
type TemplateMatcher struct {
	rules config.TemplateRules
	store store.TemplateStore
}

func NewTemplateMatcher(rules config.TemplateRules, st store.TemplateStore) *TemplateMatcher {
	return &TemplateMatcher{rules: rules, store: st}
}

// Match returns the best-scoring template at or above the threshold.
// Corrupt templates are skipped with a reason token, never fatal.
func (m *TemplateMatcher) Match(ctx context.Context, householdID string, docType dto.DocumentType, lines []dto.OCRLine, threshold float64) (dto.TemplateMatch, *dto.Template, error) {
	match := dto.TemplateMatch{Matched: false, Score: 0}
	if householdID == "" || m.store == nil {
		return match, nil, nil
	}

	templates, err := m.store.GetTemplates(ctx, householdID, docType)
	if err != nil {
		return match, nil, fmt.Errorf("template lookup for household %s: %w", householdID, err)
	}
	if len(templates) == 0 {
		match.Reasons = append(match.Reasons, "no_templates_for_household")
		return match, nil, nil
	}

	type scored struct {
		tpl   *dto.Template
		score float64
	}
	var pool []scored
	for i := range templates {
		tpl := &templates[i]
		if err := store.ValidateTemplate(tpl); err != nil {
			log.Printf("skipping corrupt template %s: %v", tpl.TemplateFamilyID, err)
			match.Reasons = append(match.Reasons, "template_skipped_corrupt:"+tpl.TemplateFamilyID)
			continue
		}
		pool = append(pool, scored{tpl: tpl, score: m.scoreTemplate(tpl, lines)})
	}
	if len(pool) == 0 {
		return match, nil, nil
	}

	// Ties break on success_rate, then sample_count, so the template
	// that has earned trust wins over a newly learned sibling.
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		if pool[i].tpl.SuccessRate != pool[j].tpl.SuccessRate {
			return pool[i].tpl.SuccessRate > pool[j].tpl.SuccessRate
		}
		return pool[i].tpl.SampleCount > pool[j].tpl.SampleCount
	})

	best := pool[0]
	match.Score = best.score
	if best.score < threshold {
		match.Reasons = append(match.Reasons,
			fmt.Sprintf("best_template_below_threshold:%.2f", best.score))
		return match, nil, nil
	}

	match.Matched = true
	match.TemplateFamilyID = best.tpl.TemplateFamilyID
	match.Reasons = append(match.Reasons, "template_matched:"+best.tpl.TemplateFamilyID)
	return match, best.tpl, nil
}

// scoreTemplate blends anchor text hits with position agreement. An
// anchor counts as matched only when its text appears on a line AND
// that line's bbox overlaps the stored anchor bbox.
func (m *TemplateMatcher) scoreTemplate(tpl *dto.Template, lines []dto.OCRLine) float64 {
	if len(tpl.Anchors) == 0 {
		return 0
	}

	matched := 0
	positionSum := 0.0
	for _, anchor := range tpl.Anchors {
		best := -1.0
		for _, line := range lines {
			if !strings.Contains(utils.NormalizeText(line.Text), anchor.TextPattern) {
				continue
			}
			if utils.BBoxIoU(line.BBox, anchor.BBox) < m.rules.AnchorMinIoU {
				continue
			}
			dist := utils.BBoxDistance(line.BBox, anchor.BBox)
			pos := 1.0 - dist/0.5
			if pos < 0 {
				pos = 0
			}
			if pos > best {
				best = pos
			}
		}
		if best >= 0 {
			matched++
			positionSum += best
		}
	}
	if matched == 0 {
		return 0
	}

	textScore := float64(matched) / float64(len(tpl.Anchors))
	positionScore := positionSum / float64(matched)
	return m.rules.TextWeight*textScore + m.rules.PositionWeight*positionScore
}

// Boost applies a matched template's field specs to the generic
// candidate pools. Boosted candidates are copies; the originals stay
// untouched so the audit pool shows both scores.
func (m *TemplateMatcher) Boost(tpl *dto.Template, pools map[string][]dto.Candidate) map[string][]dto.Candidate {
	if tpl == nil {
		return pools
	}

	out := make(map[string][]dto.Candidate, len(pools))
	for field, candidates := range pools {
		spec, ok := tpl.FieldSpecs[field]
		if !ok {
			out[field] = candidates
			continue
		}
		boosted := make([]dto.Candidate, len(candidates))
		for i, c := range candidates {
			boosted[i] = m.boostCandidate(c, spec)
		}
		out[field] = boosted
	}
	return out
}

func (m *TemplateMatcher) boostCandidate(c dto.Candidate, spec dto.FieldSpec) dto.Candidate {
	bonus := 0.0
	var reasons []string

	if candidateInTarget(c, spec.TargetBBox) {
		bonus += m.rules.Bonus
		reasons = append(reasons, "template_target_bbox_match")
	}
	for _, rule := range spec.SelectionRules {
		switch {
		case strings.HasPrefix(rule, "prefer_keyword:"):
			kw := strings.TrimPrefix(rule, "prefer_keyword:")
			if kw != "" && strings.Contains(utils.NormalizeText(c.ValueRaw), kw) {
				bonus += m.rules.RuleKeywordBonus
				reasons = append(reasons, "template_prefer_keyword:"+kw)
			}
		case strings.HasPrefix(rule, "prefer_label:"):
			label := strings.TrimPrefix(rule, "prefer_label:")
			if label != "" && strings.Contains(utils.NormalizeText(c.ValueRaw), label) {
				bonus += m.rules.RuleKeywordBonus
				reasons = append(reasons, "template_prefer_label:"+label)
			}
		}
	}
	if bonus == 0 {
		return c
	}

	boosted := c
	boosted.Score = c.Score + bonus
	boosted.Source = "template"
	boosted.Reasons = append(append([]string{}, c.Reasons...), reasons...)
	return boosted
}

func candidateInTarget(c dto.Candidate, target dto.BBox) bool {
	if target[2] <= target[0] || target[3] <= target[1] {
		return false
	}
	cx, cy := c.BBox.CenterX(), c.BBox.CenterY()
	return cx >= target[0] && cx <= target[2] && cy >= target[1] && cy <= target[3]
}
