package dto

import "time"

type DocumentType string

const (
	DocTypePharmacy DocumentType = "pharmacy"
	DocTypeClinic   DocumentType = "clinic_or_hospital"
	DocTypeUnknown  DocumentType = "unknown"
)

type DecisionStatus string

const (
	StatusAutoAccept     DecisionStatus = "AUTO_ACCEPT"
	StatusReviewRequired DecisionStatus = "REVIEW_REQUIRED"
	StatusRejected       DecisionStatus = "REJECTED"
)

// Field names as they appear in serialized results.
const (
	FieldPayerFacilityName       = "payer_facility_name"
	FieldPrescribingFacilityName = "prescribing_facility_name"
	FieldPaymentDate             = "payment_date"
	FieldPaymentAmount           = "payment_amount"
	FieldFamilyMemberName        = "family_member_name"
)

// RequiredFields must resolve for a document to auto-accept.
// prescribing_facility_name is conditionally required, see resolver.
var RequiredFields = []string{
	FieldPayerFacilityName,
	FieldPaymentDate,
	FieldPaymentAmount,
}

// BBox is a bounding box in unit-square coordinates: [x1, y1, x2, y2]
// with x1<x2 and y1<y2. Serializes as a JSON array.
type BBox [4]float64

func (b BBox) CenterX() float64 { return (b[0] + b[2]) / 2 }
func (b BBox) CenterY() float64 { return (b[1] + b[3]) / 2 }
func (b BBox) Height() float64  { return b[3] - b[1] }

type Point [2]float64

// RawLine is one OCR line as produced by an engine client, with
// geometry still in pixel coordinates.
type RawLine struct {
	Text       string    `json:"text"`
	BBox       []float64 `json:"bbox,omitempty"`
	Polygon    []Point   `json:"polygon,omitempty"`
	Confidence float64   `json:"confidence"`
	LineIndex  int       `json:"line_index,omitempty"`
	Page       int       `json:"page,omitempty"`
}

// RawResult is the engine-agnostic OCR payload every client returns.
type RawResult struct {
	Engine        string    `json:"engine"`
	EngineVersion string    `json:"engine_version"`
	Lines         []RawLine `json:"lines"`
	ImageWidth    int       `json:"image_width"`
	ImageHeight   int       `json:"image_height"`
}

// OCRLine is a normalized line: unit-square geometry, clamped
// confidence, reading-order line index. Immutable once produced.
type OCRLine struct {
	Text       string  `json:"text"`
	BBox       BBox    `json:"bbox"`
	Polygon    []Point `json:"polygon,omitempty"`
	Confidence float64 `json:"confidence"`
	LineIndex  int     `json:"line_index"`
	Page       int     `json:"page"`
}

func (l OCRLine) Center() (float64, float64) {
	return l.BBox.CenterX(), l.BBox.CenterY()
}

// Candidate is one scored guess for a field value. Never mutated after
// an extractor emits it; the resolver only reads.
type Candidate struct {
	Field             string   `json:"field"`
	ValueRaw          string   `json:"value_raw"`
	ValueNormalized   any      `json:"value_normalized"`
	SourceLineIndices []int    `json:"source_line_indices"`
	BBox              BBox     `json:"bbox"`
	Score             float64  `json:"score"`
	OCRConfidence     float64  `json:"ocr_confidence"`
	Reasons           []string `json:"reasons"`
	Source            string   `json:"source,omitempty"`
}

// FieldResult is the candidate the resolver selected for a field.
type FieldResult struct {
	Candidate
	Selected bool `json:"selected"`
}

type TemplateAnchor struct {
	TextPattern string `json:"text_pattern"`
	BBox        BBox   `json:"bbox"`
}

type FieldSpec struct {
	TargetBBox     BBox     `json:"target_bbox"`
	AnchorRefs     []string `json:"anchor_refs"`
	SelectionRules []string `json:"selection_rules"`
}

// Template is a household-local learned layout description. Mutated
// only by the learner; the matcher reads, never writes.
type Template struct {
	TemplateFamilyID string               `json:"template_family_id"`
	Scope            string               `json:"scope"`
	HouseholdID      string               `json:"household_id"`
	DocumentType     DocumentType         `json:"document_type"`
	Anchors          []TemplateAnchor     `json:"anchors"`
	FieldSpecs       map[string]FieldSpec `json:"field_specs"`
	SampleCount      int                  `json:"sample_count"`
	SuccessRate      float64              `json:"success_rate"`
	UpdatedAt        string               `json:"updated_at,omitempty"`
}

type TemplateMatch struct {
	Matched          bool     `json:"matched"`
	TemplateFamilyID string   `json:"template_family_id,omitempty"`
	Score            float64  `json:"score"`
	Reasons          []string `json:"reasons,omitempty"`
}

type Decision struct {
	Status     DecisionStatus `json:"status"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
}

type AuditInfo struct {
	Engine            string   `json:"engine"`
	EngineVersion     string   `json:"engine_version"`
	PipelineVersion   string   `json:"pipeline_version"`
	ProcessedAt       string   `json:"processed_at"`
	ClassifierReasons []string `json:"classifier_reasons"`
	DroppedLines      []string `json:"dropped_lines,omitempty"`
	Notes             []string `json:"notes"`
}

// ExtractionResult is the single object that crosses the engine
// boundary outward. Immutable once the resolver returns it.
type ExtractionResult struct {
	DocumentID    string                  `json:"document_id"`
	HouseholdID   string                  `json:"household_id,omitempty"`
	DocumentType  DocumentType            `json:"document_type"`
	TemplateMatch TemplateMatch           `json:"template_match"`
	Fields        map[string]*FieldResult `json:"fields"`
	Decision      Decision                `json:"decision"`
	Audit         AuditInfo               `json:"audit"`
	CandidatePool map[string][]Candidate  `json:"candidate_pool,omitempty"`
	OCRLines      []OCRLine               `json:"ocr_lines,omitempty"`
}

// Correction is a user-supplied fix for one field: the corrected value
// plus the bbox (unit-square) the value actually came from.
type Correction struct {
	Value string `json:"value"`
	BBox  BBox   `json:"bbox"`
}

func UTCNowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
