package dto

// ExtractionResponse is the final response structure for one document
type ExtractionResponse struct {
	Result      ExtractionResult `json:"result"`
	ProcessedAt string           `json:"processed_at"`
}

// BatchExtractionResponse aggregates a multi-document run.
type BatchExtractionResponse struct {
	Results     []ExtractionResult `json:"results"`
	ProcessedAt string             `json:"processed_at"`
}

// LearnResponse reports the template the learner persisted.
type LearnResponse struct {
	Template    Template `json:"template"`
	ProcessedAt string   `json:"processed_at"`
}
