package dto

import (
	"errors"
	"mime/multipart"
)

// ExtractionRequest represents the incoming extraction request
type ExtractionRequest struct {
	File        *multipart.FileHeader `form:"file" binding:"required"`
	HouseholdID string                `form:"household_id"`
	Engine      string                `form:"engine"`
}

// Validate performs basic validation on the request
func (r *ExtractionRequest) Validate() error {
	if r.File == nil {
		return errors.New("receipt file is required")
	}
	return nil
}

// LearnRequest carries a resolved result plus the user's corrections
// back into the template learner.
type LearnRequest struct {
	HouseholdID string                `json:"household_id" binding:"required"`
	Result      ExtractionResult      `json:"result" binding:"required"`
	Corrections map[string]Correction `json:"corrections" binding:"required"`
}

func (r *LearnRequest) Validate() error {
	if r.HouseholdID == "" {
		return errors.New("household_id is required")
	}
	if len(r.Corrections) == 0 {
		return errors.New("corrections must not be empty")
	}
	return nil
}
