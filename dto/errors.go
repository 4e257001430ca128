package dto

import "errors"

// Custom errors
var (
	// ErrMalformedOCRResult covers invalid image metadata or a payload
	// with no usable geometry at all.
	ErrMalformedOCRResult = errors.New("malformed OCR result")

	// ErrTemplateCorruption marks a stored template that fails
	// structural validation. The matcher skips it and continues.
	ErrTemplateCorruption = errors.New("template failed structural validation")

	// ErrConfiguration is fatal at startup, never per-document.
	ErrConfiguration = errors.New("invalid configuration")

	ErrTemplateNotFound = errors.New("template not found")
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
