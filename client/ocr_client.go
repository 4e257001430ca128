// Package client holds the OCR engine adapters. Every adapter returns
// the same engine-agnostic raw payload; geometry stays in whatever
// coordinate space the engine reports and is normalized downstream.
package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/knakano/receipt-ocr-engine/dto"
)

type OCRClient interface {
	// Name identifies the engine in audit output.
	Name() string
	// Recognize runs OCR on the image file at path.
	Recognize(ctx context.Context, path string) (*dto.RawResult, error)
	// Healthcheck reports whether the engine can serve requests.
	Healthcheck(ctx context.Context) bool
}

// SaveUpload writes an uploaded file to a temp file and returns its
// path. Caller removes it.
func SaveUpload(fileHeader *multipart.FileHeader) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	ext := filepath.Ext(fileHeader.Filename)
	tempFile, err := os.CreateTemp("", "receipt-*"+ext)
	if err != nil {
		return "", err
	}
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, file); err != nil {
		os.Remove(tempFile.Name())
		return "", err
	}
	return tempFile.Name(), nil
}
