package client

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/otiai10/gosseract/v2"

	"github.com/knakano/receipt-ocr-engine/dto"
)

const tesseractEngineVersion = "5"

// TesseractClient runs local Tesseract with the Japanese language pack
// and reports word-level boxes in pixel coordinates.
type TesseractClient struct {
	dataPath string
}

func NewTesseractClient(dataPath string) *TesseractClient {
	return &TesseractClient{dataPath: dataPath}
}

func (tc *TesseractClient) Name() string { return "tesseract" }

// Healthcheck verifies the Japanese language pack loads.
func (tc *TesseractClient) Healthcheck(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	ocr := gosseract.NewClient()
	defer ocr.Close()

	if tc.dataPath != "" {
		ocr.SetTessdataPrefix(tc.dataPath)
	}
	return ocr.SetLanguage("jpn") == nil
}

func (tc *TesseractClient) Recognize(ctx context.Context, path string) (*dto.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height, err := imageSize(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrMalformedOCRResult, err)
	}

	ocr := gosseract.NewClient()
	defer ocr.Close()

	if tc.dataPath != "" {
		ocr.SetTessdataPrefix(tc.dataPath)
	}
	if err := ocr.SetLanguage("jpn"); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := ocr.SetImage(path); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := ocr.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("OCR extraction failed: %w", err)
	}

	result := &dto.RawResult{
		Engine:        tc.Name(),
		EngineVersion: tesseractEngineVersion,
		ImageWidth:    width,
		ImageHeight:   height,
	}
	for _, box := range boxes {
		result.Lines = append(result.Lines, dto.RawLine{
			Text: box.Word,
			BBox: []float64{
				float64(box.Box.Min.X), float64(box.Box.Min.Y),
				float64(box.Box.Max.X), float64(box.Box.Max.Y),
			},
			// Tesseract reports 0-100.
			Confidence: box.Confidence,
		})
	}
	return result, nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
