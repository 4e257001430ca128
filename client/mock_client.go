package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/knakano/receipt-ocr-engine/dto"
)

// MockClient serves canned OCR output for development and tests. If a
// ".ocr.json" sidecar exists next to the image it is used verbatim;
// otherwise a fixed pharmacy receipt payload comes back, so the full
// pipeline can run without any OCR engine installed.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Healthcheck(ctx context.Context) bool { return true }

func (m *MockClient) Recognize(ctx context.Context, path string) (*dto.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sidecar := path + ".ocr.json"
	if data, err := os.ReadFile(sidecar); err == nil {
		var result dto.RawResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("%w: sidecar %s: %v", dto.ErrMalformedOCRResult, sidecar, err)
		}
		if result.Engine == "" {
			result.Engine = m.Name()
		}
		return &result, nil
	}
	return defaultPharmacyPayload(), nil
}

func defaultPharmacyPayload() *dto.RawResult {
	return &dto.RawResult{
		Engine:        "mock",
		EngineVersion: "1.0",
		ImageWidth:    1000,
		ImageHeight:   1400,
		Lines: []dto.RawLine{
			{Text: "領収書", BBox: []float64{380, 40, 620, 100}, Confidence: 0.98},
			{Text: "〇〇調剤薬局", BBox: []float64{60, 120, 480, 180}, Confidence: 0.96},
			{Text: "〒100-0001 東京都千代田区1-2-3", BBox: []float64{60, 190, 560, 230}, Confidence: 0.91},
			{Text: "TEL 03-1234-5678", BBox: []float64{60, 240, 360, 280}, Confidence: 0.93},
			{Text: "患者氏名 山田 太郎 様", BBox: []float64{60, 320, 460, 370}, Confidence: 0.92},
			{Text: "処方箋交付医療機関 △△内科クリニック", BBox: []float64{60, 400, 640, 450}, Confidence: 0.9},
			{Text: "領収日 2026/02/22", BBox: []float64{60, 520, 420, 570}, Confidence: 0.95},
			{Text: "調剤技術料 810", BBox: []float64{60, 640, 380, 690}, Confidence: 0.89},
			{Text: "薬学管理料 330", BBox: []float64{60, 700, 380, 750}, Confidence: 0.9},
			{Text: "総点数 513点", BBox: []float64{60, 760, 380, 810}, Confidence: 0.88},
			{Text: "領収金額 ¥1,540", BBox: []float64{60, 900, 460, 970}, Confidence: 0.97},
		},
	}
}
