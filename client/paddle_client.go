package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/knakano/receipt-ocr-engine/dto"
)

// PaddleClient calls a PaddleOCR HTTP service. Paddle reports
// quadrilateral text regions and confidences in [0,1]; the polygon is
// passed through untouched.
type PaddleClient struct {
	apiURL     string
	httpClient *http.Client
}

func NewPaddleClient(apiURL string) *PaddleClient {
	return &PaddleClient{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *PaddleClient) Name() string { return "paddleocr" }

// Healthcheck pings the API endpoint; any HTTP answer counts as up.
func (p *PaddleClient) Healthcheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (p *PaddleClient) Recognize(ctx context.Context, path string) (*dto.RawResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	width, height, err := imageSize(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrMalformedOCRResult, err)
	}

	payload, err := json.Marshal(map[string]any{
		"images": []string{base64.StdEncoding.EncodeToString(data)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call PaddleOCR API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("PaddleOCR API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResult struct {
		Results [][]struct {
			Text       string      `json:"text"`
			Confidence float64     `json:"confidence"`
			TextRegion [][]float64 `json:"text_region"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode PaddleOCR response: %w", err)
	}

	result := &dto.RawResult{
		Engine:        p.Name(),
		EngineVersion: "2.x",
		ImageWidth:    width,
		ImageHeight:   height,
	}
	if len(apiResult.Results) == 0 {
		return result, nil
	}
	for _, line := range apiResult.Results[0] {
		raw := dto.RawLine{Text: line.Text, Confidence: line.Confidence}
		for _, pt := range line.TextRegion {
			if len(pt) == 2 {
				raw.Polygon = append(raw.Polygon, dto.Point{pt[0], pt[1]})
			}
		}
		result.Lines = append(result.Lines, raw)
	}
	return result, nil
}
