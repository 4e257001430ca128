package client

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRScanner reads the qualified-invoice QR code some pharmacy
// registers print. A decoded payload is a supplementary hint only; it
// never replaces field extraction.
type QRScanner struct{}

func NewQRScanner() *QRScanner { return &QRScanner{} }

// Scan decodes the first QR code on the image. Returns ok=false when
// no code is present; that is the normal case, not an error.
func (s *QRScanner) Scan(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, err
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		// gozxing reports "not found" as an error.
		return "", false, nil
	}
	text := strings.TrimSpace(result.GetText())
	return text, text != "", nil
}
