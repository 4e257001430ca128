package handler

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/knakano/receipt-ocr-engine/client"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/service"
	"github.com/knakano/receipt-ocr-engine/utils"
)

type ReceiptHandler struct {
	clients       map[string]client.OCRClient
	defaultEngine string
	pipeline      *service.Pipeline
	batch         *service.BatchProcessor
	learner       *service.TemplateLearner
	qrScanner     *client.QRScanner
	pdfProcessor  service.PDFProcessor
}

func NewReceiptHandler(clients map[string]client.OCRClient, defaultEngine string, pipeline *service.Pipeline, batch *service.BatchProcessor, learner *service.TemplateLearner, qrScanner *client.QRScanner) *ReceiptHandler {
	return &ReceiptHandler{
		clients:       clients,
		defaultEngine: defaultEngine,
		pipeline:      pipeline,
		batch:         batch,
		learner:       learner,
		qrScanner:     qrScanner,
		pdfProcessor:  service.NewPDFProcessor(),
	}
}

// Extract handles POST /api/v1/receipts/extract
func (h *ReceiptHandler) Extract(c *gin.Context) {
	log.Println("Received receipt extraction request")

	var request dto.ExtractionRequest
	if err := c.ShouldBind(&request); err != nil {
		h.sendError(c, http.StatusBadRequest, "Failed to parse multipart form", err)
		return
	}
	if err := request.Validate(); err != nil {
		h.sendError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	ocrClient, err := h.selectClient(request.Engine)
	if err != nil {
		h.sendError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	result, err := h.processFile(c, request.File, request.HouseholdID, ocrClient)
	if err != nil {
		h.sendProcessError(c, err)
		return
	}

	h.recordTemplateSuccess(c.Request.Context(), result)

	log.Printf("Extraction completed: document=%s status=%s confidence=%.3f",
		result.DocumentID, result.Decision.Status, result.Decision.Confidence)
	c.JSON(http.StatusOK, dto.ExtractionResponse{
		Result:      *result,
		ProcessedAt: dto.UTCNowISO(),
	})
}

// ExtractBatch handles POST /api/v1/receipts/extract-batch
func (h *ReceiptHandler) ExtractBatch(c *gin.Context) {
	log.Println("Received batch extraction request")

	form, err := c.MultipartForm()
	if err != nil {
		h.sendError(c, http.StatusBadRequest, "Failed to parse multipart form", err)
		return
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		h.sendError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}
	householdID := c.PostForm("household_id")

	ocrClient, err := h.selectClient(c.PostForm("engine"))
	if err != nil {
		h.sendError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	var docs []service.BatchDocument
	for i, fileHeader := range files {
		raw, err := h.recognize(c, fileHeader, ocrClient)
		if err != nil {
			h.sendProcessError(c, err)
			return
		}
		docs = append(docs, service.BatchDocument{
			DocumentID:  documentID(fileHeader.Filename, i),
			HouseholdID: householdID,
			Raw:         raw,
		})
	}

	results, err := h.batch.Process(c.Request.Context(), docs)
	if err != nil {
		h.sendError(c, http.StatusInternalServerError, "Batch processing failed", err)
		return
	}

	response := dto.BatchExtractionResponse{ProcessedAt: dto.UTCNowISO()}
	for _, result := range results {
		h.recordTemplateSuccess(c.Request.Context(), result)
		response.Results = append(response.Results, *result)
	}
	log.Printf("Batch extraction completed: %d documents", len(response.Results))
	c.JSON(http.StatusOK, response)
}

// Learn handles POST /api/v1/receipts/learn
func (h *ReceiptHandler) Learn(c *gin.Context) {
	log.Println("Received template learn request")

	var request dto.LearnRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.sendError(c, http.StatusBadRequest, "Failed to parse learn request", err)
		return
	}
	if err := request.Validate(); err != nil {
		h.sendError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	template, err := h.learner.Learn(c.Request.Context(), request.HouseholdID, &request.Result, request.Corrections)
	if err != nil {
		h.sendProcessError(c, err)
		return
	}

	log.Printf("Template learned: household=%s family=%s samples=%d",
		template.HouseholdID, template.TemplateFamilyID, template.SampleCount)
	c.JSON(http.StatusOK, dto.LearnResponse{
		Template:    *template,
		ProcessedAt: dto.UTCNowISO(),
	})
}

func (h *ReceiptHandler) processFile(c *gin.Context, fileHeader *multipart.FileHeader, householdID string, ocrClient client.OCRClient) (*dto.ExtractionResult, error) {
	tempPath, err := client.SaveUpload(fileHeader)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempPath)

	imagePath, pdfNotes, cleanup, err := h.ocrInput(tempPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	raw, err := ocrClient.Recognize(c.Request.Context(), imagePath)
	if err != nil {
		return nil, err
	}

	result, err := h.pipeline.Process(c.Request.Context(), documentID(fileHeader.Filename, 0), raw, householdID)
	if err != nil {
		return nil, err
	}
	result.Audit.Notes = append(result.Audit.Notes, pdfNotes...)

	if h.qrScanner != nil {
		if payload, ok, err := h.qrScanner.Scan(imagePath); err == nil && ok {
			result.Audit.Notes = append(result.Audit.Notes, "qr_invoice_hint:"+payload)
		}
	}
	return result, nil
}

func (h *ReceiptHandler) recognize(c *gin.Context, fileHeader *multipart.FileHeader, ocrClient client.OCRClient) (*dto.RawResult, error) {
	tempPath, err := client.SaveUpload(fileHeader)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempPath)

	imagePath, _, cleanup, err := h.ocrInput(tempPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return ocrClient.Recognize(c.Request.Context(), imagePath)
}

// ocrInput resolves the path the OCR engine should read. Image uploads
// pass through; PDF scans are unpacked to their first embedded page
// image, with a note when the PDF also carries a text layer.
func (h *ReceiptHandler) ocrInput(tempPath string) (string, []string, func(), error) {
	noop := func() {}
	if !strings.EqualFold(filepath.Ext(tempPath), ".pdf") {
		return tempPath, nil, noop, nil
	}

	data, err := os.ReadFile(tempPath)
	if err != nil {
		return "", nil, noop, err
	}

	images, err := h.pdfProcessor.ExtractImages(data)
	if err != nil {
		return "", nil, noop, fmt.Errorf("%w: %v", dto.ErrMalformedOCRResult, err)
	}
	if len(images) == 0 {
		return "", nil, noop, fmt.Errorf("%w: pdf contains no page images", dto.ErrMalformedOCRResult)
	}

	pageFile, err := os.CreateTemp("", "receipt-page-*.png")
	if err != nil {
		return "", nil, noop, err
	}
	if err := png.Encode(pageFile, images[0]); err != nil {
		pageFile.Close()
		os.Remove(pageFile.Name())
		return "", nil, noop, err
	}
	pageFile.Close()

	var notes []string
	if text, err := h.pdfProcessor.ExtractText(data); err == nil && strings.TrimSpace(text) != "" {
		notes = append(notes, "pdf_text_layer_present")
	}
	return pageFile.Name(), notes, func() { os.Remove(pageFile.Name()) }, nil
}

// recordTemplateSuccess folds an auto-accepted, template-matched
// document into the template's success ratio. A later correction via
// /learn folds the opposite outcome, so the ratio tracks how often
// the template's picks survive untouched.
func (h *ReceiptHandler) recordTemplateSuccess(ctx context.Context, result *dto.ExtractionResult) {
	if h.learner == nil || result == nil {
		return
	}
	if !result.TemplateMatch.Matched || result.Decision.Status != dto.StatusAutoAccept {
		return
	}
	if err := h.learner.RecordSuccess(ctx, result.HouseholdID, result.TemplateMatch.TemplateFamilyID); err != nil {
		log.Printf("Failed to record template success for %s: %v", result.DocumentID, err)
	}
}

func (h *ReceiptHandler) selectClient(engine string) (client.OCRClient, error) {
	if engine == "" {
		engine = h.defaultEngine
	}
	ocrClient, ok := h.clients[engine]
	if !ok {
		return nil, fmt.Errorf("unknown OCR engine %q", engine)
	}
	return ocrClient, nil
}

func (h *ReceiptHandler) sendProcessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dto.ErrMalformedOCRResult):
		h.sendError(c, http.StatusUnprocessableEntity, "Malformed OCR payload", err)
	case errors.Is(err, dto.ErrTemplateNotFound):
		h.sendError(c, http.StatusNotFound, "Template not found", err)
	default:
		h.sendError(c, http.StatusInternalServerError, "Failed to process receipt", err)
	}
}

// sendError sends a structured error response
func (h *ReceiptHandler) sendError(c *gin.Context, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = err.Error()
		log.Printf("Error: %s - %v", message, err)
	}

	c.JSON(statusCode, dto.ErrorResponse{
		Error:   "EXTRACTION_FAILED",
		Message: errorMsg,
		Code:    statusCode,
	})
}

func documentID(filename string, index int) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "receipt"
	}
	return fmt.Sprintf("%s_%s_%d", base, utils.CompactTimestamp(), index)
}
