package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/knakano/receipt-ocr-engine/client"
	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/handler"
	"github.com/knakano/receipt-ocr-engine/service"
	"github.com/knakano/receipt-ocr-engine/store"
)

func main() {
	cfg := config.LoadConfig()

	// Tesseract v5 needs the prefix set before the first client opens.
	os.Setenv("TESSDATA_PREFIX", cfg.TesseractDataPath)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatalf("Invalid rules configuration: %v", err)
	}

	templateStore, err := store.NewSQLiteStore(cfg.TemplateDBPath)
	if err != nil {
		log.Fatalf("Failed to open template store: %v", err)
	}
	defer templateStore.Close()

	pipeline := service.NewPipeline(rules, templateStore, nil)
	batch := service.NewBatchProcessor(pipeline, rules.Batch)
	learner := service.NewTemplateLearner(rules.Template, templateStore)

	clients := map[string]client.OCRClient{
		"tesseract": client.NewTesseractClient(cfg.TesseractDataPath),
		"paddleocr": client.NewPaddleClient(cfg.PaddleAPIURL),
		"mock":      client.NewMockClient(),
	}

	receiptHandler := handler.NewReceiptHandler(
		clients, "tesseract", pipeline, batch, learner, client.NewQRScanner())

	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxFileSize

	router.GET("/health", func(c *gin.Context) {
		engines := gin.H{}
		for name, ocr := range clients {
			engines[name] = ocr.Healthcheck(c.Request.Context())
		}
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "Receipt Field Extraction",
			"engines": engines,
		})
	})

	api := router.Group("/api/v1")
	{
		receipts := api.Group("/receipts")
		{
			receipts.POST("/extract", receiptHandler.Extract)
			receipts.POST("/extract-batch", receiptHandler.ExtractBatch)
			receipts.POST("/learn", receiptHandler.Learn)
		}
	}

	log.Printf("Starting Receipt Extraction Service on port %s", cfg.ServerPort)
	if err := router.Run(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
