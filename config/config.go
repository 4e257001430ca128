package config

import "os"

type Config struct {
	ServerPort        string
	TesseractDataPath string
	PaddleAPIURL      string
	TemplateDBPath    string
	RulesPath         string
	MaxFileSize       int64
}

func LoadConfig() *Config {
	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	tesseractDataPath := os.Getenv("TESSDATA_PREFIX")
	if tesseractDataPath == "" {
		tesseractDataPath = "/usr/share/tesseract-ocr/5/tessdata"
	}

	paddleAPIURL := os.Getenv("PADDLEOCR_API_URL")
	if paddleAPIURL == "" {
		paddleAPIURL = "http://paddleocr:8866/predict/ocr_system"
	}

	templateDBPath := os.Getenv("TEMPLATE_DB_PATH")
	if templateDBPath == "" {
		templateDBPath = "data/templates.db"
	}

	return &Config{
		ServerPort:        serverPort,
		TesseractDataPath: tesseractDataPath,
		PaddleAPIURL:      paddleAPIURL,
		TemplateDBPath:    templateDBPath,
		RulesPath:         os.Getenv("RULES_PATH"),
		MaxFileSize:       10 * 1024 * 1024, // 10 MB
	}
}
