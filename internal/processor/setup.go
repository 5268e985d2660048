package processor

import (
	"context"
	"time"

	"github.com/adverant/nexus/pdfextract-worker/internal/clients"
	"github.com/adverant/nexus/pdfextract-worker/internal/config"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

// NewPolicyFromConfig wires the configured OCR engines into an extraction policy.
// In cloud mode the OCR service is health-checked once; an unreachable service is
// logged and left to fail per document.
func NewPolicyFromConfig(cfg *config.Config) (*Policy, error) {
	settings := cfg.ExtractionConfig()

	mode, err := ParseOCRMode(settings.OCRMode)
	if err != nil {
		return nil, err
	}

	tesseract := NewTesseractOCR(&TesseractConfig{
		Language:  cfg.OCRLanguage,
		RenderDPI: cfg.OCRRenderDPI,
		MaxPages:  cfg.OCRMaxPages,
	})

	var images *ImageTextExtractor
	if settings.ExtractImages {
		images = NewImageTextExtractor(tesseract)
	}

	policyCfg := &PolicyConfig{
		Mode:             mode,
		MinTextThreshold: settings.MinTextThreshold,
		OCREnabled:       settings.OCREnabled,
		Primary:          NewPDFTextExtractor(&PDFTextExtractorConfig{Images: images}),
		LocalOCR:         tesseract,
	}

	if mode == OCRModeCloudAlways {
		client, err := clients.NewOCRClient(&clients.OCRClientConfig{
			BaseURL: cfg.OCRAPIURL,
			APIKey:  cfg.OCRAPIKey,
			Timeout: cfg.ProcessingTimeoutDuration(),
		})
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.HealthCheck(ctx); err != nil {
			logging.NewLogger("policy").Warn("WARNING: OCR service health check failed, continuing", "error", err)
		}

		policyCfg.CloudOCR = NewMistralOCR(client, cfg.OCRModel)
	}

	return NewPolicy(policyCfg)
}
