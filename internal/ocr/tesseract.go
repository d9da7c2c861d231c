//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// Tesseract renders pages with MuPDF and recognizes them with tesseract.
type Tesseract struct {
	cfg       Config
	languages []string
	logger    *zap.Logger
}

// Resolve probes the installed tesseract languages and returns the capability.
func Resolve(cfg Config, logger *zap.Logger) Capability {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)
	if !cfg.Enabled {
		return Disabled("disabled by configuration")
	}
	installed, err := gosseract.GetAvailableLanguages()
	if err != nil {
		logger.Warn("ocr language probe failed", zap.Error(err))
		return Disabled(fmt.Sprintf("probe tesseract languages: %v", err))
	}
	langs := pickLanguages(cfg.Languages, cfg.FallbackLanguage, installed)
	if langs == nil {
		return Disabled("no configured tesseract language is installed")
	}
	set := strings.Join(langs, "+")
	if set != cfg.Languages {
		logger.Warn("ocr falling back to secondary language set",
			zap.String("preferred", cfg.Languages), zap.String("using", set))
	}
	return Capability{
		Engine:    &Tesseract{cfg: cfg, languages: langs, logger: logger},
		Available: true,
		Languages: set,
	}
}

// Recognize renders up to cfg.Pages leading pages and returns their text.
func (t *Tesseract) Recognize(ctx context.Context, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("open pdf for ocr: %w", err)
	}
	defer func() {
		_ = doc.Close()
	}()

	pages := doc.NumPage()
	if t.cfg.Pages > 0 && pages > t.cfg.Pages {
		pages = t.cfg.Pages
	}

	client := gosseract.NewClient()
	defer func() {
		_ = client.Close()
	}()
	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}

	var sb strings.Builder
	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return sb.String(), fmt.Errorf("ocr canceled: %w", err)
		}
		img, err := doc.ImagePNG(n, float64(t.cfg.DPI))
		if err != nil {
			t.logger.Warn("ocr render failed", zap.Int("page", n), zap.Error(err))
			continue
		}
		if err := client.SetImageFromBytes(img); err != nil {
			t.logger.Warn("ocr image load failed", zap.Int("page", n), zap.Error(err))
			continue
		}
		text, err := client.Text()
		if err != nil {
			t.logger.Warn("ocr recognize failed", zap.Int("page", n), zap.Error(err))
			continue
		}
		sb.WriteString(text)
		sb.WriteByte(' ')
	}
	return strings.Join(strings.Fields(sb.String()), " "), nil
}
