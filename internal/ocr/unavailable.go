//go:build !ocr

package ocr

import "go.uber.org/zap"

// Resolve reports OCR unavailable: this binary was built without the `ocr` tag.
func Resolve(cfg Config, logger *zap.Logger) Capability {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Enabled {
		logger.Info("ocr requested but not compiled in; rebuild with -tags ocr")
	}
	return Disabled("built without ocr support")
}
