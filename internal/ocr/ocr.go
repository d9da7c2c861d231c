// Package ocr provides the optional optical character recognition capability
// used for scanned PDFs. The capability is resolved once at startup; builds
// without the `ocr` tag always report it unavailable.
package ocr

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned when OCR is disabled or not compiled in.
var ErrUnavailable = errors.New("ocr unavailable")

// Config controls rendering and recognition.
type Config struct {
	Enabled bool
	// Pages bounds how many leading pages are rendered; <= 0 means all.
	Pages int
	DPI   int
	// Languages is the preferred tesseract language set, e.g. "nep+eng".
	Languages string
	// FallbackLanguage is used when the preferred set is not installed.
	FallbackLanguage string
}

// Engine recognizes text in a PDF document.
type Engine interface {
	Recognize(ctx context.Context, pdf []byte) (string, error)
}

// Capability is the startup-resolved OCR state.
type Capability struct {
	Engine    Engine
	Available bool
	// Languages is the language set actually in use.
	Languages string
	Reason    string
}

// Disabled is the zero capability.
func Disabled(reason string) Capability {
	return Capability{Reason: reason}
}

func splitLanguages(spec string) []string {
	var out []string
	for _, l := range strings.Split(spec, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// pickLanguages returns the preferred set when fully installed, otherwise the
// fallback when installed, otherwise nil.
func pickLanguages(preferred, fallback string, installed []string) []string {
	have := make(map[string]struct{}, len(installed))
	for _, l := range installed {
		have[l] = struct{}{}
	}
	all := func(langs []string) bool {
		if len(langs) == 0 {
			return false
		}
		for _, l := range langs {
			if _, ok := have[l]; !ok {
				return false
			}
		}
		return true
	}
	if langs := splitLanguages(preferred); all(langs) {
		return langs
	}
	if langs := splitLanguages(fallback); all(langs) {
		return langs
	}
	return nil
}

func withDefaults(cfg Config) Config {
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Languages == "" {
		cfg.Languages = "nep+eng"
	}
	if cfg.FallbackLanguage == "" {
		cfg.FallbackLanguage = "eng"
	}
	return cfg
}
