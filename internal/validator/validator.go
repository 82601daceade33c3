// Package validator checks that a translation came out in the requested language.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/mtserve/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// Detector is satisfied by *detector.Detector.
type Detector interface {
	Detect(text string) detector.Detection
}

// Validator checks model output against the requested target language.
// It shares the process-wide detector; building another one is expensive.
type Validator struct {
	det Detector
}

func New(det Detector) *Validator {
	return &Validator{det: det}
}

// Check returns nil when translated appears to be written in targetLang.
//
// Short texts and texts whose language cannot be determined pass. When the
// detected language differs from targetLang the error names both codes.
func (v *Validator) Check(translated, targetLang string) error {
	if targetLang == "" {
		return nil
	}

	text := strings.TrimSpace(translated)
	if text == "" {
		return fmt.Errorf("translation is empty")
	}

	if len([]rune(text)) < minValidationLength {
		return nil
	}

	det := v.det.Detect(text)
	if det.Fallback {
		return nil
	}

	if !strings.EqualFold(det.Code, targetLang) {
		return fmt.Errorf("expected %s but detected %s", strings.ToLower(targetLang), det.Code)
	}
	return nil
}
