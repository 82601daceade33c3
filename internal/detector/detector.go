// Package detector identifies the language of input text.
//
// Detection never fails loudly: every outcome is a Detection value, and a
// fallback Detection carries the default code together with the reason the
// detector could not decide.
package detector

import (
	"errors"
	"fmt"
	"strings"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/valpere/mtserve/internal"
)

var (
	ErrEmptyText      = errors.New("text is empty")
	ErrUndetermined   = errors.New("language could not be reliably determined")
	ErrLowConfidence  = errors.New("detection confidence below threshold")
	ErrNoISOCode      = errors.New("detected language has no ISO 639-1 code")
	ErrDetectorFailed = errors.New("language detector failed")
)

// Detection is the outcome of a single detection. When Fallback is true, Code
// holds the default language and Reason explains why.
type Detection struct {
	Code       string
	Confidence float64
	Fallback   bool
	Reason     error
}

func success(code string, confidence float64) Detection {
	return Detection{Code: code, Confidence: confidence}
}

func fallback(reason error) Detection {
	return Detection{Code: internal.DefaultSourceLang, Fallback: true, Reason: reason}
}

// Options restricts the detector. The zero value detects from all languages.
type Options struct {
	// Languages are ISO 639-1 codes; empty means all supported languages.
	Languages []string
	// MinConfidence in [0, 1]; results below it fall back to the default.
	MinConfidence float64
}

// Detector wraps a lingua-go detector. Building one is expensive; share it.
type Detector struct {
	detector      lingua.LanguageDetector
	minConfidence float64
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: detector}
}

// NewWithOptions builds a detector limited to opts.Languages.
func NewWithOptions(opts Options) (*Detector, error) {
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence must be within [0, 1], got %v", opts.MinConfidence)
	}
	if len(opts.Languages) == 0 {
		d := New()
		d.minConfidence = opts.MinConfidence
		return d, nil
	}

	languages := make([]lingua.Language, 0, len(opts.Languages))
	for _, code := range opts.Languages {
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(strings.TrimSpace(code)))
		lang := lingua.GetLanguageFromIsoCode639_1(iso)
		if lang == lingua.Unknown {
			return nil, fmt.Errorf("unsupported detector language: %q", code)
		}
		languages = append(languages, lang)
	}
	if len(languages) < 2 {
		return nil, fmt.Errorf("detector needs at least two languages, got %d", len(languages))
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		Build()

	return &Detector{detector: detector, minConfidence: opts.MinConfidence}, nil
}

// Detect returns the lowercase ISO 639-1 code of text, or a fallback.
func (d *Detector) Detect(text string) (det Detection) {
	defer func() {
		if r := recover(); r != nil {
			det = fallback(fmt.Errorf("%w: %v", ErrDetectorFailed, r))
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return fallback(ErrEmptyText)
	}

	var (
		lang       lingua.Language
		confidence float64
	)
	if d.minConfidence > 0 {
		values := d.detector.ComputeLanguageConfidenceValues(text)
		if len(values) == 0 {
			return fallback(ErrUndetermined)
		}
		lang, confidence = values[0].Language(), values[0].Value()
		if confidence < d.minConfidence {
			return fallback(fmt.Errorf("%w: %s at %.2f", ErrLowConfidence, lang, confidence))
		}
	} else {
		var ok bool
		lang, ok = d.detector.DetectLanguageOf(text)
		if !ok {
			return fallback(ErrUndetermined)
		}
		confidence = 1
	}

	if lang == lingua.Unknown {
		return fallback(ErrUndetermined)
	}
	code := strings.ToLower(lang.IsoCode639_1().String())
	if len(code) != 2 {
		return fallback(fmt.Errorf("%w: %s", ErrNoISOCode, lang))
	}
	return success(code, confidence)
}
