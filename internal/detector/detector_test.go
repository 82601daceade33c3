package detector

import (
	"errors"
	"testing"
)

// Building a detector from all languages is slow; share one across tests.
var shared = New()

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCode     string
		wantFallback bool
	}{
		{
			name:         "empty text",
			text:         "",
			wantCode:     "en",
			wantFallback: true,
		},
		{
			name:         "whitespace only",
			text:         "   \n\t",
			wantCode:     "en",
			wantFallback: true,
		},
		{
			name:     "english text",
			text:     "Hello, this is a test in English.",
			wantCode: "en",
		},
		{
			name:     "german text",
			text:     "Hallo, das ist ein Test auf Deutsch.",
			wantCode: "de",
		},
		{
			name:     "french text",
			text:     "Bonjour, ceci est un test en français.",
			wantCode: "fr",
		},
		{
			name:     "russian text",
			text:     "Это тест на русском языке.",
			wantCode: "ru",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := shared.Detect(tt.text)
			if det.Fallback != tt.wantFallback {
				t.Fatalf("Detect(%q) fallback = %v, want %v (reason %v)", tt.text, det.Fallback, tt.wantFallback, det.Reason)
			}
			if det.Code != tt.wantCode {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, det.Code, tt.wantCode)
			}
		})
	}
}

func TestDetector_Detect_EmptyReason(t *testing.T) {
	det := shared.Detect("")
	if !errors.Is(det.Reason, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", det.Reason)
	}
}

func TestDetector_Detect_PunctuationOnly(t *testing.T) {
	det := shared.Detect("!!! ??? ...")
	if !det.Fallback {
		t.Errorf("expected fallback for punctuation-only text, got %q", det.Code)
	}
	if det.Code != "en" {
		t.Errorf("fallback code = %q, want en", det.Code)
	}
}

func TestDetector_Detect_Spanish(t *testing.T) {
	det := shared.Detect("Hola, esto es una prueba en español.")
	if det.Fallback {
		t.Fatalf("expected detection to succeed, got %v", det.Reason)
	}
	if det.Code != "es" {
		t.Errorf("Detect = %q, want es", det.Code)
	}

	if det := shared.Detect(""); !det.Fallback {
		t.Error("expected fallback on empty text")
	}
}

func TestNewWithOptions(t *testing.T) {
	d, err := NewWithOptions(Options{Languages: []string{"en", "fr"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if det := d.Detect("Bonjour, ceci est un test en français."); det.Fallback || det.Code != "fr" {
		t.Errorf("Detect = %q, fallback %v; want fr", det.Code, det.Fallback)
	}
}

func TestNewWithOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown code", Options{Languages: []string{"en", "zz"}}},
		{"single language", Options{Languages: []string{"en"}}},
		{"negative confidence", Options{MinConfidence: -0.1}},
		{"confidence above one", Options{MinConfidence: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWithOptions(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDetector_MinConfidence(t *testing.T) {
	d, err := NewWithOptions(Options{Languages: []string{"en", "de"}, MinConfidence: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "Hi" is too short to be certain of anything.
	det := d.Detect("Hi")
	if !det.Fallback {
		t.Skipf("detector was fully confident on %q; nothing to assert", "Hi")
	}
	if det.Code != "en" {
		t.Errorf("fallback code = %q, want en", det.Code)
	}
}
