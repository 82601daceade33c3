package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/valpere/mtserve/internal"
	"github.com/valpere/mtserve/internal/detector"
	"github.com/valpere/mtserve/internal/model"
	"github.com/valpere/mtserve/internal/registry"
)

type mockDetector struct {
	detectFunc func(text string) detector.Detection
}

func (m *mockDetector) Detect(text string) detector.Detection {
	return m.detectFunc(text)
}

func detectAs(code string) *mockDetector {
	return &mockDetector{detectFunc: func(string) detector.Detection {
		return detector.Detection{Code: code, Confidence: 1}
	}}
}

type mockModel struct {
	id            string
	translateFunc func(ctx context.Context, text string) (string, error)
}

func (m *mockModel) ModelID() string { return m.id }
func (m *mockModel) Device() string  { return "cpu" }

func (m *mockModel) Translate(ctx context.Context, text string) (string, error) {
	if m.translateFunc != nil {
		return m.translateFunc(ctx, text)
	}
	return "Bonjour le monde", nil
}

type mockSource struct {
	acquired  atomic.Int32
	released  atomic.Int32
	lastModel string
	err       error
	model     *mockModel
}

func (s *mockSource) Acquire(ctx context.Context, modelID string) (model.Model, func(), error) {
	s.acquired.Add(1)
	s.lastModel = modelID
	if s.err != nil {
		return nil, nil, s.err
	}
	m := s.model
	if m == nil {
		m = &mockModel{id: modelID}
	}
	return m, func() { s.released.Add(1) }, nil
}

func newRequest(text, target string) internal.TranslationRequest {
	return internal.TranslationRequest{ID: "req-1", Text: text, TargetLang: target}
}

func TestOrchestrator_Translate(t *testing.T) {
	src := &mockSource{}
	o := New(registry.Default(), detectAs("en"), src, nil)

	res, err := o.Translate(context.Background(), newRequest("Hello world", "fr"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TranslatedText != "Bonjour le monde" {
		t.Errorf("TranslatedText = %q", res.TranslatedText)
	}
	if res.SourceLang != "en" || res.TargetLang != "fr" {
		t.Errorf("unexpected languages: %s-%s", res.SourceLang, res.TargetLang)
	}
	if res.ModelID != "Helsinki-NLP/opus-mt-en-fr" || src.lastModel != res.ModelID {
		t.Errorf("unexpected model: %q (acquired %q)", res.ModelID, src.lastModel)
	}
	if !res.Detected {
		t.Error("expected Detected to be true")
	}
	if src.released.Load() != 1 {
		t.Error("model should be released after translation")
	}
}

func TestOrchestrator_Translate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		target  string
		wantMsg string
	}{
		{"empty text", "", "fr", "Input text cannot be empty"},
		{"whitespace text", "  \n\t ", "fr", "Input text cannot be empty"},
		{"missing target", "Hello", "", "Target language must be specified"},
		{"whitespace target", "Hello", "  ", "Target language must be specified"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{}
			o := New(registry.Default(), detectAs("en"), src, nil)

			_, err := o.Translate(context.Background(), newRequest(tt.text, tt.target))
			var ve *internal.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", ve.Msg, tt.wantMsg)
			}
			if src.acquired.Load() != 0 {
				t.Error("no model should be loaded for invalid input")
			}
		})
	}
}

func TestOrchestrator_Translate_UnsupportedPair(t *testing.T) {
	src := &mockSource{}
	o := New(registry.Default(), detectAs("fr"), src, nil)

	_, err := o.Translate(context.Background(), newRequest("Bonjour", "xx"))

	var ue *internal.UnsupportedPairError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedPairError, got %v", err)
	}
	if ue.Source != "fr" || ue.Target != "xx" {
		t.Errorf("unexpected pair: %s-%s", ue.Source, ue.Target)
	}
	if !internal.IsValidation(err) {
		t.Error("unsupported pair should be validation-class")
	}
	if !strings.Contains(err.Error(), "fr") || !strings.Contains(err.Error(), "xx") {
		t.Errorf("message %q should name both codes", err.Error())
	}
	if src.acquired.Load() != 0 {
		t.Error("no model should be loaded for an unsupported pair")
	}
}

func TestOrchestrator_Translate_TargetNotTrimmed(t *testing.T) {
	for _, target := range []string{" fr", "fr ", "FR"} {
		src := &mockSource{}
		o := New(registry.Default(), detectAs("en"), src, nil)

		_, err := o.Translate(context.Background(), newRequest("Hello world", target))

		var ue *internal.UnsupportedPairError
		if !errors.As(err, &ue) {
			t.Fatalf("target %q: expected UnsupportedPairError, got %v", target, err)
		}
		if ue.Target != target {
			t.Errorf("target %q reported as %q", target, ue.Target)
		}
		if src.acquired.Load() != 0 {
			t.Errorf("target %q: no model should be loaded", target)
		}
	}
}

func TestOrchestrator_Translate_NoReversePair(t *testing.T) {
	o := New(registry.Default(), detectAs("fr"), &mockSource{}, nil)

	_, err := o.Translate(context.Background(), newRequest("Bonjour le monde", "en"))
	var ue *internal.UnsupportedPairError
	if !errors.As(err, &ue) {
		t.Fatalf("fr-en must be unsupported even though en-fr exists, got %v", err)
	}
}

func TestOrchestrator_Translate_DetectionFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := &mockSource{}
	det := &mockDetector{detectFunc: func(string) detector.Detection {
		return detector.Detection{Code: "en", Fallback: true, Reason: detector.ErrUndetermined}
	}}
	o := New(registry.Default(), det, src, zap.New(core))

	res, err := o.Translate(context.Background(), newRequest("???", "de"))
	if err != nil {
		t.Fatalf("detection failure must not surface, got %v", err)
	}
	if res.SourceLang != "en" || res.Detected {
		t.Errorf("expected fallback to en, got %s (detected=%v)", res.SourceLang, res.Detected)
	}
	if src.lastModel != "Helsinki-NLP/opus-mt-en-de" {
		t.Errorf("unexpected model: %q", src.lastModel)
	}
	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Errorf("expected one warning, got %d", logs.FilterLevelExact(zapcore.WarnLevel).Len())
	}
}

func TestOrchestrator_Translate_DetectorPanics(t *testing.T) {
	det := &mockDetector{detectFunc: func(string) detector.Detection {
		panic("detector exploded")
	}}
	o := New(registry.Default(), det, &mockSource{}, nil)

	res, err := o.Translate(context.Background(), newRequest("Hello world", "fr"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SourceLang != "en" {
		t.Errorf("SourceLang = %q, want en", res.SourceLang)
	}
}

func TestOrchestrator_Translate_EmptyDetectionCode(t *testing.T) {
	det := &mockDetector{detectFunc: func(string) detector.Detection { return detector.Detection{} }}
	o := New(registry.Default(), det, &mockSource{}, nil)

	res, err := o.Translate(context.Background(), newRequest("Hello world", "es"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SourceLang != "en" || res.Detected {
		t.Errorf("expected fallback to en, got %+v", res)
	}
}

func TestOrchestrator_Translate_ModelLoadError(t *testing.T) {
	cause := errors.New("hub unreachable")
	src := &mockSource{err: cause}
	o := New(registry.Default(), detectAs("en"), src, nil)

	_, err := o.Translate(context.Background(), newRequest("Hello world", "fr"))

	var le *internal.ModelLoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("ModelLoadError should wrap its cause")
	}
	if internal.IsValidation(err) {
		t.Error("model load failures are not validation-class")
	}
	if src.acquired.Load() != 1 {
		t.Errorf("expected exactly one load attempt, got %d", src.acquired.Load())
	}
}

func TestOrchestrator_Translate_InferenceError(t *testing.T) {
	src := &mockSource{model: &mockModel{
		id: "m",
		translateFunc: func(ctx context.Context, text string) (string, error) {
			return "", errors.New("generation failed")
		},
	}}
	o := New(registry.Default(), detectAs("en"), src, nil)

	_, err := o.Translate(context.Background(), newRequest("Hello world", "fr"))

	var ie *internal.InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if src.released.Load() != 1 {
		t.Error("model should be released after a failed inference")
	}
}

func TestOrchestrator_Translate_IndependentRequests(t *testing.T) {
	src := &mockSource{}
	o := New(registry.Default(), detectAs("en"), src, nil)
	req := newRequest("Hello world", "ru")

	first, err := o.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("first translation failed: %v", err)
	}
	second, err := o.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("second translation failed: %v", err)
	}

	if first.TranslatedText != second.TranslatedText {
		t.Errorf("identical requests gave different results: %q vs %q", first.TranslatedText, second.TranslatedText)
	}
	if src.acquired.Load() != 2 || src.released.Load() != 2 {
		t.Errorf("each request should acquire and release its own model: acquired=%d released=%d",
			src.acquired.Load(), src.released.Load())
	}
}

type checkerFunc func(translated, target string) error

func (f checkerFunc) Check(translated, target string) error { return f(translated, target) }

func TestOrchestrator_Translate_OutputCheck(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var checked string
	checker := checkerFunc(func(translated, target string) error {
		checked = translated
		return errors.New("expected fr but detected en")
	})
	o := New(registry.Default(), detectAs("en"), &mockSource{}, zap.New(core), WithOutputCheck(checker))

	res, err := o.Translate(context.Background(), newRequest("Hello world", "fr"))
	if err != nil {
		t.Fatalf("a failed output check must not fail the request, got %v", err)
	}
	if res.TranslatedText != "Bonjour le monde" || checked != res.TranslatedText {
		t.Errorf("checker saw %q, result %q", checked, res.TranslatedText)
	}
	warnings := logs.FilterMessage("Translation output failed language check").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one language check warning, got %d", len(warnings))
	}
}
