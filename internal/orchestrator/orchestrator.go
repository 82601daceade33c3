// Package orchestrator runs one translation end to end: validate, detect the
// source language, pick a model from the registry, load it, infer, decode.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/mtserve/internal"
	"github.com/valpere/mtserve/internal/detector"
	"github.com/valpere/mtserve/internal/model"
	"github.com/valpere/mtserve/internal/registry"
)

// LanguageDetector is satisfied by *detector.Detector.
type LanguageDetector interface {
	Detect(text string) detector.Detection
}

// OutputChecker is satisfied by *validator.Validator.
type OutputChecker interface {
	Check(translated, targetLang string) error
}

type Orchestrator struct {
	registry *registry.Registry
	detector LanguageDetector
	models   model.Source
	checker  OutputChecker
	logger   *zap.Logger
}

type Option func(*Orchestrator)

// WithOutputCheck logs a warning whenever a translation does not look like
// the target language. The response is still returned.
func WithOutputCheck(c OutputChecker) Option {
	return func(o *Orchestrator) { o.checker = c }
}

func New(reg *registry.Registry, det LanguageDetector, models model.Source, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry: reg,
		detector: det,
		models:   models,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Translate translates req.Text into req.TargetLang. Validation-class errors
// (see internal.IsValidation) are safe to show to clients; everything else is
// a *internal.ModelLoadError or *internal.InferenceError. Nothing is retried.
func (o *Orchestrator) Translate(ctx context.Context, req internal.TranslationRequest) (*internal.TranslationResult, error) {
	start := time.Now()
	logger := o.logger.With(zap.String("request_id", req.ID))

	if strings.TrimSpace(req.Text) == "" {
		return nil, internal.NewValidationError("Input text cannot be empty")
	}
	// The code is looked up exactly as sent; " fr" is not "fr".
	target := req.TargetLang
	if strings.TrimSpace(target) == "" {
		return nil, internal.NewValidationError("Target language must be specified")
	}

	det := o.detect(req.Text)
	if det.Fallback {
		logger.Warn("Language detection failed, using default source language",
			zap.String("default", det.Code),
			zap.Error(det.Reason),
		)
	}
	source := det.Code

	modelID, ok := o.registry.Lookup(source, target)
	if !ok {
		err := &internal.UnsupportedPairError{Source: source, Target: target}
		logger.Error(err.Error())
		return nil, err
	}

	m, release, err := o.models.Acquire(ctx, modelID)
	if err != nil {
		return nil, &internal.ModelLoadError{ModelID: modelID, Err: err}
	}
	defer release()

	translated, err := m.Translate(ctx, req.Text)
	if err != nil {
		return nil, &internal.InferenceError{ModelID: modelID, Err: err}
	}

	if o.checker != nil {
		if err := o.checker.Check(translated, target); err != nil {
			logger.Warn("Translation output failed language check",
				zap.String("model", modelID),
				zap.Error(err),
			)
		}
	}

	logger.Info("Successfully translated text",
		zap.String("source_lang", source),
		zap.String("target_lang", target),
		zap.String("model", modelID),
		zap.String("device", m.Device()),
	)

	return &internal.TranslationResult{
		TranslatedText: translated,
		SourceLang:     source,
		TargetLang:     target,
		ModelID:        modelID,
		Device:         m.Device(),
		Detected:       !det.Fallback,
		Latency:        time.Since(start),
	}, nil
}

// detect shields the flow from detectors that panic; a panic becomes a
// fallback like any other detection failure.
func (o *Orchestrator) detect(text string) (det detector.Detection) {
	defer func() {
		if r := recover(); r != nil {
			det = detector.Detection{
				Code:     internal.DefaultSourceLang,
				Fallback: true,
				Reason:   detector.ErrDetectorFailed,
			}
		}
	}()

	det = o.detector.Detect(text)
	if det.Code == "" {
		det.Code = internal.DefaultSourceLang
		det.Fallback = true
		if det.Reason == nil {
			det.Reason = detector.ErrUndetermined
		}
	}
	return det
}
