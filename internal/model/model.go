// Package model turns a model identifier into a ready-to-use translation
// model: tokenizer artifacts from the hub, weights placed on one device by
// the inference runtime.
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/mtserve/internal/hub"
	"github.com/valpere/mtserve/internal/postprocess"
	"github.com/valpere/mtserve/internal/runtime"
	"github.com/valpere/mtserve/internal/tokenizer"
)

// Repository resolves a model identifier to local tokenizer artifacts.
type Repository interface {
	FetchModel(ctx context.Context, modelID string) (*hub.Snapshot, error)
}

// Runtime places models on a device and runs generation.
type Runtime interface {
	SelectDevice(ctx context.Context, preference string) (runtime.Device, error)
	LoadModel(ctx context.Context, modelID string, device runtime.Device) (string, error)
	Generate(ctx context.Context, req runtime.GenerateRequest) ([][]int, error)
	Unload(ctx context.Context, handle string) error
}

// Model is a loaded translation model.
type Model interface {
	ModelID() string
	Device() string
	Translate(ctx context.Context, text string) (string, error)
}

// Source hands out models. The returned release func must be called once
// the caller is done with the model.
type Source interface {
	Acquire(ctx context.Context, modelID string) (Model, func(), error)
}

// Loaded is a tokenizer plus a runtime handle on exactly one device.
type Loaded struct {
	modelID string
	device  runtime.Device
	handle  string
	tok     *tokenizer.Tokenizer
	gen     GenerationConfig
	rt      Runtime

	closeOnce sync.Once
	closeErr  error
}

func (m *Loaded) ModelID() string { return m.modelID }
func (m *Loaded) Device() string  { return m.device.Name }

// Translate tokenizes text with padding and truncation, generates on the
// model's device with the model's own generation settings and decodes with
// special tokens suppressed.
func (m *Loaded) Translate(ctx context.Context, text string) (string, error) {
	batch := m.tok.Encode(text)

	sequences, err := m.rt.Generate(ctx, runtime.GenerateRequest{
		Handle:              m.handle,
		InputIDs:            batch.InputIDs,
		AttentionMask:       batch.AttentionMask,
		DecoderStartTokenID: m.gen.DecoderStartTokenID,
		EOSTokenID:          m.gen.EOSTokenID,
		PadTokenID:          m.gen.PadTokenID,
		MaxLength:           m.gen.MaxLength,
		NumBeams:            m.gen.NumBeams,
	})
	if err != nil {
		return "", err
	}
	if len(sequences) == 0 {
		return "", fmt.Errorf("runtime returned no output sequence")
	}

	decoded := m.tok.Decode(sequences[0], true)
	return postprocess.Clean(decoded, m.tok.SpecialTokens()...), nil
}

// Close releases the runtime handle. Safe to call more than once.
func (m *Loaded) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closeErr = m.rt.Unload(ctx, m.handle)
	})
	return m.closeErr
}

// Loader builds a fresh Loaded for every call.
type Loader struct {
	repo   Repository
	rt     Runtime
	device string
	logger *zap.Logger
}

// NewLoader creates a Loader. device is a runtime device preference such as
// "auto", "cpu" or "cuda".
func NewLoader(repo Repository, rt Runtime, device string, logger *zap.Logger) *Loader {
	if device == "" {
		device = runtime.DeviceAuto
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{repo: repo, rt: rt, device: device, logger: logger}
}

// Load fetches tokenizer artifacts, selects a device and loads the model in
// inference mode.
func (l *Loader) Load(ctx context.Context, modelID string) (*Loaded, error) {
	start := time.Now()

	snap, err := l.repo.FetchModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifacts: %w", err)
	}

	gen, err := LoadGenerationConfig(snap.Path(hub.ConfigFile))
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.Load(tokenizer.Files{
		SourceModel:      snap.Path(hub.SourceModelFile),
		Vocab:            snap.Path(hub.VocabFile),
		TokenizerConfig:  snap.Path(hub.TokenizerConfigFile),
		SpecialTokensMap: snap.Path(hub.SpecialTokensFile),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tokenizer: %w", err)
	}

	// Marian decoders start from the pad token.
	if gen.DecoderStartTokenID == nil {
		pad := tok.PadID()
		gen.DecoderStartTokenID = &pad
	}
	if gen.PadTokenID == nil {
		pad := tok.PadID()
		gen.PadTokenID = &pad
	}
	if gen.EOSTokenID == nil {
		eos := tok.EOSID()
		gen.EOSTokenID = &eos
	}

	device, err := l.rt.SelectDevice(ctx, l.device)
	if err != nil {
		return nil, fmt.Errorf("failed to select device: %w", err)
	}
	l.logger.Info("Using device", zap.String("model", modelID), zap.String("device", device.Name))

	handle, err := l.rt.LoadModel(ctx, modelID, device)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Translation model loaded",
		zap.String("model", modelID),
		zap.String("device", device.Name),
		zap.Duration("latency", time.Since(start)),
	)

	return &Loaded{
		modelID: modelID,
		device:  device,
		handle:  handle,
		tok:     tok,
		gen:     gen,
		rt:      l.rt,
	}, nil
}

// Acquire loads a new model owned by the caller. Release unloads it.
func (l *Loader) Acquire(ctx context.Context, modelID string) (Model, func(), error) {
	m, err := l.Load(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		// The request context may already be done; unloading must still happen.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := m.Close(ctx); err != nil {
			l.logger.Warn("Failed to unload model", zap.String("model", modelID), zap.Error(err))
		}
	}
	return m, release, nil
}
