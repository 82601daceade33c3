package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// GenerationConfig is the part of a model's config.json that steers
// generation. Nil ids were not published by the model.
type GenerationConfig struct {
	DecoderStartTokenID *int
	EOSTokenID          *int
	PadTokenID          *int
	MaxLength           int
	NumBeams            int
}

// ParseGenerationConfig decodes config.json. Token ids may be a single
// number or a list, in which case the first entry is used.
func ParseGenerationConfig(data []byte) (GenerationConfig, error) {
	var raw struct {
		DecoderStartTokenID json.RawMessage `json:"decoder_start_token_id"`
		EOSTokenID          json.RawMessage `json:"eos_token_id"`
		PadTokenID          json.RawMessage `json:"pad_token_id"`
		MaxLength           int             `json:"max_length"`
		NumBeams            int             `json:"num_beams"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return GenerationConfig{}, fmt.Errorf("failed to parse model config: %w", err)
	}
	if raw.MaxLength < 0 || raw.NumBeams < 0 {
		return GenerationConfig{}, fmt.Errorf("model config: max_length and num_beams must not be negative")
	}

	cfg := GenerationConfig{MaxLength: raw.MaxLength, NumBeams: raw.NumBeams}
	var err error
	if cfg.DecoderStartTokenID, err = tokenID("decoder_start_token_id", raw.DecoderStartTokenID); err != nil {
		return GenerationConfig{}, err
	}
	if cfg.EOSTokenID, err = tokenID("eos_token_id", raw.EOSTokenID); err != nil {
		return GenerationConfig{}, err
	}
	if cfg.PadTokenID, err = tokenID("pad_token_id", raw.PadTokenID); err != nil {
		return GenerationConfig{}, err
	}
	return cfg, nil
}

// LoadGenerationConfig reads and parses config.json.
func LoadGenerationConfig(path string) (GenerationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GenerationConfig{}, fmt.Errorf("failed to read model config: %w", err)
	}
	return ParseGenerationConfig(data)
}

func tokenID(field string, raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var id int
	if err := json.Unmarshal(raw, &id); err == nil {
		return &id, nil
	}
	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("model config: invalid %s %s", field, raw)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return &ids[0], nil
}
