package model

import (
	"path/filepath"
	"testing"
)

func intValue(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func TestParseGenerationConfig(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantStart interface{}
		wantEOS   interface{}
		wantPad   interface{}
		wantMax   int
		wantBeams int
	}{
		{
			name:      "marian config",
			data:      `{"model_type":"marian","decoder_start_token_id":59513,"eos_token_id":0,"pad_token_id":59513,"max_length":512,"num_beams":4}`,
			wantStart: 59513, wantEOS: 0, wantPad: 59513, wantMax: 512, wantBeams: 4,
		},
		{
			name:    "eos list",
			data:    `{"eos_token_id":[0,1]}`,
			wantEOS: 0,
		},
		{
			name: "nothing published",
			data: `{"model_type":"marian","decoder_start_token_id":null,"eos_token_id":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseGenerationConfig([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseGenerationConfig failed: %v", err)
			}
			if got := intValue(cfg.DecoderStartTokenID); got != tt.wantStart {
				t.Errorf("decoder_start_token_id = %v, want %v", got, tt.wantStart)
			}
			if got := intValue(cfg.EOSTokenID); got != tt.wantEOS {
				t.Errorf("eos_token_id = %v, want %v", got, tt.wantEOS)
			}
			if got := intValue(cfg.PadTokenID); got != tt.wantPad {
				t.Errorf("pad_token_id = %v, want %v", got, tt.wantPad)
			}
			if cfg.MaxLength != tt.wantMax || cfg.NumBeams != tt.wantBeams {
				t.Errorf("max_length=%d num_beams=%d, want %d and %d", cfg.MaxLength, cfg.NumBeams, tt.wantMax, tt.wantBeams)
			}
		})
	}
}

func TestParseGenerationConfig_Invalid(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{"decoder_start_token_id":"pad"}`,
		`{"max_length":-1}`,
		`{"num_beams":-2}`,
	} {
		if _, err := ParseGenerationConfig([]byte(data)); err == nil {
			t.Errorf("expected error for %s", data)
		}
	}
}

func TestLoadGenerationConfig_Missing(t *testing.T) {
	if _, err := LoadGenerationConfig(filepath.Join(t.TempDir(), "config.json")); err == nil {
		t.Error("expected error for missing config.json")
	}
}
