package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valpere/mtserve/internal/runtime"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mtserve.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		// An explicitly named file that does not exist is an error.
		t.Fatalf("expected error for missing explicit config file, got %+v", cfg)
	}

	t.Chdir(t.TempDir())
	cfg, err = Load(New(""))
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}
	if cfg.Server.Addr != ":5000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Runtime.Device != runtime.DeviceAuto {
		t.Errorf("runtime.device = %q", cfg.Runtime.Device)
	}
	if cfg.Runtime.BreakerFailures != 5 {
		t.Errorf("runtime.breaker_failures = %d", cfg.Runtime.BreakerFailures)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("server.shutdown_timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Models.Cache {
		t.Error("model cache should be off by default")
	}
	if cfg.Runtime.MaxNewTokens != 0 || cfg.Runtime.NumBeams != 0 {
		t.Errorf("generation overrides should default to the model's settings, got max_new_tokens=%d num_beams=%d",
			cfg.Runtime.MaxNewTokens, cfg.Runtime.NumBeams)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, ok := reg.Lookup("en", "fr"); !ok {
		t.Error("default registry should contain en-fr")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  read_timeout: 5s
log:
  level: debug
  format: console
runtime:
  device: cuda
models:
  cache: true
  registry:
    de-en: Helsinki-NLP/opus-mt-de-en
detector:
  languages: [en, de]
  min_confidence: 0.5
`)

	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if !cfg.Models.Cache {
		t.Error("models.cache should be true")
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if id, ok := reg.Lookup("de", "en"); !ok || id != "Helsinki-NLP/opus-mt-de-en" {
		t.Errorf("Lookup(de, en) = %q, %v", id, ok)
	}
	if _, ok := reg.Lookup("en", "fr"); ok {
		t.Error("configured registry should replace the built-in one")
	}

	opts := cfg.Detector.Options()
	if len(opts.Languages) != 2 || opts.MinConfidence != 0.5 {
		t.Errorf("detector options = %+v", opts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MTSERVE_SERVER_ADDR", ":7000")
	t.Setenv("MTSERVE_RUNTIME_DEVICE", "cpu")
	t.Setenv("HF_TOKEN", "hf_secret")

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Runtime.Device != "cpu" {
		t.Errorf("runtime.device = %q", cfg.Runtime.Device)
	}
	if cfg.Hub.Token != "hf_secret" {
		t.Errorf("hub.token = %q", cfg.Hub.Token)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"device", "runtime:\n  device: tpu\n", "runtime.device"},
		{"confidence", "detector:\n  min_confidence: 2\n", "detector.min_confidence"},
		{"detector language", "detector:\n  languages: [english]\n", "detector.languages"},
		{"registry key", "models:\n  registry:\n    enfr: some/model\n", "models.registry"},
		{"registry model", "models:\n  registry:\n    en-fr: \"\"\n", "models.registry"},
		{"body limit", "server:\n  max_body_bytes: -1\n", "server.max_body_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(writeConfig(t, tt.body)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}
