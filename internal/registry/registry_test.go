package registry

import (
	"testing"
)

func TestDefault(t *testing.T) {
	r := Default()

	if r.Len() != 5 {
		t.Fatalf("expected 5 default pairs, got %d", r.Len())
	}

	modelID, ok := r.Lookup("en", "fr")
	if !ok {
		t.Fatal("expected en-fr to be registered")
	}
	if modelID != "Helsinki-NLP/opus-mt-en-fr" {
		t.Errorf("unexpected model for en-fr: %q", modelID)
	}
}

func TestLookup_NoReverseFallback(t *testing.T) {
	r := Default()

	if _, ok := r.Lookup("fr", "en"); ok {
		t.Error("fr-en must not resolve through the en-fr entry")
	}
	if _, ok := r.Lookup("fr", "xx"); ok {
		t.Error("unexpected match for fr-xx")
	}
}

func TestNew_CopiesInput(t *testing.T) {
	models := map[string]string{"en-fr": "model-a", "en-de": "model-b"}
	r, err := New(models)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	models["en-fr"] = "mutated"
	delete(models, "en-de")

	if got, _ := r.Lookup("en", "fr"); got != "model-a" {
		t.Errorf("registry changed after input mutation: %q", got)
	}
	if _, ok := r.Lookup("en", "de"); !ok {
		t.Error("registry lost en-de after input mutation")
	}
}

func TestNew_NormalizesKeys(t *testing.T) {
	r, err := New(map[string]string{" EN-FR ": " model-a "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := r.Lookup("en", "fr"); !ok || got != "model-a" {
		t.Errorf("Lookup = %q, %v", got, ok)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		models map[string]string
	}{
		{"empty", map[string]string{}},
		{"no separator", map[string]string{"enfr": "m"}},
		{"missing target", map[string]string{"en-": "m"}},
		{"invalid code", map[string]string{"en-123": "m"}},
		{"empty model", map[string]string{"en-fr": "  "}},
		{"duplicate after normalization", map[string]string{"en-fr": "a", "EN-FR": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.models); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPairs_Sorted(t *testing.T) {
	pairs := Default().Pairs()
	want := []string{"en-de", "en-es", "en-fr", "en-hi", "en-ru"}

	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i, p := range pairs {
		if p.Key() != want[i] {
			t.Errorf("pairs[%d] = %q, want %q", i, p.Key(), want[i])
		}
		if p.Source != "en" {
			t.Errorf("pairs[%d].Source = %q", i, p.Source)
		}
	}
}

func TestModelIDs_Distinct(t *testing.T) {
	r, err := New(map[string]string{"en-fr": "shared", "en-de": "shared", "en-es": "other"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := r.ModelIDs()
	if len(ids) != 2 || ids[0] != "other" || ids[1] != "shared" {
		t.Errorf("ModelIDs = %v", ids)
	}
}

func TestDefaultModels_ReturnsCopy(t *testing.T) {
	m := DefaultModels()
	m["en-fr"] = "changed"
	if got, _ := Default().Lookup("en", "fr"); got != "Helsinki-NLP/opus-mt-en-fr" {
		t.Errorf("default table was mutated: %q", got)
	}
}
