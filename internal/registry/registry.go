// Package registry maps language pairs to pretrained model identifiers.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

var defaultModels = map[string]string{
	"en-fr": "Helsinki-NLP/opus-mt-en-fr",
	"en-hi": "Helsinki-NLP/opus-mt-en-hi",
	"en-es": "Helsinki-NLP/opus-mt-en-es",
	"en-ru": "Helsinki-NLP/opus-mt-en-ru",
	"en-de": "Helsinki-NLP/opus-mt-en-de",
}

// Pair is a single directional translation capability.
type Pair struct {
	Source  string
	Target  string
	ModelID string
}

func (p Pair) Key() string {
	return Key(p.Source, p.Target)
}

// Key builds the lookup key for a source-target pair.
func Key(source, target string) string {
	return source + "-" + target
}

// Registry is immutable once built and safe for concurrent use.
type Registry struct {
	models map[string]string
}

// Default returns the built-in English-source table.
func Default() *Registry {
	r, err := New(defaultModels)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultModels returns a copy of the built-in table.
func DefaultModels() map[string]string {
	out := make(map[string]string, len(defaultModels))
	for k, v := range defaultModels {
		out[k] = v
	}
	return out
}

// New validates models and returns a registry holding its own copy.
func New(models map[string]string) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("model registry is empty")
	}

	copied := make(map[string]string, len(models))
	for key, modelID := range models {
		key = strings.ToLower(strings.TrimSpace(key))
		source, target, ok := strings.Cut(key, "-")
		if !ok || source == "" || target == "" {
			return nil, fmt.Errorf("invalid language pair %q: expected source-target", key)
		}
		for _, code := range []string{source, target} {
			if _, err := language.ParseBase(code); err != nil {
				return nil, fmt.Errorf("invalid language pair %q: %w", key, err)
			}
		}
		modelID = strings.TrimSpace(modelID)
		if modelID == "" {
			return nil, fmt.Errorf("language pair %q has no model identifier", key)
		}
		if _, dup := copied[key]; dup {
			return nil, fmt.Errorf("duplicate language pair %q", key)
		}
		copied[key] = modelID
	}

	return &Registry{models: copied}, nil
}

// Lookup returns the model for source→target. The key is consulted exactly
// once; reverse pairs are never tried.
func (r *Registry) Lookup(source, target string) (string, bool) {
	modelID, ok := r.models[Key(source, target)]
	return modelID, ok
}

func (r *Registry) Len() int {
	return len(r.models)
}

// Pairs returns every registered pair sorted by key.
func (r *Registry) Pairs() []Pair {
	pairs := make([]Pair, 0, len(r.models))
	for key, modelID := range r.models {
		source, target, _ := strings.Cut(key, "-")
		pairs = append(pairs, Pair{Source: source, Target: target, ModelID: modelID})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key() < pairs[j].Key() })
	return pairs
}

// ModelIDs returns the distinct model identifiers, sorted.
func (r *Registry) ModelIDs() []string {
	seen := make(map[string]struct{}, len(r.models))
	ids := make([]string, 0, len(r.models))
	for _, id := range r.models {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
