// Package tokenizer implements the vocabulary side of a Marian translation
// model: text → padded id batches on the way in and ids → text on the way out.
//
// Text is segmented with the model's source SentencePiece unigram model and
// the resulting pieces are mapped to ids through vocab.json, which Marian
// models share between source and target.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// WordBoundary is the SentencePiece meta symbol that starts every word piece.
const WordBoundary = "▁"

const (
	DefaultPadToken  = "<pad>"
	DefaultEOSToken  = "</s>"
	DefaultUnkToken  = "<unk>"
	DefaultMaxLength = 512
)

// Config mirrors the fields of tokenizer_config.json the tokenizer needs.
type Config struct {
	ModelMaxLength          int
	PadToken                string
	EOSToken                string
	UnkToken                string
	AdditionalSpecialTokens []string
}

// Override returns c with every field o sets replacing the one in c.
func (c Config) Override(o Config) Config {
	if o.ModelMaxLength != 0 {
		c.ModelMaxLength = o.ModelMaxLength
	}
	if o.PadToken != "" {
		c.PadToken = o.PadToken
	}
	if o.EOSToken != "" {
		c.EOSToken = o.EOSToken
	}
	if o.UnkToken != "" {
		c.UnkToken = o.UnkToken
	}
	if len(o.AdditionalSpecialTokens) > 0 {
		c.AdditionalSpecialTokens = o.AdditionalSpecialTokens
	}
	return c
}

// Batch is the tokenized form of one or more texts, padded to equal length.
type Batch struct {
	InputIDs      [][]int `json:"input_ids"`
	AttentionMask [][]int `json:"attention_mask"`
}

// Segmenter splits text into SentencePiece pieces. *sentencepiece.Sentencepiece
// implements it.
type Segmenter interface {
	Tokenize(text string) []sentencepiece.Token
	GetUnknownIndex() int32
}

type Tokenizer struct {
	seg        Segmenter
	vocab      map[string]int
	pieces     map[int]string
	special    map[int]struct{}
	maxLength  int
	padID      int
	eosID      int
	unkID      int
	specialStr []string
}

// New builds a tokenizer from a segmenter and a piece→id vocabulary. The pad,
// eos and unk tokens must be present in vocab.
func New(seg Segmenter, vocab map[string]int, cfg Config) (*Tokenizer, error) {
	if seg == nil {
		return nil, fmt.Errorf("segmenter is nil")
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	if cfg.ModelMaxLength == 0 {
		cfg.ModelMaxLength = DefaultMaxLength
	}
	if cfg.ModelMaxLength < 2 {
		return nil, fmt.Errorf("model max length must be at least 2, got %d", cfg.ModelMaxLength)
	}
	if cfg.PadToken == "" {
		cfg.PadToken = DefaultPadToken
	}
	if cfg.EOSToken == "" {
		cfg.EOSToken = DefaultEOSToken
	}
	if cfg.UnkToken == "" {
		cfg.UnkToken = DefaultUnkToken
	}

	t := &Tokenizer{
		seg:       seg,
		vocab:     make(map[string]int, len(vocab)),
		pieces:    make(map[int]string, len(vocab)),
		special:   make(map[int]struct{}),
		maxLength: cfg.ModelMaxLength,
	}
	for piece, id := range vocab {
		t.vocab[piece] = id
		t.pieces[id] = piece
	}

	var err error
	if t.padID, err = t.specialID(cfg.PadToken); err != nil {
		return nil, err
	}
	if t.eosID, err = t.specialID(cfg.EOSToken); err != nil {
		return nil, err
	}
	if t.unkID, err = t.specialID(cfg.UnkToken); err != nil {
		return nil, err
	}
	for _, tok := range cfg.AdditionalSpecialTokens {
		if _, err := t.specialID(tok); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Tokenizer) specialID(token string) (int, error) {
	id, ok := t.vocab[token]
	if !ok {
		return 0, fmt.Errorf("special token %q is not in the vocabulary", token)
	}
	t.special[id] = struct{}{}
	t.specialStr = append(t.specialStr, token)
	return id, nil
}

// Files names the tokenizer artifacts of one model. SourceModel and Vocab are
// required; the two JSON configs are read when set.
type Files struct {
	SourceModel      string
	Vocab            string
	TokenizerConfig  string
	SpecialTokensMap string
}

// Load builds a tokenizer from files on disk. Entries of special_tokens_map.json
// take precedence over the same entries in tokenizer_config.json.
func Load(files Files) (*Tokenizer, error) {
	seg, err := sentencepiece.NewSentencepieceFromFile(files.SourceModel, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentencepiece model: %w", err)
	}

	data, err := os.ReadFile(files.Vocab)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	var vocab map[string]int
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}

	var cfg Config
	for _, path := range []string{files.TokenizerConfig, files.SpecialTokensMap} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tokenizer config: %w", err)
		}
		parsed, err := ParseConfig(data)
		if err != nil {
			return nil, err
		}
		cfg = cfg.Override(parsed)
	}

	return New(&seg, vocab, cfg)
}

// ParseConfig decodes tokenizer_config.json. Special tokens may be plain
// strings or objects with a "content" field.
func ParseConfig(data []byte) (Config, error) {
	var raw struct {
		ModelMaxLength          float64           `json:"model_max_length"`
		PadToken                json.RawMessage   `json:"pad_token"`
		EOSToken                json.RawMessage   `json:"eos_token"`
		UnkToken                json.RawMessage   `json:"unk_token"`
		AdditionalSpecialTokens []json.RawMessage `json:"additional_special_tokens"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse tokenizer config: %w", err)
	}

	cfg := Config{}
	// Tokenizers without a limit publish a huge sentinel value.
	if raw.ModelMaxLength > 0 && raw.ModelMaxLength <= 1_000_000 {
		cfg.ModelMaxLength = int(raw.ModelMaxLength)
	}
	var err error
	if cfg.PadToken, err = tokenContent(raw.PadToken); err != nil {
		return Config{}, err
	}
	if cfg.EOSToken, err = tokenContent(raw.EOSToken); err != nil {
		return Config{}, err
	}
	if cfg.UnkToken, err = tokenContent(raw.UnkToken); err != nil {
		return Config{}, err
	}
	for _, r := range raw.AdditionalSpecialTokens {
		tok, err := tokenContent(r)
		if err != nil {
			return Config{}, err
		}
		if tok != "" {
			cfg.AdditionalSpecialTokens = append(cfg.AdditionalSpecialTokens, tok)
		}
	}
	return cfg, nil
}

func tokenContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("invalid special token %s: %w", raw, err)
	}
	return obj.Content, nil
}

func (t *Tokenizer) PadID() int { return t.padID }
func (t *Tokenizer) EOSID() int { return t.eosID }
func (t *Tokenizer) UnkID() int { return t.unkID }

// MaxLength is the longest row Encode produces, eos included.
func (t *Tokenizer) MaxLength() int { return t.maxLength }

// SpecialTokens returns the literal spelling of every special token.
func (t *Tokenizer) SpecialTokens() []string {
	out := make([]string, len(t.specialStr))
	copy(out, t.specialStr)
	return out
}

// IsSpecial reports whether id is a padding, control or configured special token.
func (t *Tokenizer) IsSpecial(id int) bool {
	_, ok := t.special[id]
	return ok
}

// Encode tokenizes texts with truncation to MaxLength and pads every row to
// the longest one.
func (t *Tokenizer) Encode(texts ...string) *Batch {
	batch := &Batch{
		InputIDs:      make([][]int, len(texts)),
		AttentionMask: make([][]int, len(texts)),
	}

	longest := 0
	for i, text := range texts {
		ids := t.tokenize(text)
		if len(ids) > t.maxLength-1 {
			ids = ids[:t.maxLength-1]
		}
		ids = append(ids, t.eosID)
		batch.InputIDs[i] = ids
		if len(ids) > longest {
			longest = len(ids)
		}
	}

	for i, ids := range batch.InputIDs {
		mask := make([]int, longest)
		for j := range ids {
			mask[j] = 1
		}
		for len(ids) < longest {
			ids = append(ids, t.padID)
		}
		batch.InputIDs[i] = ids
		batch.AttentionMask[i] = mask
	}

	return batch
}

// tokenize maps the pieces of one text to vocabulary ids. Pieces the
// segmenter cannot cover, pieces missing from vocab.json and pieces that
// spell a special token all become unk, so user text never yields a control id.
func (t *Tokenizer) tokenize(text string) []int {
	// SentencePiece drops leading, trailing and repeated whitespace.
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	unknown := t.seg.GetUnknownIndex()
	tokens := t.seg.Tokenize(text)
	ids := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		id, ok := t.vocab[tok.Text]
		if tok.ID == unknown || !ok || t.IsSpecial(id) {
			id = t.unkID
		}
		ids = append(ids, id)
	}
	return ids
}

// Decode maps ids back to text. With skipSpecial every special token is
// dropped; otherwise they are rendered verbatim.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) string {
	var sb strings.Builder
	for _, id := range ids {
		if skipSpecial && t.IsSpecial(id) {
			continue
		}
		piece, ok := t.pieces[id]
		if !ok {
			if skipSpecial {
				continue
			}
			piece = t.pieces[t.unkID]
		}
		sb.WriteString(piece)
	}
	return strings.TrimSpace(strings.ReplaceAll(sb.String(), WordBoundary, " "))
}
