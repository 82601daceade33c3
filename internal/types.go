package internal

import (
	"time"
)

// DefaultSourceLang is used whenever the source language cannot be detected.
const DefaultSourceLang = "en"

type TranslationRequest struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	TargetLang string    `json:"target_lang"`
	ReceivedAt time.Time `json:"received_at"`
}

type TranslationResult struct {
	TranslatedText string        `json:"translated_text"`
	SourceLang     string        `json:"source_lang"`
	TargetLang     string        `json:"target_lang"`
	ModelID        string        `json:"model_id"`
	Device         string        `json:"device"`
	Detected       bool          `json:"detected"`
	Latency        time.Duration `json:"latency"`
}
