package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/valpere/mtserve/internal"
)

const (
	msgNoInput        = "No input data provided"
	msgTextNotString  = "Input text must be a string"
	msgTextRequired   = "Text is required"
	msgTargetRequired = "Target language is required"
	msgUnexpected     = "An unexpected error occurred during translation"
)

// Translator is satisfied by *orchestrator.Orchestrator.
type Translator interface {
	Translate(ctx context.Context, req internal.TranslationRequest) (*internal.TranslationResult, error)
}

type TranslateResponse struct {
	TranslatedText string `json:"translated_text"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// TranslateHandler serves POST /translate.
type TranslateHandler struct {
	translator Translator
}

func NewTranslateHandler(translator Translator) *TranslateHandler {
	return &TranslateHandler{translator: translator}
}

// Translate handles POST /translate.
func (h *TranslateHandler) Translate(c *gin.Context) {
	req, err := parseRequest(c)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, err, err.Error())
		return
	}
	req.ID = requestID(c)
	req.ReceivedAt = time.Now()
	c.Set(ctxTargetLang, req.TargetLang)

	result, err := h.translator.Translate(c.Request.Context(), req)
	if err != nil {
		if internal.IsValidation(err) {
			h.respondError(c, http.StatusBadRequest, err, err.Error())
			return
		}
		h.respondError(c, http.StatusInternalServerError, err, msgUnexpected)
		return
	}

	c.Set(ctxSourceLang, result.SourceLang)
	c.Set(ctxModel, result.ModelID)
	c.Set(ctxDevice, result.Device)
	c.JSON(http.StatusOK, TranslateResponse{TranslatedText: result.TranslatedText})
}

// parseRequest reads the JSON body. Field types are checked by hand: an empty
// value of any JSON type (null, "", 0, false, [], {}) counts as missing, any
// other non-string text is a type error.
func parseRequest(c *gin.Context) (internal.TranslationRequest, error) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		return internal.TranslationRequest{}, internal.NewValidationError(msgNoInput)
	}

	rawText := body["text"]
	if isEmptyValue(rawText) {
		return internal.TranslationRequest{}, internal.NewValidationError(msgTextRequired)
	}
	text, ok := rawText.(string)
	if !ok {
		return internal.TranslationRequest{}, internal.NewValidationError(msgTextNotString)
	}
	if strings.TrimSpace(text) == "" {
		return internal.TranslationRequest{}, internal.NewValidationError(msgTextRequired)
	}

	target, _ := body["target_lang"].(string)
	if strings.TrimSpace(target) == "" {
		return internal.TranslationRequest{}, internal.NewValidationError(msgTargetRequired)
	}

	return internal.TranslationRequest{Text: text, TargetLang: target}, nil
}

func isEmptyValue(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// respondError sends message to the client and records err for the request log.
func (h *TranslateHandler) respondError(c *gin.Context, status int, err error, message string) {
	if err == nil {
		err = errors.New(message)
	}
	_ = c.Error(err)
	c.JSON(status, ErrorResponse{Error: message})
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get(ctxRequestID); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.NewString()
}
