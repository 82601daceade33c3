// Package runtime talks to the model-serving runtime that holds model weights
// and executes generation. Tokenization stays on this side of the wire; the
// runtime only ever sees token ids.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
	DeviceMPS  = "mps"

	// ModeEval disables dropout and other training-only behaviour.
	ModeEval = "eval"
)

var ErrNoDevice = errors.New("runtime reported no usable device")

// Config configures the runtime client. MaxNewTokens and NumBeams override
// the model's own generation settings when positive.
type Config struct {
	URL             string        `mapstructure:"url" json:"url"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	Device          string        `mapstructure:"device" json:"device"`
	MaxNewTokens    int           `mapstructure:"max_new_tokens" json:"max_new_tokens"`
	NumBeams        int           `mapstructure:"num_beams" json:"num_beams"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" json:"breaker_timeout"`
}

type Device struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// IsAccelerator reports whether the device is something other than the CPU.
func (d Device) IsAccelerator() bool {
	return d.Kind == DeviceCUDA || d.Kind == DeviceMPS
}

type LoadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device"`
	Mode   string `json:"mode"`
}

type GenerateRequest struct {
	Handle              string  `json:"handle"`
	InputIDs            [][]int `json:"input_ids"`
	AttentionMask       [][]int `json:"attention_mask"`
	NoGrad              bool    `json:"no_grad"`
	DecoderStartTokenID *int    `json:"decoder_start_token_id,omitempty"`
	EOSTokenID          *int    `json:"eos_token_id,omitempty"`
	PadTokenID          *int    `json:"pad_token_id,omitempty"`
	MaxLength           int     `json:"max_length,omitempty"`
	MaxNewTokens        int     `json:"max_new_tokens,omitempty"`
	NumBeams            int     `json:"num_beams,omitempty"`
}

// APIError is a non-2xx answer from the runtime.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("runtime returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("runtime returned status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8500"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Device == "" {
		cfg.Device = DeviceAuto
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}

	if cfg.BreakerFailures > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "inference-runtime",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				// Caller cancellations and 4xx answers say nothing about runtime health.
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return apiErr.StatusCode < 500
				}
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return c
}

// Devices lists the devices the runtime can place a model on.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/devices", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return resp.Devices, nil
}

// SelectDevice picks exactly one device. With preference "auto" the first
// accelerator wins, else the CPU. Any other preference must be reported by
// the runtime, matched by kind or by name.
func (c *Client) SelectDevice(ctx context.Context, preference string) (Device, error) {
	if preference == "" {
		preference = c.cfg.Device
	}

	devices, err := c.Devices(ctx)
	if err != nil {
		return Device{}, err
	}
	return selectDevice(devices, preference)
}

func selectDevice(devices []Device, preference string) (Device, error) {
	if preference == DeviceAuto {
		var cpu *Device
		for i, d := range devices {
			if d.IsAccelerator() {
				return d, nil
			}
			if d.Kind == DeviceCPU && cpu == nil {
				cpu = &devices[i]
			}
		}
		if cpu != nil {
			return *cpu, nil
		}
		return Device{}, ErrNoDevice
	}

	for _, d := range devices {
		if d.Kind == preference || d.Name == preference {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q not available", ErrNoDevice, preference)
}

// LoadModel places a model on device in inference mode and returns its handle.
func (c *Client) LoadModel(ctx context.Context, modelID string, device Device) (string, error) {
	req := LoadRequest{Model: modelID, Device: device.Name, Mode: ModeEval}
	var resp struct {
		Handle string `json:"handle"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/models", req, &resp); err != nil {
		return "", fmt.Errorf("failed to load %s on %s: %w", modelID, device.Name, err)
	}
	if resp.Handle == "" {
		return "", fmt.Errorf("runtime returned an empty handle for %s", modelID)
	}
	return resp.Handle, nil
}

// Generate runs generation without gradient tracking and returns one output
// sequence per input row.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([][]int, error) {
	req.NoGrad = true
	if c.cfg.MaxNewTokens > 0 {
		req.MaxNewTokens = c.cfg.MaxNewTokens
	}
	if c.cfg.NumBeams > 0 {
		req.NumBeams = c.cfg.NumBeams
	}

	var resp struct {
		Sequences [][]int `json:"sequences"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/generate", req, &resp); err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Sequences) != len(req.InputIDs) {
		return nil, fmt.Errorf("runtime returned %d sequences for %d inputs", len(resp.Sequences), len(req.InputIDs))
	}
	return resp.Sequences, nil
}

// Unload releases a handle obtained from LoadModel.
func (c *Client) Unload(ctx context.Context, handle string) error {
	if err := c.call(ctx, http.MethodDelete, "/v1/models/"+url.PathEscape(handle), nil, nil); err != nil {
		return fmt.Errorf("failed to unload %s: %w", handle, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	if c.breaker == nil {
		return c.do(ctx, method, path, body, out)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); len(data) > 0 {
			if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
				apiErr.Message = errBody.Error
			} else {
				apiErr.Message = strings.TrimSpace(string(data))
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
