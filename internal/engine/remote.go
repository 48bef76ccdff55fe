package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

// RemoteOptions configures a RemoteEngine
type RemoteOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Device     string
	DType      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RemoteEngine calls an inference server that owns the model weights and the accelerator.
type RemoteEngine struct {
	httpClient *http.Client
	baseURL    string
	token      string
	info       Info
	logger     *slog.Logger
}

// NewRemoteEngine creates a RemoteEngine
func NewRemoteEngine(opts RemoteOptions) (*RemoteEngine, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("engine: remote base url is required")
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	device := opts.Device
	if device == "" {
		device = "remote"
	}

	return &RemoteEngine{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
		info:       Info{Loaded: true, Device: device, DType: opts.DType, Model: opts.Model},
		logger:     logger,
	}, nil
}

type remoteRequest struct {
	Model             string  `json:"model,omitempty"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	TrueCFGScale      float64 `json:"true_cfg_scale"`
	Seed              int64   `json:"seed"`
}

type remoteResponse struct {
	Image string `json:"image"`
	Error string `json:"error"`
}

func (e *RemoteEngine) Info() Info {
	return e.info
}

// Generate posts params to {base}/generate and decodes the base64 image in the reply
func (e *RemoteEngine) Generate(ctx context.Context, params domain.ResolvedParams, seed int64) (image.Image, error) {
	payload := remoteRequest{
		Model:             e.info.Model,
		Prompt:            params.FinalPrompt,
		NegativePrompt:    params.NegativePrompt,
		Width:             params.Width,
		Height:            params.Height,
		NumInferenceSteps: params.Steps,
		TrueCFGScale:      params.CFGScale,
		Seed:              seed,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<20)).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("engine: http %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("engine: failed to decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error != "" {
			return nil, fmt.Errorf("engine: %s (http %d)", out.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("engine: http %d", resp.StatusCode)
	}

	if out.Image == "" {
		return nil, errors.New("engine: empty image in response")
	}

	raw, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid base64 image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("engine: failed to decode image: %w", err)
	}

	e.logger.Debug("Remote generation finished",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("width", params.Width),
		slog.Int("height", params.Height),
	)

	return img, nil
}
