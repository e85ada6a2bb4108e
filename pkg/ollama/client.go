package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/ollama/ollama/api"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/llmvision"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

const (
	opAnalyze = "analyze"
	opOCR     = "ocr"

	defaultURL     = "http://localhost:11434"
	defaultTimeout = 300 * time.Second // CPU inference is slow
)

// Config configures the Ollama backend
type Config struct {
	ServerURL    string
	Model        string
	Timeout      time.Duration
	HTTPClient   *http.Client
	MaxDimension int
	Quality      int
}

// Client wraps the Ollama API client
type Client struct {
	client    *api.Client
	model     string
	timeout   time.Duration
	processor *processing.Processor
	maxDim    int
	quality   int
}

var _ client.AnalysisClient = (*Client)(nil)

// NewClient creates a new Ollama client
func NewClient(cfg Config) (*Client, error) {
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = defaultURL
	}
	parsedURL, err := url.Parse(serverURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL %q", serverURL)
	}
	if cfg.Model == "" {
		return nil, errors.New("ollama model is not configured")
	}

	// Base URL only; a pasted /api/chat path is dropped
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		client:    api.NewClient(baseURL, httpClient),
		model:     cfg.Model,
		timeout:   timeout,
		processor: processing.NewProcessor(),
		maxDim:    cfg.MaxDimension,
		quality:   cfg.Quality,
	}, nil
}

func (c *Client) Name() string { return "ollama" }

// Analyze asks the vision model for captions, tags and categories
func (c *Client) Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error) {
	reply, err := c.chat(ctx, opAnalyze, llmvision.AnalyzePrompt, img)
	if err != nil {
		return nil, err
	}
	return llmvision.ParseAnalysis(opAnalyze, reply, features)
}

// RecognizeText asks the vision model to transcribe visible text
func (c *Client) RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error) {
	reply, err := c.chat(ctx, opOCR, llmvision.OCRPrompt(language), img)
	if err != nil {
		return nil, err
	}
	return llmvision.ParseOCR(opOCR, reply, language)
}

func (c *Client) chat(ctx context.Context, op, prompt string, img *types.Image) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	imgBytes, err := llmvision.EncodeImage(c.processor, op, img, c.maxDim, c.quality)
	if err != nil {
		return "", err
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: modelOptions(c.model),
	}

	logger := log.WithFields(log.Fields{
		"op":    op,
		"model": c.model,
		"image": img.Name,
	})
	logger.Debug("sending image to ollama")

	var content strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		aerr := chatError(op, err)
		logger.WithField("kind", aerr.Kind.String()).WithError(err).Warn("ollama chat failed")
		return "", aerr
	}

	logger.WithField("chars", content.Len()).Debug("ollama answered")
	return content.String(), nil
}

// modelOptions returns sampling options tuned for known models
func modelOptions(model string) map[string]any {
	options := map[string]any{"temperature": 0.2}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}

// chatError classifies an ollama client error
func chatError(op string, err error) *client.AnalysisError {
	var se api.StatusError
	if errors.As(err, &se) {
		return &client.AnalysisError{
			Kind:       client.KindForStatus(se.StatusCode),
			Op:         op,
			StatusCode: se.StatusCode,
			Err:        err,
		}
	}
	return client.NewError(client.Unreachable, op, err)
}
