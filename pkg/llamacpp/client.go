package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/llmvision"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

const (
	opAnalyze = "analyze"
	opOCR     = "ocr"

	chatEndpoint = "/v1/chat/completions"
)

// Config configures the llama.cpp backend
type Config struct {
	ServerURL    string
	Model        string
	Timeout      time.Duration
	HTTPClient   *http.Client
	MaxDimension int
	Quality      int
}

// Client talks to a llama.cpp server through its OpenAI-compatible API
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	processor  *processing.Processor
	maxDim     int
	quality    int
}

var _ client.AnalysisClient = (*Client)(nil)

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewClient(cfg Config) *Client {
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		model:      cfg.Model,
		httpClient: httpClient,
		processor:  processing.NewProcessor(),
		maxDim:     cfg.MaxDimension,
		quality:    cfg.Quality,
	}
}

func (c *Client) Name() string { return "llamacpp" }

func (c *Client) Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error) {
	reply, err := c.complete(ctx, opAnalyze, llmvision.AnalyzePrompt, img)
	if err != nil {
		return nil, err
	}
	return llmvision.ParseAnalysis(opAnalyze, reply, features)
}

func (c *Client) RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error) {
	reply, err := c.complete(ctx, opOCR, llmvision.OCRPrompt(language), img)
	if err != nil {
		return nil, err
	}
	return llmvision.ParseOCR(opOCR, reply, language)
}

func (c *Client) complete(ctx context.Context, op, prompt string, img *types.Image) (string, error) {
	imgBytes, err := llmvision.EncodeImage(c.processor, op, img, c.maxDim, c.quality)
	if err != nil {
		return "", err
	}
	imgB64 := base64.StdEncoding.EncodeToString(imgBytes)

	req := ChatCompletionRequest{
		Model: c.model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + imgB64}},
				},
			},
		},
		Temperature:    0.2,
		MaxTokens:      2048,
		TopP:           0.8,
		Stream:         false,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	log.WithFields(log.Fields{
		"op":    op,
		"model": c.model,
		"image": img.Name,
	}).Debug("sending image to llama.cpp")

	respBody, err := c.sendRequest(ctx, op, chatEndpoint, req)
	if err != nil {
		return "", err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", client.NewError(client.Malformed, op, fmt.Errorf("failed to parse response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", client.NewError(client.Malformed, op, errors.New("no choices in response"))
	}

	text := messageText(resp.Choices[0].Message)
	if text == "" {
		return "", client.NewError(client.Malformed, op, errors.New("empty response from llama.cpp server"))
	}
	return text, nil
}

// messageText extracts text from either string or array content
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, op, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, client.NewError(client.Unsupported, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, client.NewError(client.Unauthorized, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, client.NewError(client.Unreachable, op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, client.NewError(client.Unreachable, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		log.WithFields(log.Fields{"op": op, "status": resp.StatusCode}).Warn("llama.cpp server rejected request")
		return nil, &client.AnalysisError{
			Kind:       client.KindForStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg),
		}
	}

	return body, nil
}
