// Package azure talks to the Computer Vision REST API (analyze and ocr
// operations) with a subscription key.
package azure

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

	"github.com/apex/log"

	"github.com/menta2k/image-narrator/internal/utils"
	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

const (
	opAnalyze = "analyze"
	opOCR     = "ocr"

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
)

// Config configures the client. Nothing here is validated up front: a
// missing key or API root surfaces as client.Unauthorized on the first call.
type Config struct {
	APIRoot         string
	SubscriptionKey string
	Timeout         time.Duration
	HTTPClient      *http.Client // if nil a client with Timeout is used
	Upload          processing.UploadOptions
}

// Client calls the Computer Vision service
type Client struct {
	apiRoot    string
	key        string
	httpClient *http.Client
	processor  *processing.Processor
	upload     processing.UploadOptions
}

var _ client.AnalysisClient = (*Client)(nil)

// serviceError is the error body returned by the service. Gateway errors use
// statusCode/message, service errors code/message or a nested error object.
type serviceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a new Computer Vision client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiRoot:    strings.TrimSuffix(strings.TrimSpace(cfg.APIRoot), "/"),
		key:        strings.TrimSpace(cfg.SubscriptionKey),
		httpClient: httpClient,
		processor:  processing.NewProcessor(),
		upload:     cfg.Upload,
	}
}

func (c *Client) Name() string { return "azure" }

// Analyze requests the given visual features for img
func (c *Client) Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error) {
	if len(features) == 0 {
		features = types.AllFeatures()
	}
	q := url.Values{}
	q.Set("visualFeatures", types.JoinFeatures(features))

	body, err := c.sendImage(ctx, opAnalyze, "/analyze", q, img)
	if err != nil {
		return nil, err
	}

	var result types.AnalysisResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, client.NewError(client.Malformed, opAnalyze, fmt.Errorf("failed to parse response: %w", err))
	}
	return &result, nil
}

// RecognizeText runs OCR over img. An empty language asks the service to
// detect it ("unk").
func (c *Client) RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error) {
	if language == "" {
		language = "unk"
	}
	q := url.Values{}
	q.Set("language", language)
	q.Set("detectOrientation", "true")

	body, err := c.sendImage(ctx, opOCR, "/ocr", q, img)
	if err != nil {
		return nil, err
	}

	var result types.OcrResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, client.NewError(client.Malformed, opOCR, fmt.Errorf("failed to parse response: %w", err))
	}
	if result.Regions == nil {
		result.Regions = []types.OcrRegion{}
	}
	return &result, nil
}

// endpoint builds the request URL, rejecting unusable configuration
func (c *Client) endpoint(op, path string, q url.Values) (string, error) {
	if c.key == "" {
		return "", client.NewError(client.Unauthorized, op, errors.New("subscription key is not configured"))
	}
	if c.apiRoot == "" {
		return "", client.NewError(client.Unauthorized, op, errors.New("api root is not configured"))
	}
	u, err := url.Parse(c.apiRoot + path)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", client.NewError(client.Unauthorized, op, fmt.Errorf("invalid api root %q", c.apiRoot))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) sendImage(ctx context.Context, op, path string, q url.Values, img *types.Image) ([]byte, error) {
	endpoint, err := c.endpoint(op, path, q)
	if err != nil {
		return nil, err
	}

	upload, err := c.processor.PrepareForUpload(img, c.upload)
	if err != nil {
		return nil, client.NewError(client.Unsupported, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(upload.Data))
	if err != nil {
		return nil, client.NewError(client.Unauthorized, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(subscriptionKeyHeader, c.key)

	logger := log.WithFields(log.Fields{
		"op":    op,
		"size":  utils.FormatFileSize(int64(len(upload.Data))),
		"image": img.Name,
	})
	logger.Debug("sending image to vision service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, client.NewError(client.Unreachable, op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, client.NewError(client.Unreachable, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		aerr := statusError(op, resp.StatusCode, body)
		logger.WithField("status", resp.StatusCode).WithField("kind", aerr.Kind.String()).Warn("vision service rejected request")
		return nil, aerr
	}

	logger.WithField("status", resp.StatusCode).Debug("vision service answered")
	return body, nil
}

// statusError converts a non-2xx answer into an AnalysisError
func statusError(op string, status int, body []byte) *client.AnalysisError {
	aerr := &client.AnalysisError{
		Kind:       client.KindForStatus(status),
		Op:         op,
		StatusCode: status,
	}

	var se serviceError
	if err := json.Unmarshal(body, &se); err == nil {
		code, message := se.Code, se.Message
		if se.Error != nil {
			code, message = se.Error.Code, se.Error.Message
		}
		aerr.Code = code
		if message != "" {
			aerr.Err = errors.New(message)
		}
	}
	if aerr.Err == nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = http.StatusText(status)
		}
		aerr.Err = errors.New(text)
	}

	return aerr
}
