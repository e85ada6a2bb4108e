package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

func testImage(t *testing.T) *types.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{uint8(x), 40, uint8(y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	out, err := processing.NewProcessor().FromBytes("street.png", buf.Bytes())
	require.NoError(t, err)
	return out
}

func completion(content interface{}) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:     "chatcmpl-1",
		Object: "chat.completion",
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, chatEndpoint, r.URL.Path)

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2-vl", req.Model)
		assert.False(t, req.Stream)
		parts, ok := req.Messages[0].Content.([]interface{})
		require.True(t, ok)
		require.Len(t, parts, 2)
		imagePart := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
		assert.True(t, strings.HasPrefix(imagePart["url"].(string), "data:image/jpeg;base64,"))

		_ = json.NewEncoder(w).Encode(completion(`{"captions":[{"text":"a busy street at dusk","confidence":0.7}],"categories":[{"name":"outdoor_street","score":0.8}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{ServerURL: srv.URL + "/", Model: "qwen2-vl"})
	result, err := c.Analyze(context.Background(), testImage(t), types.AllFeatures())
	require.NoError(t, err)
	assert.Equal(t, "a busy street at dusk", result.Description.Captions[0].Text)
	assert.Equal(t, "outdoor_street", result.Categories[0].Name)
}

func TestArrayContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion([]map[string]string{
			{"type": "text", "text": `{"language":"en","lines":["STOP"]}`},
		}))
	}))
	defer srv.Close()

	result, err := NewClient(Config{ServerURL: srv.URL}).RecognizeText(context.Background(), testImage(t), "en")
	require.NoError(t, err)
	assert.Equal(t, "STOP", result.Text())
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    client.ErrorKind
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid API Key","type":"authentication_error"}}`))
		}, client.Unauthorized},
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"image input is not supported","type":"invalid_request_error"}}`))
		}, client.Unsupported},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"Loading model","type":"unavailable_error"}}`))
		}, client.Unreachable},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`garbage`))
		}, client.Malformed},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}, client.Malformed},
		{"prose reply", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(completion("A busy street."))
		}, client.Malformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(Config{ServerURL: srv.URL}).Analyze(context.Background(), testImage(t), nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, client.KindOf(err))
		})
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(Config{ServerURL: srv.URL})
	srv.Close()

	_, err := c.Analyze(context.Background(), testImage(t), nil)
	assert.ErrorIs(t, err, client.ErrUnreachable)
}
