package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

type recordingSynth struct {
	spoken []string
}

func (s *recordingSynth) Speak(ctx context.Context, text string) *speech.Playback {
	s.spoken = append(s.spoken, text)
	return speech.Finished(text, nil)
}

func presentation(t *testing.T) orchestrator.Presentation {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 80, 60))))
	img, err := processing.NewProcessor().FromBytes("cat.png", buf.Bytes())
	require.NoError(t, err)

	return orchestrator.Presentation{
		RequestID:   "0f8fad5b-d9cb-469f-a165-70867728950e",
		Description: "a cat sitting on a windowsill",
		Image:       img,
		Analysis: &types.AnalysisResult{
			Description: types.Description{Captions: []types.Caption{{Text: "a cat sitting on a windowsill", Confidence: 0.9}}},
			Tags:        []types.Tag{{Name: "cat", Confidence: 0.99}, {Name: "indoor", Confidence: 0.87}},
		},
		OCR: types.LinesToOcr("en", []string{"HELLO", "WORLD"}),
	}
}

func TestPresent(t *testing.T) {
	var out bytes.Buffer
	synth := &recordingSynth{}
	c := NewConsole(&out, synth, Options{})

	playback, err := c.Present(context.Background(), presentation(t))
	require.NoError(t, err)
	require.NotNil(t, playback)
	<-playback.Done()

	text := out.String()
	assert.Contains(t, text, "Description: a cat sitting on a windowsill")
	assert.Contains(t, text, "Confidence:  0.90")
	assert.Contains(t, text, "Tags:        cat (0.99), indoor (0.87)")
	assert.Contains(t, text, "Text:\n  HELLO\n  WORLD")
	assert.NotContains(t, text, `"request_id"`)
	assert.Equal(t, []string{"a cat sitting on a windowsill"}, synth.spoken)
}

func TestPresentVerbose(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, nil, Options{Verbose: true})

	_, err := c.Present(context.Background(), presentation(t))
	require.NoError(t, err)

	text := out.String()
	start := strings.Index(text, "{")
	require.GreaterOrEqual(t, start, 0)
	var doc Result
	require.NoError(t, json.Unmarshal([]byte(text[start:]), &doc))
	assert.Equal(t, "a cat sitting on a windowsill", doc.Description)
	assert.Equal(t, "cat.png", doc.Image.Name)
	assert.Equal(t, "HELLO\nWORLD", doc.OCR.Text())
}

func TestPresentSavesResults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	var out bytes.Buffer
	c := NewConsole(&out, nil, Options{OutputDir: dir, ImageFormat: "webp", Quality: 80, SaveResults: true})

	_, err := c.Present(context.Background(), presentation(t))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "cat.webp"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	js, err := os.ReadFile(filepath.Join(dir, "cat_result.json"))
	require.NoError(t, err)
	var doc Result
	require.NoError(t, json.Unmarshal(js, &doc))
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", doc.RequestID)
}

func TestPresentSaveFailureStillSpeaks(t *testing.T) {
	p := presentation(t)
	p.Image = &types.Image{Name: "broken.png", Data: []byte("nope")}
	synth := &recordingSynth{}
	c := NewConsole(&bytes.Buffer{}, synth, Options{OutputDir: t.TempDir(), SaveResults: true})

	playback, err := c.Present(context.Background(), p)
	assert.Error(t, err)
	assert.NotNil(t, playback)
	assert.Len(t, synth.spoken, 1)
}

func TestStatusLine(t *testing.T) {
	img := &types.Image{Name: "cat.jpg"}
	tests := []struct {
		outcome orchestrator.Outcome
		want    string
	}{
		{&orchestrator.Success{RequestID: "0f8fad5b-d9cb", Image: img}, "[0f8fad5b] done: described cat.jpg"},
		{&orchestrator.NoImageSelected{RequestID: "abc"}, "[abc] no image selected"},
		{&orchestrator.AnalysisFailed{RequestID: "abc", Reason: &client.AnalysisError{Kind: client.Unauthorized, Op: "analyze", StatusCode: 401, Err: errors.New("invalid key")}},
			"[abc] analysis failed: Unauthorized (analyze: Unauthorized (status 401): invalid key)"},
		{&orchestrator.AnalysisFailed{RequestID: "abc"}, "[abc] analysis failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusLine(tt.outcome))
	}

	var out bytes.Buffer
	NewConsole(&out, nil, Options{}).Status(&orchestrator.NoImageSelected{RequestID: "abc"})
	assert.Equal(t, "[abc] no image selected\n", out.String())
}

func TestPresentInterruptsPreviousSpeech(t *testing.T) {
	c := NewConsole(io.Discard, speech.NewCommand("sleep 10"), Options{})

	first, err := c.Present(context.Background(), presentation(t))
	require.NoError(t, err)
	second, err := c.Present(context.Background(), presentation(t))
	require.NoError(t, err)
	defer second.Stop()

	select {
	case <-first.Done():
	default:
		t.Fatal("first description still playing while the second started")
	}
	select {
	case <-second.Done():
		t.Fatal("second description stopped too early")
	default:
	}
}

func TestStatusSpeaksFailures(t *testing.T) {
	synth := &recordingSynth{}
	c := NewConsole(&bytes.Buffer{}, synth, Options{})

	c.Status(&orchestrator.Success{RequestID: "a", Image: &types.Image{Name: "cat.jpg"}})
	c.Status(&orchestrator.NoImageSelected{RequestID: "b"})
	c.Status(&orchestrator.AnalysisFailed{RequestID: "c", Reason: client.NewError(client.Unreachable, "analyze", errors.New("timeout"))})
	c.Status(&orchestrator.AnalysisFailed{RequestID: "d", Reason: client.NewError(client.Unauthorized, "analyze", nil)})
	c.Status(&orchestrator.AnalysisFailed{RequestID: "e"})

	assert.Equal(t, []string{SayNoImage, SayFailed, SayUnauthorized, SayFailed}, synth.spoken)
}

func TestProgressAnnouncesAnalysis(t *testing.T) {
	var out bytes.Buffer
	synth := &recordingSynth{}
	c := NewConsole(&out, synth, Options{})

	c.Progress("0f8fad5b-d9cb-469f", orchestrator.Acquiring)
	c.Progress("0f8fad5b-d9cb-469f", orchestrator.Analyzing)
	c.Progress("0f8fad5b-d9cb-469f", orchestrator.Presenting)

	assert.Equal(t, "[0f8fad5b] analysing picture...\n", out.String())
	assert.Equal(t, []string{SayAnalyzing}, synth.spoken)
}

func TestProgressSpeechIsInterruptedByDescription(t *testing.T) {
	c := NewConsole(io.Discard, speech.NewCommand("sleep 10"), Options{})
	c.Progress("req", orchestrator.Analyzing)

	playback, err := c.Present(context.Background(), presentation(t))
	require.NoError(t, err)
	defer playback.Stop()
	select {
	case <-playback.Done():
		t.Fatal("description stopped too early")
	default:
	}
}
