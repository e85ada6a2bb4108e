package imagenarrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-narrator/internal/config"
	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/source"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

type captionClient struct {
	caption string
	calls   int
}

func (c *captionClient) Name() string { return "caption" }

func (c *captionClient) Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error) {
	c.calls++
	return &types.AnalysisResult{
		Description: types.Description{Captions: []types.Caption{{Text: c.caption, Confidence: 0.8}}},
	}, nil
}

func (c *captionClient) RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error) {
	return types.LinesToOcr(language, nil), nil
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 120, 90))))
	return path
}

func TestNewAnalysisClient(t *testing.T) {
	for _, backend := range []string{config.BackendAzure, config.BackendOllama, config.BackendLlamaCpp, config.BackendGoogle} {
		cfg := config.Default()
		cfg.Backend = backend
		c, err := NewAnalysisClient(cfg)
		require.NoError(t, err, backend)
		assert.Equal(t, backend, c.Name())
	}

	cfg := config.Default()
	cfg.Backend = "tesseract"
	_, err := NewAnalysisClient(cfg)
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Quality = 0
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewWithDefaults(t *testing.T) {
	n, err := New(context.Background(), nil, WithSynthesizer(speech.Nop{}), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, config.BackendAzure, n.Orchestrator().Backend())
	assert.Nil(t, n.History())
	assert.NotNil(t, n.Server())

	// no prompter, no picker
	_, err = n.Trigger(context.Background(), source.FilePicker)
	assert.ErrorIs(t, err, orchestrator.ErrNoSource)
}

func TestDescribeFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.History.Path = filepath.Join(dir, "history.db")

	var out bytes.Buffer
	fake := &captionClient{caption: "a red bicycle leaning on a wall"}
	n, err := New(context.Background(), cfg, WithClient(fake), WithSynthesizer(speech.Nop{}), WithOutput(&out))
	require.NoError(t, err)
	defer n.Close()

	outcome, err := n.DescribeFile(context.Background(), writePNG(t, dir, "bike.png"))
	require.NoError(t, err)
	success, ok := outcome.(*orchestrator.Success)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, "a red bicycle leaning on a wall", success.Description)
	assert.Contains(t, out.String(), "Description: a red bicycle leaning on a wall")

	outcome, err = n.DescribeFile(context.Background(), filepath.Join(dir, "missing.png"))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.KindNoImageSelected, outcome.Kind())
	assert.Equal(t, 1, fake.calls)

	require.NotNil(t, n.History())
	entries, err := n.History().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, orchestrator.KindNoImageSelected, entries[0].Kind)
	assert.Equal(t, "bike.png", entries[1].ImageName)
	assert.Equal(t, "caption", entries[1].Backend)
}

type scriptedPrompter struct{ answer string }

func (p scriptedPrompter) Prompt(ctx context.Context, message string) (string, error) {
	if p.answer == "" {
		return "", errors.New("interrupted")
	}
	return p.answer, nil
}

func TestTriggerFilePicker(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "cat.png")

	n, err := New(context.Background(), nil,
		WithClient(&captionClient{caption: "a cat"}),
		WithSynthesizer(speech.Nop{}),
		WithOutput(&bytes.Buffer{}),
		WithPrompter(scriptedPrompter{answer: path}))
	require.NoError(t, err)
	defer n.Close()

	outcome, err := n.Trigger(context.Background(), source.FilePicker)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.KindSuccess, outcome.Kind())
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendGoogle
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	n, err := New(context.Background(), cfg, WithSynthesizer(speech.Nop{}))
	require.NoError(t, err)
	assert.NoError(t, n.Close())
	assert.NoError(t, n.Close())
}
