package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-narrator/pkg/types"
)

func resultWithCaptions(captions ...types.Caption) *types.AnalysisResult {
	return &types.AnalysisResult{Description: types.Description{Captions: captions}}
}

func TestDescriptionReturnsFirstCaption(t *testing.T) {
	result := resultWithCaptions(
		types.Caption{Text: "a cat sitting on a windowsill", Confidence: 0.9},
		types.Caption{Text: "a cat", Confidence: 0.95},
	)

	text, err := Description(result)
	require.NoError(t, err)
	assert.Equal(t, "a cat sitting on a windowsill", text)
}

func TestDescriptionNoCaption(t *testing.T) {
	cases := map[string]*types.AnalysisResult{
		"nil result":     nil,
		"empty captions": resultWithCaptions(),
		"tags only": {
			Description: types.Description{Tags: []string{"cat"}},
			Tags:        []types.Tag{{Name: "cat", Confidence: 0.9}},
		},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				text, err := Description(result)
				assert.ErrorIs(t, err, ErrNoCaption)
				assert.Empty(t, text)
			})
		})
	}
}

func TestBest(t *testing.T) {
	result := resultWithCaptions(
		types.Caption{Text: "first", Confidence: 0.5},
		types.Caption{Text: "second", Confidence: 0.8},
		types.Caption{Text: "third", Confidence: 0.8},
	)
	best, err := Best(result)
	require.NoError(t, err)
	assert.Equal(t, "second", best.Text)

	_, err = Best(resultWithCaptions())
	assert.ErrorIs(t, err, ErrNoCaption)
}

func TestSummary(t *testing.T) {
	result := &types.AnalysisResult{
		Tags: []types.Tag{
			{Name: "cat", Confidence: 0.99},
			{Name: "indoor", Confidence: 0.87},
			{Name: "window", Confidence: 0.5},
		},
	}
	assert.Equal(t, "cat (0.99), indoor (0.87)", Summary(result, 2))
	assert.Equal(t, "cat (0.99), indoor (0.87), window (0.50)", Summary(result, 0))

	descOnly := &types.AnalysisResult{Description: types.Description{Tags: []string{"sky", "outdoor", "tree"}}}
	assert.Equal(t, "sky, outdoor", Summary(descOnly, 2))
	assert.Empty(t, Summary(nil, 3))
}
