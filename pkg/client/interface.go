package client

import (
	"context"

	"github.com/menta2k/image-narrator/pkg/types"
)

// AnalysisClient wraps a remote vision-analysis capability.
// Implementations never retry on their own.
type AnalysisClient interface {
	// Name returns the backend name, e.g. "azure" or "ollama"
	Name() string

	// Analyze runs the requested features over the image
	Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error)

	// RecognizeText runs OCR over the image for the given language
	RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error)
}
