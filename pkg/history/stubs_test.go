package history

import (
	"context"

	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

type stubClient struct{}

func (stubClient) Name() string { return "stub" }

func (stubClient) Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error) {
	return &types.AnalysisResult{}, nil
}

func (stubClient) RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error) {
	return types.LinesToOcr(language, nil), nil
}

type stubPresenter struct{}

func (stubPresenter) Present(ctx context.Context, p orchestrator.Presentation) (*speech.Playback, error) {
	return speech.Finished(p.Description, nil), nil
}

func (stubPresenter) Status(orchestrator.Outcome) {}
