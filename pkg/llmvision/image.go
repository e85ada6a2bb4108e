package llmvision

import (
	"fmt"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

// Default image bounds for local models
const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 85
)

// EncodeImage re-encodes img as a JPEG bounded by maxDim for a model
// request. Images the model cannot take are Unsupported.
func EncodeImage(p *processing.Processor, op string, img *types.Image, maxDim, quality int) ([]byte, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, client.NewError(client.Unsupported, op, processing.ErrUnsupportedFormat)
	}
	if img.Width < processing.MinDimension || img.Height < processing.MinDimension {
		return nil, client.NewError(client.Unsupported, op,
			fmt.Errorf("%w: %dx%d", processing.ErrTooSmall, img.Width, img.Height))
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	if quality <= 0 {
		quality = DefaultQuality
	}

	data, err := p.EncodeForModel(img, "jpg", maxDim, quality)
	if err != nil {
		return nil, client.NewError(client.Unsupported, op, err)
	}
	return data, nil
}
