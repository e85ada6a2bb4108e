package processing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-narrator/internal/utils"
	"github.com/menta2k/image-narrator/pkg/types"
)

// MinDimension is the smallest width or height the analysis services accept
const MinDimension = 50

var (
	// ErrUnsupportedFormat is returned for files outside the allow-list or with undecodable content
	ErrUnsupportedFormat = errors.New("image: unsupported format")
	// ErrTooSmall is returned for images below MinDimension on either side
	ErrTooSmall = errors.New("image: too small")
)

// UploadOptions bounds the image sent to a service
type UploadOptions struct {
	MaxDimension int // longest side in pixels, 0 = unbounded
	MaxBytes     int // payload size, 0 = unbounded
	JPEGQuality  int
}

// Processor handles image processing operations
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage reads an image file from the allow-listed formats
func (p *Processor) LoadImage(path string) (*types.Image, error) {
	if !utils.IsImageFile(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	return p.FromBytes(filepath.Base(path), data)
}

// FromBytes wraps raw image bytes, sniffing the real format and dimensions
func (p *Processor) FromBytes(name string, data []byte) (*types.Image, error) {
	format, w, h, err := p.Sniff(data)
	if err != nil {
		return nil, err
	}

	contentType := utils.ContentType(format)
	if contentType == "" {
		return nil, fmt.Errorf("%w: %s content", ErrUnsupportedFormat, format)
	}

	return &types.Image{
		Name:        name,
		ContentType: contentType,
		Width:       w,
		Height:      h,
		Data:        data,
	}, nil
}

// Sniff returns the decoder format name and the dimensions of data
func (p *Processor) Sniff(data []byte) (string, int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return format, cfg.Width, cfg.Height, nil
}

// Decode decodes an image honoring EXIF orientation
func (p *Processor) Decode(img *types.Image) (image.Image, error) {
	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return decoded, nil
}

// PrepareForUpload returns img unchanged when it fits opts, otherwise a
// downscaled JPEG copy. Images below MinDimension are rejected.
func (p *Processor) PrepareForUpload(img *types.Image, opts UploadOptions) (*types.Image, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	if img.Width < MinDimension || img.Height < MinDimension {
		return nil, fmt.Errorf("%w: %dx%d, minimum is %dx%d", ErrTooSmall, img.Width, img.Height, MinDimension, MinDimension)
	}

	tooLarge := opts.MaxDimension > 0 && (img.Width > opts.MaxDimension || img.Height > opts.MaxDimension)
	tooHeavy := opts.MaxBytes > 0 && len(img.Data) > opts.MaxBytes
	if !tooLarge && !tooHeavy {
		return img, nil
	}

	decoded, err := p.Decode(img)
	if err != nil {
		return nil, err
	}

	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = maxInt(img.Width, img.Height)
	}
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = 90
	}

	// Shrink until the payload fits; each pass takes 3/4 of the previous bound
	for {
		resized := fitWithin(decoded, maxDim)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode upload image: %w", err)
		}
		b := resized.Bounds()
		if opts.MaxBytes <= 0 || buf.Len() <= opts.MaxBytes || maxDim*3/4 < MinDimension {
			return &types.Image{
				Name:        img.Name,
				ContentType: "image/jpeg",
				Width:       b.Dx(),
				Height:      b.Dy(),
				Data:        buf.Bytes(),
			}, nil
		}
		maxDim = maxDim * 3 / 4
	}
}

// EncodeForModel re-encodes an image as jpg or png bounded by maxDim for
// sending to vision models
func (p *Processor) EncodeForModel(img *types.Image, format string, maxDim int, quality int) ([]byte, error) {
	decoded, err := p.Decode(img)
	if err != nil {
		return nil, err
	}
	if maxDim > 0 {
		decoded = fitWithin(decoded, maxDim)
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, decoded); err != nil {
			return nil, err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// fitWithin scales img down so that its longest side is at most maxDim
func fitWithin(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
