// Package gcv is the Google Cloud Vision backend. It maps the visual
// features onto ImageAnnotator feature types and the results back onto the
// common analysis model.
package gcv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/apex/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/menta2k/image-narrator/internal/utils"
	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

const (
	opAnalyze = "analyze"
	opOCR     = "ocr"

	maxLabels     = 10
	maxCategories = 3
)

// Config configures the Cloud Vision client. An empty APIKey falls back to
// application default credentials.
type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	Upload   processing.UploadOptions
}

// annotateFunc is the single RPC the client needs
type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Client calls ImageAnnotator.BatchAnnotateImages
type Client struct {
	cfg       Config
	processor *processing.Processor

	mu       sync.Mutex
	conn     *vision.ImageAnnotatorClient
	annotate annotateFunc
}

var _ client.AnalysisClient = (*Client)(nil)

// NewClient returns a client that connects on first use
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, processor: processing.NewProcessor()}
}

func (c *Client) Name() string { return "gcv" }

// Close releases the gRPC connection if one was opened
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.annotate = nil, nil
	return err
}

func (c *Client) annotator(ctx context.Context, op string) (annotateFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.annotate != nil {
		return c.annotate, nil
	}

	var opts []option.ClientOption
	if c.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.cfg.APIKey))
	}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}
	conn, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, client.NewError(client.Unauthorized, op, fmt.Errorf("failed to create image annotator client: %w", err))
	}
	c.conn = conn
	c.annotate = func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return conn.BatchAnnotateImages(ctx, req)
	}
	return c.annotate, nil
}

// Analyze requests the given features from Cloud Vision
func (c *Client) Analyze(ctx context.Context, img *types.Image, features []types.Feature) (*types.AnalysisResult, error) {
	if len(features) == 0 {
		features = types.AllFeatures()
	}
	resp, err := c.do(ctx, opAnalyze, img, featureTypes(features), nil)
	if err != nil {
		return nil, err
	}
	return toAnalysisResult(resp, img, features), nil
}

// RecognizeText runs TEXT_DETECTION with language as a hint. An empty or
// "unk" language leaves detection to the service.
func (c *Client) RecognizeText(ctx context.Context, img *types.Image, language string) (*types.OcrResult, error) {
	var imageCtx *visionpb.ImageContext
	if language != "" && !strings.EqualFold(language, "unk") {
		imageCtx = &visionpb.ImageContext{LanguageHints: []string{language}}
	}
	resp, err := c.do(ctx, opOCR, img, []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}}, imageCtx)
	if err != nil {
		return nil, err
	}
	return toOcrResult(resp, language), nil
}

func (c *Client) do(ctx context.Context, op string, img *types.Image, features []*visionpb.Feature, imageCtx *visionpb.ImageContext) (*visionpb.AnnotateImageResponse, error) {
	upload, err := c.processor.PrepareForUpload(img, c.cfg.Upload)
	if err != nil {
		return nil, client.NewError(client.Unsupported, op, err)
	}

	annotate, err := c.annotator(ctx, op)
	if err != nil {
		return nil, err
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	logger := log.WithFields(log.Fields{
		"op":       op,
		"size":     utils.FormatFileSize(int64(len(upload.Data))),
		"image":    img.Name,
		"features": len(features),
	})
	logger.Debug("sending image to cloud vision")

	resp, err := annotate(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:        &visionpb.Image{Content: upload.Data},
			Features:     features,
			ImageContext: imageCtx,
		}},
	})
	if err != nil {
		aerr := rpcError(op, err)
		logger.WithField("kind", aerr.Kind.String()).WithError(err).Warn("cloud vision call failed")
		return nil, aerr
	}
	if len(resp.GetResponses()) == 0 {
		return nil, client.NewError(client.Malformed, op, errors.New("empty batch response"))
	}

	res := resp.GetResponses()[0]
	if s := res.GetError(); s != nil && s.GetCode() != int32(codes.OK) {
		aerr := rpcError(op, status.ErrorProto(s))
		logger.WithField("kind", aerr.Kind.String()).Warn("cloud vision rejected image")
		return nil, aerr
	}
	return res, nil
}

// rpcError maps a gRPC status onto the error taxonomy
func rpcError(op string, err error) *client.AnalysisError {
	var kind client.ErrorKind
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = client.Unauthorized
	case codes.InvalidArgument, codes.OutOfRange:
		kind = client.Unsupported
	default:
		kind = client.Unreachable
	}
	aerr := client.NewError(kind, op, err)
	if s, ok := status.FromError(err); ok {
		aerr.Code = s.Code().String()
	}
	return aerr
}

// featureTypes maps visual features onto ImageAnnotator feature types
func featureTypes(features []types.Feature) []*visionpb.Feature {
	seen := map[visionpb.Feature_Type]bool{}
	var out []*visionpb.Feature
	add := func(t visionpb.Feature_Type, max int32) {
		if seen[t] {
			return
		}
		seen[t] = true
		out = append(out, &visionpb.Feature{Type: t, MaxResults: max})
	}

	for _, f := range features {
		switch f {
		case types.FeatureAdult:
			add(visionpb.Feature_SAFE_SEARCH_DETECTION, 0)
		case types.FeatureColor:
			add(visionpb.Feature_IMAGE_PROPERTIES, 0)
		case types.FeatureDescription:
			add(visionpb.Feature_WEB_DETECTION, 5)
			add(visionpb.Feature_LABEL_DETECTION, maxLabels)
		case types.FeatureFaces:
			add(visionpb.Feature_FACE_DETECTION, 20)
		case types.FeatureTags, types.FeatureCategories:
			add(visionpb.Feature_LABEL_DETECTION, maxLabels)
		}
	}
	return out
}

func toAnalysisResult(res *visionpb.AnnotateImageResponse, img *types.Image, features []types.Feature) *types.AnalysisResult {
	result := &types.AnalysisResult{
		Metadata: &types.Metadata{
			Width:  img.Width,
			Height: img.Height,
			Format: strings.TrimPrefix(img.ContentType, "image/"),
		},
	}

	labels := res.GetLabelAnnotations()
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].GetScore() > labels[j].GetScore() })
	var tags []types.Tag
	for _, l := range labels {
		name := strings.ToLower(strings.TrimSpace(l.GetDescription()))
		if name == "" {
			continue
		}
		tags = append(tags, types.Tag{Name: name, Confidence: float64(l.GetScore())})
	}

	for _, f := range features {
		switch f {
		case types.FeatureDescription:
			result.Description = describe(res.GetWebDetection(), tags)
		case types.FeatureTags:
			result.Tags = tags
		case types.FeatureCategories:
			for i, t := range tags {
				if i == maxCategories {
					break
				}
				result.Categories = append(result.Categories, types.Category{
					Name:  strings.ReplaceAll(t.Name, " ", "_"),
					Score: t.Confidence,
				})
			}
		case types.FeatureFaces:
			for _, face := range res.GetFaceAnnotations() {
				result.Faces = append(result.Faces, types.Face{
					Confidence:    float64(face.GetDetectionConfidence()),
					FaceRectangle: rectangle(face.GetBoundingPoly()),
				})
			}
		case types.FeatureAdult:
			if ss := res.GetSafeSearchAnnotation(); ss != nil {
				result.Adult = &types.Adult{
					IsAdultContent: ss.GetAdult() >= visionpb.Likelihood_LIKELY,
					IsRacyContent:  ss.GetRacy() >= visionpb.Likelihood_LIKELY,
					AdultScore:     likelihoodScore(ss.GetAdult()),
					RacyScore:      likelihoodScore(ss.GetRacy()),
				}
			}
		case types.FeatureColor:
			result.Color = colors(res.GetImagePropertiesAnnotation())
		}
	}
	return result
}

// describe turns web best-guess labels into captions; label confidence is
// borrowed from the strongest label annotation
func describe(web *visionpb.WebDetection, tags []types.Tag) types.Description {
	desc := types.Description{Captions: []types.Caption{}}
	confidence := 0.0
	if len(tags) > 0 {
		confidence = tags[0].Confidence
	}
	for _, l := range web.GetBestGuessLabels() {
		text := strings.TrimSpace(l.GetLabel())
		if text == "" {
			continue
		}
		desc.Captions = append(desc.Captions, types.Caption{Text: text, Confidence: confidence})
	}
	for _, t := range tags {
		desc.Tags = append(desc.Tags, t.Name)
	}
	return desc
}

func rectangle(poly *visionpb.BoundingPoly) types.Rectangle {
	vs := poly.GetVertices()
	if len(vs) == 0 {
		return types.Rectangle{}
	}
	minX, minY := vs[0].GetX(), vs[0].GetY()
	maxX, maxY := minX, minY
	for _, v := range vs[1:] {
		minX, maxX = min(minX, v.GetX()), max(maxX, v.GetX())
		minY, maxY = min(minY, v.GetY()), max(maxY, v.GetY())
	}
	return types.Rectangle{Left: int(minX), Top: int(minY), Width: int(maxX - minX), Height: int(maxY - minY)}
}

func likelihoodScore(l visionpb.Likelihood) float64 {
	if l <= visionpb.Likelihood_UNKNOWN {
		return 0
	}
	return float64(l) / float64(visionpb.Likelihood_VERY_LIKELY)
}

func colors(props *visionpb.ImageProperties) *types.Color {
	infos := props.GetDominantColors().GetColors()
	if len(infos) == 0 {
		return nil
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].GetPixelFraction() > infos[j].GetPixelFraction() })

	out := &types.Color{IsBWImg: true}
	for _, info := range infos {
		r, g, b := info.GetColor().GetRed(), info.GetColor().GetGreen(), info.GetColor().GetBlue()
		out.DominantColors = append(out.DominantColors, hexColor(r, g, b))
		if !isGrey(r, g, b) {
			out.IsBWImg = false
		}
	}
	out.DominantColorForeground = out.DominantColors[0]
	out.DominantColorBackground = out.DominantColors[0]
	if len(out.DominantColors) > 1 {
		out.DominantColorBackground = out.DominantColors[1]
	}

	best := infos[0]
	for _, info := range infos[1:] {
		if info.GetScore() > best.GetScore() {
			best = info
		}
	}
	out.AccentColor = strings.TrimPrefix(hexColor(best.GetColor().GetRed(), best.GetColor().GetGreen(), best.GetColor().GetBlue()), "#")
	return out
}

func hexColor(r, g, b float32) string {
	return fmt.Sprintf("#%02X%02X%02X", uint8(r), uint8(g), uint8(b))
}

func isGrey(r, g, b float32) bool {
	const tolerance = 12
	return abs(r-g) <= tolerance && abs(g-b) <= tolerance && abs(r-b) <= tolerance
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func toOcrResult(res *visionpb.AnnotateImageResponse, language string) *types.OcrResult {
	texts := res.GetTextAnnotations()
	if len(texts) == 0 {
		return types.LinesToOcr(language, nil)
	}
	// The first annotation carries the full text and detected locale
	full := texts[0]
	if full.GetLocale() != "" {
		language = full.GetLocale()
	}
	return types.LinesToOcr(language, strings.Split(full.GetDescription(), "\n"))
}
