package llmvision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/types"
)

// maxTags bounds the tag list kept from a model reply
const maxTags = 10

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// analysisReply is the JSON shape requested by AnalyzePrompt
type analysisReply struct {
	Captions   []types.Caption  `json:"captions"`
	Tags       []types.Tag      `json:"tags"`
	Categories []types.Category `json:"categories"`
}

type ocrReply struct {
	Language string   `json:"language"`
	Lines    []string `json:"lines"`
}

// ParseAnalysis converts a raw model reply into an AnalysisResult restricted
// to features. Replies that are not JSON are Malformed.
func ParseAnalysis(op, raw string, features []types.Feature) (*types.AnalysisResult, error) {
	var reply analysisReply
	if err := decode(op, raw, &reply); err != nil {
		return nil, err
	}

	result := &types.AnalysisResult{}
	tags := normalizeTags(reply.Tags)
	if Wants(features, types.FeatureDescription) {
		captions := make([]types.Caption, 0, len(reply.Captions))
		for _, c := range reply.Captions {
			c.Text = strings.TrimSpace(c.Text)
			if c.Text == "" {
				continue
			}
			c.Confidence = clamp(c.Confidence, 0, 1)
			captions = append(captions, c)
		}
		result.Description.Captions = captions
		for _, t := range tags {
			result.Description.Tags = append(result.Description.Tags, t.Name)
		}
	}
	if Wants(features, types.FeatureTags) {
		result.Tags = tags
	}
	if Wants(features, types.FeatureCategories) {
		for _, c := range reply.Categories {
			name := strings.TrimSpace(c.Name)
			if name == "" {
				continue
			}
			result.Categories = append(result.Categories, types.Category{Name: name, Score: clamp(c.Score, 0, 1)})
		}
	}
	return result, nil
}

// ParseOCR converts a raw model transcription into an OcrResult
func ParseOCR(op, raw, language string) (*types.OcrResult, error) {
	var reply ocrReply
	if err := decode(op, raw, &reply); err != nil {
		return nil, err
	}
	if reply.Language == "" || strings.Contains(reply.Language, " ") {
		reply.Language = language
	}
	return types.LinesToOcr(reply.Language, reply.Lines), nil
}

func decode(op, raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return client.NewError(client.Malformed, op, errors.New("empty model reply"))
	}
	cleaned := SanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return client.NewError(client.Malformed, op, fmt.Errorf("model reply is not JSON: %.80q", raw))
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return client.NewError(client.Malformed, op, fmt.Errorf("failed to parse model reply: %w", err))
	}
	return nil
}

// SanitizeModelJSON removes code fences, comments, and trailing commas and
// keeps only the outermost object
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// normalizeTags lowercases, dedups and bounds tags, keeping reply order
func normalizeTags(tags []types.Tag) []types.Tag {
	seen := map[string]struct{}{}
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		t.Name = strings.ToLower(strings.TrimSpace(t.Name))
		if t.Name == "" {
			continue
		}
		if _, ok := seen[t.Name]; ok {
			continue
		}
		seen[t.Name] = struct{}{}
		t.Confidence = clamp(t.Confidence, 0, 1)
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
