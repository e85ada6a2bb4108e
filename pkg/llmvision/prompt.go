// Package llmvision holds the prompts and reply parsing shared by the
// local vision-model backends (ollama, llama.cpp).
package llmvision

import (
	"fmt"
	"strings"

	"github.com/menta2k/image-narrator/pkg/types"
)

// AnalyzePrompt asks the model for an analysis in the shape ParseAnalysis reads
const AnalyzePrompt = `You are an image description service.

Return JSON only:
{
  "captions": [{"text": "short neutral sentence (<= 20 words)", "confidence": 0.0}],
  "tags": [{"name": "tag", "confidence": 0.0}],
  "categories": [{"name": "category_subcategory", "score": 0.0}]
}

HARD RULES
- Confidence and score are in [0,1].
- Put the best caption first. Captions are brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates, at most 10.
- If the image is unclear, return an empty captions array.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ocrPrompt asks the model to transcribe visible text
const ocrPrompt = `Transcribe all text visible in this image.

Return JSON only:
{"language": "%s", "lines": ["first line", "second line"]}

- Keep the reading order, one entry per printed line.
- If there is no text, return an empty lines array.
- JSON only. No markdown, no code fences, no comments.`

// OCRPrompt returns the transcription prompt for language. "unk" or an
// empty language lets the model report the detected language.
func OCRPrompt(language string) string {
	if language == "" || strings.EqualFold(language, "unk") {
		language = "detected ISO 639-1 code"
	}
	return fmt.Sprintf(ocrPrompt, language)
}

// Wants reports whether f is among features. An empty set means all features.
func Wants(features []types.Feature, f types.Feature) bool {
	if len(features) == 0 {
		return true
	}
	for _, x := range features {
		if x == f {
			return true
		}
	}
	return false
}
