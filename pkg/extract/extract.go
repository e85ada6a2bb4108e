// Package extract turns an analysis result into text a person can read or hear.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/image-narrator/pkg/types"
)

// ErrNoCaption is returned when the description block carries no caption
var ErrNoCaption = errors.New("extract: no caption in analysis result")

// Description returns the text of the first caption of the description block
func Description(result *types.AnalysisResult) (string, error) {
	if result == nil || len(result.Description.Captions) == 0 {
		return "", ErrNoCaption
	}
	return result.Description.Captions[0].Text, nil
}

// Best returns the caption with the highest confidence.
// Ties keep the earliest caption.
func Best(result *types.AnalysisResult) (types.Caption, error) {
	if result == nil || len(result.Description.Captions) == 0 {
		return types.Caption{}, ErrNoCaption
	}
	best := result.Description.Captions[0]
	for _, c := range result.Description.Captions[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, nil
}

// Summary renders the top tags of a result on a single line, e.g.
// "cat (0.99), indoor (0.87)". At most max tags are listed; max <= 0 lists all.
func Summary(result *types.AnalysisResult, max int) string {
	if result == nil {
		return ""
	}
	tags := result.Tags
	if max > 0 && len(tags) > max {
		tags = tags[:max]
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", t.Name, t.Confidence))
	}
	if len(parts) == 0 && len(result.Description.Tags) > 0 {
		dt := result.Description.Tags
		if max > 0 && len(dt) > max {
			dt = dt[:max]
		}
		return strings.Join(dt, ", ")
	}
	return strings.Join(parts, ", ")
}
