package orchestrator

import (
	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

// Outcome kinds as stored in history and returned by the HTTP API
const (
	KindSuccess         = "success"
	KindNoImageSelected = "no_image_selected"
	KindAnalysisFailed  = "analysis_failed"
)

// Outcome is the single result of one triggered request. It is one of
// *Success, *NoImageSelected or *AnalysisFailed.
type Outcome interface {
	ID() string
	Kind() string
	outcome()
}

// Success carries the final description and everything it was derived from
type Success struct {
	RequestID   string                `json:"request_id"`
	Description string                `json:"description"`
	Image       *types.Image          `json:"image"`
	Analysis    *types.AnalysisResult `json:"analysis"`
	OCR         *types.OcrResult      `json:"ocr,omitempty"`
	// Speech is nil when the presenter did not start playback
	Speech *speech.Playback `json:"-"`
}

// NoImageSelected means acquisition was cancelled or failed
type NoImageSelected struct {
	RequestID string `json:"request_id"`
}

// AnalysisFailed means the analysis call failed; nothing was presented
type AnalysisFailed struct {
	RequestID string                `json:"request_id"`
	Reason    *client.AnalysisError `json:"-"`
}

func (s *Success) ID() string         { return s.RequestID }
func (n *NoImageSelected) ID() string { return n.RequestID }
func (a *AnalysisFailed) ID() string  { return a.RequestID }

func (*Success) Kind() string         { return KindSuccess }
func (*NoImageSelected) Kind() string { return KindNoImageSelected }
func (*AnalysisFailed) Kind() string  { return KindAnalysisFailed }

func (*Success) outcome()         {}
func (*NoImageSelected) outcome() {}
func (*AnalysisFailed) outcome()  {}
