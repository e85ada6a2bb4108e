// Package orchestrator runs one vision request at a time: acquire an image,
// analyze it remotely, extract a description, then present and speak it.
//
//	Idle -> Acquiring -> Analyzing -> Presenting -> Idle
//	Idle -> Acquiring -> Idle                        (no image)
//	Idle -> Acquiring -> Analyzing -> Idle           (analysis failed)
//
// A trigger that arrives while a request is in flight is rejected with
// ErrBusy and has no effect on that request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/extract"
	"github.com/menta2k/image-narrator/pkg/source"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

// DefaultFallbackDescription is presented when the analysis has no caption
const DefaultFallbackDescription = "I could not describe this image."

var (
	// ErrBusy is returned when a request is already in flight
	ErrBusy = errors.New("orchestrator: request already in progress")
	// ErrNoSource is returned when no source is configured for a mode
	ErrNoSource = errors.New("orchestrator: no image source for mode")
)

// State of the orchestrator
type State int

const (
	Idle State = iota
	Acquiring
	Analyzing
	Presenting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Acquiring:
		return "Acquiring"
	case Analyzing:
		return "Analyzing"
	case Presenting:
		return "Presenting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Presentation is what gets rendered for a successful request
type Presentation struct {
	RequestID   string
	Description string
	Image       *types.Image
	Analysis    *types.AnalysisResult
	OCR         *types.OcrResult
}

// Presenter renders results. Present starts speech only once the text is
// final and returns without waiting for it to end.
type Presenter interface {
	Present(ctx context.Context, p Presentation) (*speech.Playback, error)
	// Status is called once for every terminal outcome
	Status(o Outcome)
}

// ProgressReporter is implemented by presenters that announce progress.
// Progress is called each time a request enters Acquiring, Analyzing or
// Presenting.
type ProgressReporter interface {
	Progress(requestID string, state State)
}

// Event is one finished request as handed to a Recorder
type Event struct {
	Mode      source.Mode
	Backend   string
	Outcome   Outcome
	CreatedAt time.Time
}

// Recorder keeps a log of finished requests
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Config wires the orchestrator. Client and Presenter are required.
type Config struct {
	Client    client.AnalysisClient
	Presenter Presenter
	Sources   map[source.Mode]source.Source
	Recorder  Recorder

	// Features defaults to types.AllFeatures()
	Features []types.Feature

	OCR         bool
	OCRLanguage string

	FallbackDescription string

	// NewID defaults to random UUIDs
	NewID func() string
}

// Orchestrator serializes vision requests
type Orchestrator struct {
	cfg Config

	mu    sync.Mutex
	state State
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, errors.New("orchestrator: analysis client is required")
	}
	if cfg.Presenter == nil {
		return nil, errors.New("orchestrator: presenter is required")
	}
	if len(cfg.Features) == 0 {
		cfg.Features = types.AllFeatures()
	}
	if cfg.FallbackDescription == "" {
		cfg.FallbackDescription = DefaultFallbackDescription
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	if cfg.Sources == nil {
		cfg.Sources = map[source.Mode]source.Source{}
	}
	return &Orchestrator{cfg: cfg}, nil
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Backend returns the analysis backend name
func (o *Orchestrator) Backend() string {
	return o.cfg.Client.Name()
}

// Trigger runs one request with the source configured for mode
func (o *Orchestrator) Trigger(ctx context.Context, mode source.Mode) (Outcome, error) {
	src, ok := o.cfg.Sources[mode]
	if !ok || src == nil {
		return nil, fmt.Errorf("%w %s", ErrNoSource, mode)
	}
	return o.TriggerWith(ctx, mode, src)
}

// TriggerWith runs one request acquiring from src. It returns ErrBusy
// without side effects when another request is in flight; otherwise the
// error is nil and exactly one Outcome is returned.
func (o *Orchestrator) TriggerWith(ctx context.Context, mode source.Mode, src source.Source) (Outcome, error) {
	if !o.begin() {
		return nil, ErrBusy
	}
	defer o.setState(Idle)

	id := o.cfg.NewID()
	logger := log.WithFields(log.Fields{
		"request_id": id,
		"mode":       mode.String(),
		"backend":    o.cfg.Client.Name(),
	})
	logger.WithField("state", Acquiring.String()).Debug("acquiring image")
	o.progress(id, Acquiring)

	img, err := src.Acquire(ctx)
	if err != nil {
		logger.WithError(err).Warn("image source failed")
		img = nil
	}
	if img == nil {
		logger.Info("no image selected")
		return o.finish(ctx, mode, &NoImageSelected{RequestID: id}), nil
	}

	o.setState(Analyzing)
	logger = logger.WithField("image", img.Name)
	logger.WithField("state", Analyzing.String()).Debug("analyzing image")
	o.progress(id, Analyzing)

	analysis, ocr, err := o.analyze(ctx, logger, img)
	if err != nil {
		reason := client.AsAnalysisError("analyze", err)
		logger.WithError(reason).WithField("kind", reason.Kind.String()).Warn("analysis failed")
		return o.finish(ctx, mode, &AnalysisFailed{RequestID: id, Reason: reason}), nil
	}

	description, err := extract.Description(analysis)
	if err != nil {
		logger.WithError(err).Info("using fallback description")
		description = o.cfg.FallbackDescription
	}

	o.setState(Presenting)
	logger.WithField("state", Presenting.String()).Debug("presenting result")
	o.progress(id, Presenting)

	playback, err := o.cfg.Presenter.Present(ctx, Presentation{
		RequestID:   id,
		Description: description,
		Image:       img,
		Analysis:    analysis,
		OCR:         ocr,
	})
	if err != nil {
		logger.WithError(err).Warn("presentation failed")
	}

	logger.WithField("description", description).Info("request complete")
	return o.finish(ctx, mode, &Success{
		RequestID:   id,
		Description: description,
		Image:       img,
		Analysis:    analysis,
		OCR:         ocr,
		Speech:      playback,
	}), nil
}

// analyze runs Analyze and, when enabled, RecognizeText concurrently. OCR
// failures are logged and leave the OCR result nil.
func (o *Orchestrator) analyze(ctx context.Context, logger log.Interface, img *types.Image) (*types.AnalysisResult, *types.OcrResult, error) {
	var (
		analysis *types.AnalysisResult
		ocr      *types.OcrResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := o.cfg.Client.Analyze(gctx, img, o.cfg.Features)
		if err != nil {
			return err
		}
		if r == nil {
			return client.NewError(client.Malformed, "analyze", errors.New("empty analysis result"))
		}
		analysis = r
		return nil
	})
	if o.cfg.OCR {
		g.Go(func() error {
			r, err := o.cfg.Client.RecognizeText(gctx, img, o.cfg.OCRLanguage)
			if err != nil {
				logger.WithError(err).Warn("text recognition failed")
				return nil
			}
			ocr = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return analysis, ocr, nil
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return false
	}
	o.state = Acquiring
	return true
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) progress(id string, s State) {
	if r, ok := o.cfg.Presenter.(ProgressReporter); ok {
		r.Progress(id, s)
	}
}

// finish reports a terminal outcome to the presenter and recorder
func (o *Orchestrator) finish(ctx context.Context, mode source.Mode, out Outcome) Outcome {
	o.cfg.Presenter.Status(out)

	if o.cfg.Recorder != nil {
		err := o.cfg.Recorder.Record(context.WithoutCancel(ctx), Event{
			Mode:      mode,
			Backend:   o.cfg.Client.Name(),
			Outcome:   out,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			log.WithError(err).WithField("request_id", out.ID()).Warn("cannot record request")
		}
	}
	return out
}
