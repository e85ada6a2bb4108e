// Package presenter renders orchestrator results on a terminal and speaks
// the description.
package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/apex/log"

	"github.com/menta2k/image-narrator/internal/utils"
	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/extract"
	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

// Options controls what the console presenter prints and saves
type Options struct {
	OutputDir   string
	ImageFormat string // jpg, png or webp
	Quality     int
	Lossless    bool
	SaveResults bool // write a snapshot and <name>_result.json per request
	Verbose     bool // print the whole result as JSON
}

// Result is the JSON document printed in verbose mode and saved next to snapshots
type Result struct {
	RequestID   string                `json:"request_id"`
	Description string                `json:"description"`
	Image       *types.Image          `json:"image"`
	Analysis    *types.AnalysisResult `json:"analysis"`
	OCR         *types.OcrResult      `json:"ocr,omitempty"`
}

// Phrases spoken for progress and failures
const (
	SayAnalyzing    = "Analysing picture."
	SayNoImage      = "No image selected."
	SayFailed       = "Error processing image."
	SayUnauthorized = "Error processing image. The vision service rejected the credentials."
)

// Console writes results to w and speaks through a single player, so a new
// utterance always interrupts the previous one.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	player    *speech.Player
	opts      Options
	processor *processing.Processor
}

var (
	_ orchestrator.Presenter        = (*Console)(nil)
	_ orchestrator.ProgressReporter = (*Console)(nil)
)

// NewConsole creates a console presenter. A nil synth disables speech.
func NewConsole(w io.Writer, synth speech.Synthesizer, opts Options) *Console {
	player, ok := synth.(*speech.Player)
	if !ok {
		player = speech.NewPlayer(synth)
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = "jpg"
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	return &Console{w: w, player: player, opts: opts, processor: processing.NewProcessor()}
}

// Present prints the description and details, saves results when enabled
// and then starts speaking. A save failure is returned along with the
// playback.
func (c *Console) Present(ctx context.Context, p orchestrator.Presentation) (*speech.Playback, error) {
	c.mu.Lock()
	c.render(p)
	var saveErr error
	if c.opts.SaveResults {
		saveErr = c.save(p)
	}
	c.mu.Unlock()

	return c.player.Speak(ctx, p.Description), saveErr
}

// Progress announces that analysis started
func (c *Console) Progress(requestID string, state orchestrator.State) {
	if state != orchestrator.Analyzing {
		return
	}
	c.mu.Lock()
	fmt.Fprintf(c.w, "[%s] analysing picture...\n", shortID(requestID))
	c.mu.Unlock()
	c.player.Speak(context.Background(), SayAnalyzing)
}

func (c *Console) render(p orchestrator.Presentation) {
	fmt.Fprintf(c.w, "\nDescription: %s\n", p.Description)
	if best, err := extract.Best(p.Analysis); err == nil {
		fmt.Fprintf(c.w, "Confidence:  %.2f\n", best.Confidence)
	}
	if summary := extract.Summary(p.Analysis, 5); summary != "" {
		fmt.Fprintf(c.w, "Tags:        %s\n", summary)
	}
	if text := p.OCR.Text(); text != "" {
		fmt.Fprintf(c.w, "Text:\n  %s\n", strings.ReplaceAll(text, "\n", "\n  "))
	}

	if c.opts.Verbose {
		js, err := json.MarshalIndent(resultOf(p), "", "  ")
		if err != nil {
			log.WithError(err).Warn("cannot encode result")
			return
		}
		fmt.Fprintf(c.w, "%s\n", js)
	}
}

func (c *Console) save(p orchestrator.Presentation) error {
	if err := utils.EnsureDir(c.opts.OutputDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	name := p.Image.Name
	if name == "" {
		name = p.RequestID
	}

	decoded, err := c.processor.Decode(p.Image)
	if err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	snapshot := utils.GenerateOutputFilename(name, c.opts.OutputDir, "", "", strings.ToLower(c.opts.ImageFormat))
	if err := c.processor.SaveImage(decoded, snapshot, c.opts.ImageFormat, c.opts.Quality, c.opts.Lossless); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	log.WithField("path", snapshot).Info("wrote snapshot")

	js, err := json.MarshalIndent(resultOf(p), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	resultPath := utils.GenerateOutputFilename(name, c.opts.OutputDir, "", "_result", "json")
	if err := os.WriteFile(resultPath, js, 0o644); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	log.WithField("path", resultPath).Info("wrote result")
	return nil
}

// Status prints a one-line summary of the finished request and speaks
// failures. A success is already being spoken by Present.
func (c *Console) Status(o orchestrator.Outcome) {
	c.mu.Lock()
	fmt.Fprintln(c.w, StatusLine(o))
	c.mu.Unlock()

	if text := SpokenStatus(o); text != "" {
		c.player.Speak(context.Background(), text)
	}
}

// SpokenStatus returns what is said for an outcome, "" for a success
func SpokenStatus(o orchestrator.Outcome) string {
	switch v := o.(type) {
	case *orchestrator.NoImageSelected:
		return SayNoImage
	case *orchestrator.AnalysisFailed:
		if v.Reason != nil && v.Reason.Kind == client.Unauthorized {
			return SayUnauthorized
		}
		return SayFailed
	default:
		return ""
	}
}

// StatusLine renders an outcome as a single status line
func StatusLine(o orchestrator.Outcome) string {
	id := shortID(o.ID())
	switch v := o.(type) {
	case *orchestrator.Success:
		name := ""
		if v.Image != nil {
			name = " " + v.Image.Name
		}
		return fmt.Sprintf("[%s] done: described%s", id, name)
	case *orchestrator.NoImageSelected:
		return fmt.Sprintf("[%s] no image selected", id)
	case *orchestrator.AnalysisFailed:
		if v.Reason == nil {
			return fmt.Sprintf("[%s] analysis failed", id)
		}
		return fmt.Sprintf("[%s] analysis failed: %s (%v)", id, v.Reason.Kind, v.Reason)
	default:
		return fmt.Sprintf("[%s] %s", id, o.Kind())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func resultOf(p orchestrator.Presentation) Result {
	return Result{
		RequestID:   p.RequestID,
		Description: p.Description,
		Image:       p.Image,
		Analysis:    p.Analysis,
		OCR:         p.OCR,
	}
}
