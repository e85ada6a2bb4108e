// Package imagenarrator wires the image narrator together.
//
// A Narrator acquires a still image from a camera or a file, sends it to a
// remote vision service, extracts the best caption and presents it on the
// console while reading it aloud:
//
//	cfg, err := config.Load(config.GetConfigPath())
//	if err != nil {
//		log.Fatal(err)
//	}
//	n, err := imagenarrator.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer n.Close()
//
//	outcome, err := n.DescribeFile(ctx, "photo.jpg")
//
// The analysis backend is picked by cfg.Backend: the Azure Computer Vision
// REST API, a local Ollama or llama.cpp server running a vision model, or
// Google Cloud Vision.
package imagenarrator

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/menta2k/image-narrator/internal/config"
	"github.com/menta2k/image-narrator/internal/server"
	"github.com/menta2k/image-narrator/pkg/azure"
	"github.com/menta2k/image-narrator/pkg/client"
	"github.com/menta2k/image-narrator/pkg/gcv"
	"github.com/menta2k/image-narrator/pkg/history"
	"github.com/menta2k/image-narrator/pkg/llamacpp"
	"github.com/menta2k/image-narrator/pkg/ollama"
	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/presenter"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/source"
	"github.com/menta2k/image-narrator/pkg/speech"
	"github.com/menta2k/image-narrator/pkg/types"
)

// Version of the image narrator
const Version = "0.3.0"

// Narrator owns one orchestrator and the resources behind it
type Narrator struct {
	cfg          *config.Config
	client       client.AnalysisClient
	orchestrator *orchestrator.Orchestrator
	history      *history.Store
}

type options struct {
	out      io.Writer
	prompter source.Prompter
	client   client.AnalysisClient
	synth    speech.Synthesizer
}

// Option customizes New
type Option func(*options)

// WithOutput sets where descriptions and status lines are written (default stdout)
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithPrompter enables the interactive file picker
func WithPrompter(p source.Prompter) Option {
	return func(o *options) { o.prompter = p }
}

// WithClient replaces the backend selected by the configuration
func WithClient(c client.AnalysisClient) Option {
	return func(o *options) { o.client = c }
}

// WithSynthesizer replaces the configured speech command
func WithSynthesizer(s speech.Synthesizer) Option {
	return func(o *options) { o.synth = s }
}

// New validates cfg and builds a Narrator. A nil cfg means config.Default().
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Narrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Narrator{cfg: cfg, client: o.client}
	if n.client == nil {
		c, err := NewAnalysisClient(cfg)
		if err != nil {
			return nil, err
		}
		n.client = c
	}

	if o.synth == nil {
		o.synth = speech.Nop{}
		if cfg.Speech.Enabled {
			o.synth = speech.NewCommand(cfg.Speech.Command)
		}
	}

	sources := map[source.Mode]source.Source{
		source.Camera: source.NewCamera(cfg.Camera.Command, ""),
	}
	if o.prompter != nil {
		sources[source.FilePicker] = source.NewFilePicker(o.prompter)
	}

	console := presenter.NewConsole(o.out, o.synth, presenter.Options{
		OutputDir:   cfg.Output.Dir,
		ImageFormat: cfg.Output.ImageFormat,
		Quality:     cfg.Output.Quality,
		Lossless:    cfg.Output.Lossless,
		SaveResults: cfg.Output.SaveResults,
		Verbose:     cfg.Output.Verbose,
	})

	var recorder orchestrator.Recorder
	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			n.closeClient()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		n.history = store
		recorder = store
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Client:              n.client,
		Presenter:           console,
		Sources:             sources,
		Recorder:            recorder,
		OCR:                 cfg.OCR.Enabled,
		OCRLanguage:         cfg.OCR.Language,
		FallbackDescription: cfg.FallbackDescription,
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	n.orchestrator = orch
	return n, nil
}

// NewAnalysisClient builds the backend named by cfg.Backend
func NewAnalysisClient(cfg *config.Config) (client.AnalysisClient, error) {
	upload := processing.UploadOptions{
		MaxDimension: cfg.Upload.MaxDimension,
		MaxBytes:     cfg.Upload.MaxBytes,
		JPEGQuality:  cfg.Upload.JPEGQuality,
	}

	switch cfg.Backend {
	case config.BackendAzure:
		return azure.NewClient(azure.Config{
			APIRoot:         cfg.Vision.APIRoot,
			SubscriptionKey: cfg.Vision.SubscriptionKey,
			Timeout:         cfg.Vision.Timeout,
			Upload:          upload,
		}), nil
	case config.BackendOllama:
		c, err := ollama.NewClient(ollama.Config{
			ServerURL: cfg.Vision.ServerURL,
			Model:     cfg.Vision.Model,
			Timeout:   cfg.Vision.Timeout,
			Quality:   cfg.Upload.JPEGQuality,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return c, nil
	case config.BackendLlamaCpp:
		return llamacpp.NewClient(llamacpp.Config{
			ServerURL: cfg.Vision.ServerURL,
			Model:     cfg.Vision.Model,
			Timeout:   cfg.Vision.Timeout,
			Quality:   cfg.Upload.JPEGQuality,
		}), nil
	case config.BackendGoogle:
		return gcv.NewClient(gcv.Config{
			APIKey:   cfg.Vision.SubscriptionKey,
			Endpoint: cfg.Vision.ServerURL,
			Timeout:  cfg.Vision.Timeout,
			Upload:   upload,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Orchestrator returns the underlying orchestrator
func (n *Narrator) Orchestrator() *orchestrator.Orchestrator {
	return n.orchestrator
}

// History returns the history store, nil when history.path is empty
func (n *Narrator) History() *history.Store {
	return n.history
}

// Trigger runs one request from the camera or the file picker
func (n *Narrator) Trigger(ctx context.Context, mode source.Mode) (orchestrator.Outcome, error) {
	return n.orchestrator.Trigger(ctx, mode)
}

// DescribeFile runs one fromFile request for a fixed path
func (n *Narrator) DescribeFile(ctx context.Context, path string) (orchestrator.Outcome, error) {
	src := source.Func(func(ctx context.Context) (*types.Image, error) {
		return source.LoadFile(path), nil
	})
	return n.orchestrator.TriggerWith(ctx, source.FilePicker, src)
}

// Server returns the HTTP API backed by this narrator
func (n *Narrator) Server() *server.Server {
	var h server.HistoryReader
	if n.history != nil {
		h = n.history
	}
	return server.New(n.orchestrator, h, int64(server.DefaultMaxUploadBytes))
}

// Close releases the backend connection and the history database
func (n *Narrator) Close() error {
	err := n.closeClient()
	if n.history != nil {
		if herr := n.history.Close(); err == nil {
			err = herr
		}
		n.history = nil
	}
	return err
}

func (n *Narrator) closeClient() error {
	if c, ok := n.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
