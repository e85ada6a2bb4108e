package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/chzyer/readline"

	"github.com/menta2k/image-narrator/internal/utils"
	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

// Prompter asks the user for a single line of input
type Prompter interface {
	Prompt(ctx context.Context, message string) (string, error)
}

// Picker lets the user choose an image file through a Prompter
type Picker struct {
	prompter  Prompter
	processor *processing.Processor
}

// NewFilePicker creates a file picker source
func NewFilePicker(p Prompter) *Picker {
	return &Picker{prompter: p, processor: processing.NewProcessor()}
}

// Acquire prompts for a path. An empty answer, an interrupt or a file outside
// the allow-list yields no image.
func (p *Picker) Acquire(ctx context.Context) (*types.Image, error) {
	logger := log.WithField("source", TriggerFile)
	if ctx.Err() != nil {
		return nil, nil
	}

	answer, err := p.prompter.Prompt(ctx, "image file ("+strings.Join(utils.AllowedExtensions(), ", ")+")> ")
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			logger.Debug("file selection cancelled")
		} else {
			logger.WithError(err).Warn("file prompt failed")
		}
		return nil, nil
	}

	path := cleanPath(answer)
	if path == "" {
		logger.Debug("no file selected")
		return nil, nil
	}
	return LoadFile(path), nil
}

// LoadFile reads an allow-listed image file, or logs why it cannot and
// returns nil
func LoadFile(path string) *types.Image {
	logger := log.WithFields(log.Fields{"source": TriggerFile, "path": path})
	if !utils.IsImageFile(path) {
		logger.Warn("file type is not supported")
		return nil
	}
	if !utils.FileExists(path) {
		logger.Warn("file does not exist")
		return nil
	}
	img, err := processing.NewProcessor().LoadImage(path)
	if err != nil {
		logger.WithError(err).Warn("cannot load image")
		return nil
	}
	return img
}

// cleanPath trims quotes and expands a leading ~
func cleanPath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, strings.TrimPrefix(s, "~"))
		}
	}
	return s
}
