package source

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/menta2k/image-narrator/pkg/processing"
	"github.com/menta2k/image-narrator/pkg/types"
)

// OutPlaceholder is replaced by the capture file path in camera commands
const OutPlaceholder = "{out}"

// CameraDevice captures a single JPEG by running an external command such as
// "fswebcam --no-banner --jpeg 95 {out}". When the command has no {out}
// placeholder the path is appended as the last argument.
type CameraDevice struct {
	command   []string
	tempDir   string
	processor *processing.Processor
}

// NewCamera creates a camera source for command. tempDir may be empty.
func NewCamera(command, tempDir string) *CameraDevice {
	return &CameraDevice{
		command:   strings.Fields(command),
		tempDir:   tempDir,
		processor: processing.NewProcessor(),
	}
}

// Acquire runs the capture command and reads the resulting image
func (c *CameraDevice) Acquire(ctx context.Context) (*types.Image, error) {
	logger := log.WithField("source", TriggerCamera)
	if len(c.command) == 0 {
		logger.Warn("no camera command configured")
		return nil, nil
	}

	f, err := os.CreateTemp(c.tempDir, "capture-*.jpg")
	if err != nil {
		logger.WithError(err).Warn("cannot create capture file")
		return nil, nil
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	args := c.args(path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Info("capture cancelled")
		} else {
			logger.WithError(err).WithField("output", strings.TrimSpace(string(out))).Warn("capture command failed")
		}
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		logger.WithField("path", path).Warn("capture produced no image")
		return nil, nil
	}

	name := "camera_" + time.Now().Format("20060102_150405") + ".jpg"
	img, err := c.processor.FromBytes(name, data)
	if err != nil {
		logger.WithError(err).Warn("captured data is not a usable image")
		return nil, nil
	}

	logger.WithFields(log.Fields{
		"name":   img.Name,
		"width":  img.Width,
		"height": img.Height,
	}).Debug("captured image")
	return img, nil
}

func (c *CameraDevice) args(path string) []string {
	args := make([]string, 0, len(c.command)+1)
	replaced := false
	for _, a := range c.command {
		if strings.Contains(a, OutPlaceholder) {
			a = strings.ReplaceAll(a, OutPlaceholder, path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}
