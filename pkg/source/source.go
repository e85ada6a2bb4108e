// Package source acquires still images for the orchestrator.
//
// A Source returns (nil, nil) when no image was obtained: the user cancelled,
// the device failed or the file could not be used. Failures are logged here
// and never surface as errors the caller has to handle.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/image-narrator/pkg/types"
)

// Mode selects how the image is acquired
type Mode int

const (
	Camera Mode = iota
	FilePicker
)

// Trigger names used by the console, HTTP API and history
const (
	TriggerCamera = "fromCamera"
	TriggerFile   = "fromFile"
)

// ErrUnknownTrigger is returned by ParseTrigger for unknown names
var ErrUnknownTrigger = errors.New("unknown trigger")

func (m Mode) String() string {
	switch m {
	case Camera:
		return TriggerCamera
	case FilePicker:
		return TriggerFile
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText renders the mode by trigger name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseTrigger maps a trigger name onto a Mode. Matching is case-insensitive
// and accepts the short forms "camera" and "file".
func ParseTrigger(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fromcamera", "camera":
		return Camera, nil
	case "fromfile", "file":
		return FilePicker, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
}

// Source produces one image per call, or nil when none was selected
type Source interface {
	Acquire(ctx context.Context) (*types.Image, error)
}

// Static always returns the same image. A nil image acts as a cancelled pick.
type Static struct {
	Image *types.Image
}

func (s Static) Acquire(ctx context.Context) (*types.Image, error) {
	return s.Image, nil
}

// Func adapts a function to Source
type Func func(ctx context.Context) (*types.Image, error)

func (f Func) Acquire(ctx context.Context) (*types.Image, error) { return f(ctx) }
