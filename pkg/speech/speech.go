// Package speech speaks descriptions aloud without blocking the caller.
package speech

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// ErrEmptyText is reported by a Playback started with nothing to say
var ErrEmptyText = errors.New("speech: empty text")

// Synthesizer starts speaking text and returns immediately
type Synthesizer interface {
	Speak(ctx context.Context, text string) *Playback
}

// Playback tracks one asynchronous utterance
type Playback struct {
	Text string

	done   chan struct{}
	once   sync.Once
	err    error
	cancel context.CancelFunc
}

func newPlayback(text string, cancel context.CancelFunc) *Playback {
	return &Playback{Text: text, done: make(chan struct{}), cancel: cancel}
}

// Finished returns a Playback that has already completed with err
func Finished(text string, err error) *Playback {
	p := newPlayback(text, nil)
	p.finish(err)
	return p
}

func (p *Playback) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed when playback ends
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err returns the playback error. It is only meaningful after Done is closed.
func (p *Playback) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until playback ends or ctx is done
func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts playback
func (p *Playback) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Command speaks by piping text into an external program such as
// "espeak --stdin" or "say".
type Command struct {
	args []string
}

func NewCommand(command string) *Command {
	return &Command{args: strings.Fields(command)}
}

// Speak runs the command in the background. Playback outlives ctx
// cancellation only until the command notices it.
func (c *Command) Speak(ctx context.Context, text string) *Playback {
	text = strings.TrimSpace(text)
	if text == "" {
		return Finished(text, ErrEmptyText)
	}
	if len(c.args) == 0 {
		return Finished(text, errors.New("speech: no command configured"))
	}

	// Detached from the request; Stop cancels it
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := newPlayback(text, cancel)

	cmd := exec.CommandContext(pctx, c.args[0], c.args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Start(); err != nil {
		cancel()
		log.WithError(err).WithField("command", c.args[0]).Warn("cannot start speech")
		p.finish(err)
		return p
	}

	go func() {
		defer cancel()
		err := cmd.Wait()
		switch {
		case err != nil && pctx.Err() != nil:
			log.WithField("text", text).Debug("speech stopped")
		case err != nil:
			log.WithError(err).Warn("speech playback failed")
		}
		p.finish(err)
	}()
	return p
}

// StopTimeout bounds how long Player waits for an interrupted playback
const StopTimeout = 2 * time.Second

// Player speaks one utterance at a time through a Synthesizer. Starting a
// new utterance stops the current one and waits for it to end.
type Player struct {
	mu      sync.Mutex
	synth   Synthesizer
	current *Playback
}

var _ Synthesizer = (*Player)(nil)

// NewPlayer wraps synth. A nil synth is Nop.
func NewPlayer(synth Synthesizer) *Player {
	if synth == nil {
		synth = Nop{}
	}
	return &Player{synth: synth}
}

func (p *Player) Speak(ctx context.Context, text string) *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupt()
	p.current = p.synth.Speak(ctx, text)
	return p.current
}

// Stop interrupts the current playback, if any
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupt()
}

func (p *Player) interrupt() {
	prev := p.current
	if prev == nil {
		return
	}
	p.current = nil
	prev.Stop()
	select {
	case <-prev.Done():
	case <-time.After(StopTimeout):
		log.WithField("text", prev.Text).Warn("previous speech did not stop")
	}
}

// Nop completes every utterance immediately
type Nop struct{}

func (Nop) Speak(ctx context.Context, text string) *Playback {
	return Finished(text, nil)
}
