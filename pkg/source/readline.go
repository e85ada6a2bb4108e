package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/menta2k/image-narrator/internal/utils"
)

// ReadlinePrompter prompts on a shared readline instance with image file
// name completion. The instance prompt and completer are restored afterwards.
type ReadlinePrompter struct {
	rl *readline.Instance
}

func NewReadlinePrompter(rl *readline.Instance) *ReadlinePrompter {
	return &ReadlinePrompter{rl: rl}
}

func (p *ReadlinePrompter) Prompt(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cfg := p.rl.Config
	oldCompleter := cfg.AutoComplete
	cfg.AutoComplete = FileCompleter{}
	p.rl.SetPrompt(message)
	defer func() {
		cfg.AutoComplete = oldCompleter
		p.rl.SetPrompt(cfg.Prompt)
	}()

	return p.rl.Readline()
}

// FileCompleter completes directories and allow-listed image files
type FileCompleter struct{}

func (FileCompleter) Do(line []rune, pos int) ([][]rune, int) {
	typed := string(line[:pos])
	dir, base := filepath.Split(typed)
	lookup := dir
	if lookup == "" {
		lookup = "."
	}
	if strings.HasPrefix(lookup, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			lookup = filepath.Join(home, strings.TrimPrefix(lookup, "~"))
		}
	}

	entries, err := os.ReadDir(lookup)
	if err != nil {
		return nil, 0
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		switch {
		case e.IsDir():
			names = append(names, name+string(filepath.Separator))
		case utils.IsImageFile(name):
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([][]rune, 0, len(names))
	for _, n := range names {
		out = append(out, []rune(strings.TrimPrefix(n, base)))
	}
	return out, len([]rune(base))
}
