package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/chzyer/readline"

	imagenarrator "github.com/menta2k/image-narrator"
	"github.com/menta2k/image-narrator/internal/config"
	"github.com/menta2k/image-narrator/pkg/history"
	"github.com/menta2k/image-narrator/pkg/orchestrator"
	"github.com/menta2k/image-narrator/pkg/source"
)

const usage = `commands:
  camera        capture a photo and describe it
  file [path]   pick an image file and describe it
  history [n]   show the last n requests
  help          show this help
  quit          exit`

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("image-narrator failed")
	}
}

func run() error {
	var configPath, backend, in string
	var camera, serve bool

	flag.StringVar(&configPath, "config", config.GetConfigPath(), "configuration file (YAML)")
	flag.StringVar(&backend, "backend", "", "analysis backend: azure|ollama|llamacpp|gcv (overrides config)")
	flag.StringVar(&in, "in", "", "describe this image file and exit")
	flag.BoolVar(&camera, "camera", false, "capture one camera photo, describe it and exit")
	flag.BoolVar(&serve, "serve", false, "serve the HTTP API instead of the console")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case serve:
		n, err := imagenarrator.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer n.Close()
		log.WithFields(log.Fields{"backend": cfg.Backend, "addr": cfg.Server.Addr}).Info("starting image-narrator")
		return n.Server().Run(ctx, cfg.Server.Addr)

	case in != "" || camera:
		n, err := imagenarrator.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer n.Close()
		var outcome orchestrator.Outcome
		if camera {
			outcome, err = n.Trigger(ctx, source.Camera)
		} else {
			outcome, err = n.DescribeFile(ctx, in)
		}
		if err != nil {
			return err
		}
		waitForSpeech(ctx, outcome)
		if failed, ok := outcome.(*orchestrator.AnalysisFailed); ok && failed.Reason != nil {
			return failed.Reason
		}
		return nil

	default:
		return console(ctx, cfg)
	}
}

func console(ctx context.Context, cfg *config.Config) error {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("camera"),
		readline.PcItem("file"),
		readline.PcItem("history"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "narrator> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	n, err := imagenarrator.New(ctx, cfg,
		imagenarrator.WithOutput(rl.Stdout()),
		imagenarrator.WithPrompter(source.NewReadlinePrompter(rl)))
	if err != nil {
		return err
	}
	defer n.Close()

	fmt.Fprintf(rl.Stdout(), "image-narrator %s using %s, type help for commands\n", imagenarrator.Version, n.Orchestrator().Backend())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			fmt.Fprintln(rl.Stdout(), usage)
		case "history":
			showHistory(ctx, rl.Stdout(), n.History(), args)
		case "file":
			if len(args) > 0 {
				report(rl.Stdout(), func() (orchestrator.Outcome, error) {
					return n.DescribeFile(ctx, strings.Join(args, " "))
				})
				continue
			}
			fallthrough
		default:
			mode, err := source.ParseTrigger(cmd)
			if err != nil {
				fmt.Fprintf(rl.Stdout(), "unknown command %q, type help\n", cmd)
				continue
			}
			report(rl.Stdout(), func() (orchestrator.Outcome, error) {
				return n.Trigger(ctx, mode)
			})
		}
	}
}

// report prints trigger errors; outcomes are already printed by the presenter
func report(w io.Writer, trigger func() (orchestrator.Outcome, error)) {
	if _, err := trigger(); err != nil {
		if errors.Is(err, orchestrator.ErrBusy) {
			fmt.Fprintln(w, "busy: a request is already in progress")
			return
		}
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

func showHistory(ctx context.Context, w io.Writer, store *history.Store, args []string) {
	if store == nil {
		fmt.Fprintln(w, "history is disabled, set history.path in the configuration")
		return
	}
	limit := history.DefaultLimit
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			limit = v
		}
	}
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	for _, e := range entries {
		detail := e.Description
		if e.ErrorKind != "" {
			detail = e.ErrorKind
		}
		fmt.Fprintf(w, "%s  %-10s %-8s %-17s %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Mode, e.Backend, e.Kind, detail)
	}
}

func waitForSpeech(ctx context.Context, outcome orchestrator.Outcome) {
	success, ok := outcome.(*orchestrator.Success)
	if !ok || success.Speech == nil {
		return
	}
	if err := success.Speech.Wait(ctx); err != nil {
		log.WithError(err).Debug("speech did not finish")
	}
}

func setupLogging(cfg config.LogConfig) {
	switch cfg.Format {
	case "json":
		log.SetHandler(json.New(os.Stderr))
	case "text":
		log.SetHandler(text.New(os.Stderr))
	default:
		log.SetHandler(cli.New(os.Stderr))
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
