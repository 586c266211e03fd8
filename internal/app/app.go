package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/callout"
	"github.com/awender/crosstalk/internal/cli"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/doctor"
	"github.com/awender/crosstalk/internal/indicator"
	"github.com/awender/crosstalk/internal/ipc"
	"github.com/awender/crosstalk/internal/logging"
	"github.com/awender/crosstalk/internal/metrics"
	"github.com/awender/crosstalk/internal/output"
	"github.com/awender/crosstalk/internal/pipeline"
	"github.com/awender/crosstalk/internal/session"
	"github.com/awender/crosstalk/internal/store"
	"github.com/awender/crosstalk/internal/suggest"
	"github.com/awender/crosstalk/internal/version"
	"github.com/awender/crosstalk/internal/wm"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("crosstalk"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("crosstalk"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	loadSecrets(cfgLoaded.Path, logger)

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandSessions:
		return r.commandSessions(cfgLoaded.Config)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStart:
		return r.forwardOrFail(ctx, "start")
	case cli.CommandStop:
		return r.forwardOrFail(ctx, "stop")
	case cli.CommandPause:
		return r.forwardOrFail(ctx, "pause")
	case cli.CommandResume:
		return r.forwardOrFail(ctx, "resume")
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, "cancel")
	case cli.CommandRecord:
		return r.commandRecord(ctx, cfgLoaded.Config, logger, parsed.Idle)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// loadSecrets reads the optional "env" file next to the config file into
// the environment without overriding values the caller already set.
func loadSecrets(configPath string, logger *slog.Logger) {
	path := filepath.Join(filepath.Dir(configPath), "env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logger.Warn("load secrets failed", "path", path, "error", err.Error())
		return
	}
	logger.Debug("secrets loaded", "path", path)
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		kind := "source"
		if device.Monitor {
			kind = "monitor"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | kind=%s | description=%q | state=%s | available=%s\n",
			defaultMark,
			device.ID,
			kind,
			device.Description,
			device.State,
			availability,
		)
	}

	return 0
}

func (r Runner) commandSessions(cfg config.Config) int {
	sessions, err := store.New(cfg.Store.Dir)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	metas, err := sessions.ListSessions()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(metas) == 0 {
		fmt.Fprintln(r.Stdout, "no stored sessions")
		return 0
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].StartedAt.After(metas[j].StartedAt)
	})
	for _, meta := range metas {
		fmt.Fprintf(
			r.Stdout,
			"%s | %s | %s | %s\n",
			meta.ID,
			meta.Title,
			meta.StartedAt.Local().Format("2006-01-02 15:04"),
			meta.Duration().Round(time.Second),
		)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		for _, key := range []string{"session", "mic", "system", "sync_rate"} {
			if value := resp.Detail[key]; value != "" {
				fmt.Fprintf(r.Stdout, "%s=%s\n", key, value)
			}
		}
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no crosstalk daemon running (use `crosstalk record`)\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRecord runs the capture daemon: it owns the unix socket, serves IPC
// commands, and hosts the session controller until the context is cancelled.
func (r Runner) commandRecord(ctx context.Context, cfg config.Config, logger *slog.Logger, idle bool) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a crosstalk daemon is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv, errCh := m.Serve(cfg.Metrics.Listen)
		defer func() { _ = srv.Close() }()
		go func() {
			if serveErr := <-errCh; serveErr != nil {
				logger.Warn("metrics listener stopped", "error", serveErr.Error())
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	sessions, err := store.New(cfg.Store.Dir)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: session store unavailable: %v\n", err)
		logger.Warn("session store unavailable", "error", err.Error())
		sessions = nil
	}

	ind := indicator.NewDesktop(cfg.Indicator, logger)
	clip := output.NewClipboard(cfg.Clipboard, logger)

	var notes session.Notes
	var observer session.Observer
	generator, err := suggest.NewGenerator(ctx, cfg.Suggest, logger)
	if err != nil {
		logger.Warn("suggestion generator unavailable; callouts and notes disabled", "error", err.Error())
	} else {
		notes = notesAdapter{generator}
		if cfg.Callout.Enable {
			observer = r.buildScheduler(cfg, sessions, generator, m, ind, clip, logger)
		}
	}

	pipe := pipeline.New(cfg, m, logger)
	controller := session.NewController(
		cfg,
		logger,
		pipe,
		storeOrNil(sessions),
		notes,
		observer,
		wm.Prober{},
		ind,
	)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller)
	}()

	if !idle {
		if resp := controller.Handle(ctx, ipc.Request{Command: "start"}); !resp.OK {
			fmt.Fprintf(r.Stderr, "error: %s\n", resp.Error)
		}
	}

	controller.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	return 0
}

// buildScheduler wires the callout scheduler with store-backed retrieval and
// desktop/clipboard delivery.
func (r Runner) buildScheduler(
	cfg config.Config,
	sessions *store.Store,
	generator *suggest.Generator,
	m *metrics.Metrics,
	ind *indicator.Desktop,
	clip *output.Clipboard,
	logger *slog.Logger,
) *callout.Scheduler {
	var retriever callout.Retriever
	if sessions != nil {
		retriever = store.NewRetriever(sessions)
	}

	onCallout := func(c callout.Callout) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ind.CalloutReady(ctx, c.Question, c.Suggestion)
		if cfg.Callout.CopyToClipboard {
			clip.CopyLogged(ctx, c.Suggestion)
		}
	}

	sched := callout.NewScheduler(callout.Config{
		DebounceMs:     cfg.Callout.DebounceMs,
		WindowSize:     cfg.Callout.WindowSize,
		MinCancelWords: cfg.Callout.MinCancelWords,
		MaxExcerpts:    cfg.Suggest.MaxExcerpts,
	}, retriever, generator, onCallout, logger)
	sched.OnOutcome(m.RecordCallout)
	return sched
}

// storeOrNil keeps the controller's nil-collaborator fallback working when
// the store failed to initialize.
func storeOrNil(s *store.Store) session.Store {
	if s == nil {
		return nil
	}
	return s
}

// notesAdapter exposes the suggestion client's notes call under the session
// collaborator contract.
type notesAdapter struct {
	generator *suggest.Generator
}

func (n notesAdapter) Generate(ctx context.Context, transcript string) (string, error) {
	return n.generator.Notes(ctx, transcript)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
