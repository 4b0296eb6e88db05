// Package agent assembles the engine: config, logging, single-instance lock,
// backup store, event log, tool registry, and the orchestrator, behind one
// Process entry point.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guestflow/cottage-agent/internal/backup"
	"github.com/guestflow/cottage-agent/internal/builtin"
	"github.com/guestflow/cottage-agent/internal/checkpoint"
	"github.com/guestflow/cottage-agent/internal/config"
	"github.com/guestflow/cottage-agent/internal/eventlog"
	"github.com/guestflow/cottage-agent/internal/lockfile"
	"github.com/guestflow/cottage-agent/internal/orchestrator"
	"github.com/guestflow/cottage-agent/internal/task"
	"github.com/guestflow/cottage-agent/internal/tool"
)

type Options struct {
	Config *config.Config

	Version   string
	Commit    string
	BuildTime string
}

// Agent owns the engine's long-lived state. One Agent per state directory;
// the lock file enforces it.
type Agent struct {
	cfg *config.Config
	log *slog.Logger

	version   string
	commit    string
	buildTime string

	lock    *lockfile.Lock
	backups *backup.Store
	events  *eventlog.Store
	engine  *orchestrator.Engine
}

func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config

	workspace, err := filepath.Abs(strings.TrimSpace(cfg.WorkspaceRoot))
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(workspace); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", workspace)
	}

	logger, err := newLogger(strings.TrimSpace(cfg.LogFormat), strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	stateDir := cfg.EffectiveStateDir()
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}

	lock, err := lockfile.Acquire(filepath.Join(stateDir, "agent.lock"))
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			if owner, oerr := lockfile.ReadOwner(filepath.Join(stateDir, "agent.lock")); oerr == nil {
				return nil, fmt.Errorf("another agent (pid %d) already uses %s", owner.PID, stateDir)
			}
		}
		return nil, err
	}

	a := &Agent{
		cfg:       cfg,
		log:       logger,
		version:   strings.TrimSpace(opts.Version),
		commit:    strings.TrimSpace(opts.Commit),
		buildTime: strings.TrimSpace(opts.BuildTime),
		lock:      lock,
	}

	a.events, err = eventlog.New(eventlog.Options{Logger: logger, StateDir: stateDir})
	if err != nil {
		a.closeOnInitError()
		return nil, err
	}
	a.backups, err = backup.Open(stateDir)
	if err != nil {
		a.closeOnInitError()
		return nil, err
	}

	registry := tool.NewRegistry()
	if err := builtin.RegisterAll(registry, builtin.Options{
		WorkspaceRoot: workspace,
		Backups:       a.backups,
		Log:           logger,
	}); err != nil {
		a.closeOnInitError()
		return nil, err
	}

	vocab := task.DefaultVocabulary()
	if path := strings.TrimSpace(cfg.VocabularyPath); path != "" {
		vocab, err = task.LoadVocabulary(path)
		if err != nil {
			a.closeOnInitError()
			return nil, err
		}
	}

	manager := checkpoint.NewManager(logger, a.events)
	a.engine, err = orchestrator.New(orchestrator.Options{
		Registry:      registry,
		Invoker:       tool.NewInvoker(registry, logger, a.events),
		Decomposer:    task.NewDecomposer(vocab, logger),
		Checkpoint:    manager,
		Rollback:      checkpoint.NewEngine(a.backups, manager, logger, a.events),
		Policy:        cfg.RollbackPolicy(),
		WorkspaceRoot: workspace,
		TaskTimeout:   time.Duration(cfg.TaskTimeoutMs) * time.Millisecond,
		Log:           logger,
		Sink:          a.events,
	})
	if err != nil {
		a.closeOnInitError()
		return nil, err
	}

	logger.Info("agent ready",
		"workspace_root", workspace,
		"state_dir", stateDir,
		"version", a.version)
	return a, nil
}

// Process handles one user request end to end.
func (a *Agent) Process(ctx context.Context, request string, runContext map[string]any) orchestrator.Report {
	if a == nil || a.engine == nil {
		return orchestrator.Report{
			Err: &orchestrator.RunError{Code: tool.ErrorCodeUnknown, Message: "agent not initialized"},
		}
	}
	if a.cfg.DevServerPort > 0 {
		merged := make(map[string]any, len(runContext)+1)
		for k, v := range runContext {
			merged[k] = v
		}
		if _, ok := merged["port"]; !ok {
			merged["port"] = a.cfg.DevServerPort
		}
		runContext = merged
	}
	return a.engine.Process(ctx, request, runContext)
}

// Events returns recent run events, newest first.
func (a *Agent) Events(limit int) ([]eventlog.Entry, error) {
	if a == nil || a.events == nil {
		return nil, nil
	}
	return a.events.List(limit)
}

// Version reports the build identity baked in at link time.
func (a *Agent) Version() (version, commit, buildTime string) {
	if a == nil {
		return "", "", ""
	}
	return a.version, a.commit, a.buildTime
}

// Close flushes the event log and releases the instance lock.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.events != nil {
		a.events.Close()
	}
	if a.backups != nil {
		if err := a.backups.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Agent) closeOnInitError() {
	_ = a.Close()
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
