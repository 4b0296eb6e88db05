package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/guestflow/cottage-agent/internal/agent"
	"github.com/guestflow/cottage-agent/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	// Local overrides (optional; missing file is fine).
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "process":
		processCmd(os.Args[2:])
	case "events":
		eventsCmd(os.Args[2:])
	case "version":
		fmt.Printf("cottage-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cottage-agent

Usage:
  cottage-agent init [flags]
  cottage-agent process [flags] <request...>
  cottage-agent events [flags]
  cottage-agent version

Commands:
  init        Write a config file for a workspace.
  process     Decompose and execute one request against the workspace.
  events      Print recent run events.
  version     Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	workspace := fs.String("workspace", "", "Workspace root directory (required)")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	stateDir := fs.String("state-dir", "", "State directory (default: ~/.cottage-agent)")
	vocabPath := fs.String("vocabulary", "", "YAML trigger-word override for the decomposer")
	devPort := fs.Int("dev-port", 0, "Development server port to probe (0: tool default)")

	logFormat := fs.String("log-format", "json", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")

	_ = fs.Parse(args)

	if strings.TrimSpace(*workspace) == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg := &config.Config{
		WorkspaceRoot:  *workspace,
		StateDir:       *stateDir,
		VocabularyPath: *vocabPath,
		DevServerPort:  *devPort,
		LogFormat:      *logFormat,
		LogLevel:       *logLevel,
	}
	if err := config.Save(filepath.Clean(*cfgPath), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written: %s\n", filepath.Clean(*cfgPath))
}

func processCmd(args []string) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	contextJSON := fs.String("context", "", "Run context as a JSON object (patch edits, probe port)")
	_ = fs.Parse(args)

	request := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if request == "" {
		fmt.Fprintln(os.Stderr, "missing request text")
		fs.Usage()
		os.Exit(2)
	}

	var runContext map[string]any
	if strings.TrimSpace(*contextJSON) != "" {
		if err := json.Unmarshal([]byte(*contextJSON), &runContext); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -context JSON: %v\n", err)
			os.Exit(2)
		}
	}

	a := mustAgent(*cfgPath)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel in-flight tools on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	rep := a.Process(ctx, request, runContext)

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if !rep.Success {
		os.Exit(1)
	}
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 50, "Maximum number of events to print")
	_ = fs.Parse(args)

	a := mustAgent(*cfgPath)
	defer a.Close()

	entries, err := a.Events(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list events: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		_ = enc.Encode(&e)
	}
}

func mustAgent(cfgPath string) *agent.Agent {
	cfg, err := config.Load(filepath.Clean(cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	a, err := agent.New(agent.Options{
		Config:    cfg,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init agent: %v\n", err)
		os.Exit(1)
	}
	return a
}
