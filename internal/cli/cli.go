package cli

import (
	"errors"
	"flag"
	"io"
	"strings"
	"time"
)

// CLIArgs are the command-line arguments of the proctord server. Empty
// values leave the loaded configuration untouched.
type CLIArgs struct {
	// ConfigPath is an optional YAML file; PROCTOR_* variables still win.
	ConfigPath string

	ListenAddr   string
	StoreBackend string
	LogFormat    string
	LogLevel     string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("proctord", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "Path to a YAML config file")
		listen     = fs.String("listen", "", "HTTP listen address, e.g. :8080")
		store      = fs.String("store", "", "Ledger store: memory|sqlite|redis")
		logFormat  = fs.String("log-format", "", "Log format: zap|json")
		logLevel   = fs.String("log-level", "", "Log level: debug|info|warn|error")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.New("unexpected positional arguments: " + strings.Join(fs.Args(), " "))
	}

	return &CLIArgs{
		ConfigPath:   *configPath,
		ListenAddr:   *listen,
		StoreBackend: *store,
		LogFormat:    *logFormat,
		LogLevel:     *logLevel,
		RawArgs:      args,
	}, nil
}

// SimArgs drive the simulated student command.
type SimArgs struct {
	ConfigPath string
	Server     string
	ExamID     string
	Students   int
	Scenario   string
	Token      string
	// Timeout bounds the whole run; 0 means no limit.
	Timeout time.Duration
	// QueueDir holds one offline-queue database per student; empty keeps
	// queues in memory.
	QueueDir string

	RawArgs []string
}

// ParseSimArgs is ParseArgs for simstudent.
func ParseSimArgs(args []string) (*SimArgs, error) {
	fs := flag.NewFlagSet("simstudent", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "Path to a YAML config file")
		server     = fs.String("server", "http://localhost:8080", "Base URL of the proctor server (required)")
		exam       = fs.String("exam", "demo-exam", "Exam id to join")
		students   = fs.Int("students", 1, "Number of concurrent simulated students")
		scenario   = fs.String("scenario", "ladder", "Behaviour script: honest|ladder|tab-hopper|fullscreen|screenshot|phone")
		token      = fs.String("token", "", "Bearer token sent with every request")
		timeout    = fs.Duration("timeout", 2*time.Minute, "Overall run timeout (0 = none)")
		queueDir   = fs.String("queue-dir", "", "Directory for per-student offline queue databases")
	)
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*server) == "" {
		return nil, errors.New("missing required -server argument")
	}
	if *students < 1 {
		return nil, errors.New("-students must be at least 1")
	}

	return &SimArgs{
		ConfigPath: *configPath,
		Server:     *server,
		ExamID:     *exam,
		Students:   *students,
		Scenario:   *scenario,
		Token:      *token,
		Timeout:    *timeout,
		QueueDir:   *queueDir,
		RawArgs:    args,
	}, nil
}
