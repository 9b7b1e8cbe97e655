package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/kay-mw/mkdockyard/cache"
	"github.com/kay-mw/mkdockyard/config"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const defaultConfigPath = "mkdockyard.yml"

// Output formats accepted by -format.
const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

type command struct {
	name    string
	summary string
	flags   func(flags *flag.FlagSet, opts *options) // Optional command-specific flags
	run     func(ctx context.Context, e *env) error
}

// options holds the values of command-specific flags.
type options struct {
	checkCollisions bool
	python          string
	noPrune         bool
	budget          string
}

// errUsage reports invalid arguments after the usage text has been printed.
var errUsage = stderrors.New("invalid usage")

var commands = []command{
	{"resolve", "Fetch the configured repositories and print their paths", resolveFlags, resolveCmd},
	{"prune", "Evict least recently used entries until the cache fits its budget", pruneFlags, pruneCmd},
	{"list", "Show cache entries", nil, listCmd},
	{"verify", "Reconcile the index with the cache directory", nil, verifyCmd},
}

// env is what every subcommand receives after the common flags are parsed.
type env struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	cfg    *config.Config
	format string
	opts   options
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		e, err := setup(ctx, c, args[1:], stdout, stderr)
		switch {
		case stderrors.Is(err, flag.ErrHelp):
			return exitOK
		case stderrors.Is(err, errUsage):
			return exitUsage
		case err != nil:
			return report(stderr, formatText, err)
		}
		if err := c.run(ctx, e); err != nil {
			return report(stderr, e.format, err)
		}
		return exitOK
	}

	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mkdockyard <command> [options]")
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
}

// setup parses the flags shared by all subcommands, loads the configuration
// and builds the logger.
func setup(ctx context.Context, c command, args []string, stdout, stderr io.Writer) (*env, error) {
	var opts options
	flags := flag.NewFlagSet(c.name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", defaultConfigPath, "configuration file (.yml, .yaml, .json or .cue)")
	verbose := flags.Bool("v", false, "enable debug logging")
	format := flags.String("format", formatText, "output format: text|yaml|json")
	if c.flags != nil {
		c.flags(flags, &opts)
	}
	if err := flags.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", flags.Args())
		return nil, errUsage
	}

	switch *format {
	case formatText, formatYAML, formatJSON:
	default:
		fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return nil, errUsage
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(ctx, *configPath, flags, logger)
	if err != nil {
		return nil, err
	}

	return &env{
		stdout: stdout,
		stderr: stderr,
		logger: logger,
		cfg:    cfg,
		format: *format,
		opts:   opts,
	}, nil
}

// loadConfig reads the configuration file. The default file may be absent,
// in which case built-in defaults apply; an explicit -config must exist.
func loadConfig(ctx context.Context, path string, flags *flag.FlagSet, logger *slog.Logger) (*config.Config, error) {
	explicit := false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, err := config.Load(ctx, path)
	if err != nil && !explicit && errors.GetCode(err) == errors.CodeNotFound {
		logger.Debug("No configuration file, using defaults", "path", path)
		return config.Default(ctx)
	}
	return cfg, err
}

func openStore(e *env) (*cache.Store, error) {
	return cache.Open(e.cfg.CacheDir, e.cfg.StoreOptions(e.logger)...)
}

// write renders v in the requested structured format. Text output is
// handled by each command.
func write(w io.Writer, format string, v interface{}) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
}

// report prints err and returns the failure exit code. JSON output uses the
// platform error envelope so callers can branch on the code.
func report(w io.Writer, format string, err error) int {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(errors.ToJSON(err)); encErr == nil {
			return exitFailure
		}
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return exitFailure
}
