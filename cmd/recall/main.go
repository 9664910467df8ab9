// Command recall stores and queries the assistant's conversation memory
// from the command line. Results are printed as JSON on stdout; logs go to
// stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iammorganparry/clive/apps/recall/internal/config"
	"github.com/iammorganparry/clive/apps/recall/internal/memory"
	"github.com/iammorganparry/clive/apps/recall/internal/models"
	"github.com/iammorganparry/clive/apps/recall/internal/telemetry"
)

const version = "0.1.0"

const usage = `usage: recall [--config FILE] [--dir DIR] <command> [args]

commands:
  store --input TEXT --response TEXT [--context TEXT] [--tag TAG ...]
  recall QUERY [--limit N]
  recent [--n N]
  pref set USER KEY VALUE
  pref get USER [KEY]
  patterns [TYPE]
  summary
  reconcile
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	// Logger
	level := new(slog.LevelVar)
	if os.Getenv("LOG_LEVEL") == "debug" {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	global := pflag.NewFlagSet("recall", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", os.Getenv("RECALL_CONFIG"), "YAML config file")
	dataDir := global.String("dir", "", "data directory (overrides config)")
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	// Config
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		level.Set(slog.LevelDebug)
	}

	// Metrics
	meterProvider, shutdownMetrics, err := telemetry.Setup(context.Background(), telemetry.Options{
		ServiceName:    "recall",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("metrics export disabled", "error", err)
	}

	opts := memory.OptionsFromConfig(cfg)
	opts.MeterProvider = meterProvider
	engine, err := memory.Open(opts, logger)
	if err != nil {
		logger.Error("failed to open memory engine", "error", err)
		os.Exit(1)
	}

	code := run(engine, args)
	if err := engine.Close(); err != nil {
		logger.Error("close memory engine", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdownMetrics(ctx); err != nil {
		logger.Warn("flush metrics", "error", err)
	}
	cancel()
	os.Exit(code)
}

func run(engine *memory.Engine, args []string) int {
	out, err := dispatch(engine, args[0], args[1:])
	if err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			fmt.Fprintf(os.Stderr, "%s: %s\n\n%s", args[0], uerr, usage)
			return 2
		}
		slog.Error("command failed", "command", args[0], "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("write output", "error", err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func dispatch(engine *memory.Engine, cmd string, args []string) (any, error) {
	switch cmd {
	case "store":
		flags := pflag.NewFlagSet("store", pflag.ContinueOnError)
		input := flags.String("input", "", "user input")
		response := flags.String("response", "", "assistant response")
		contextText := flags.String("context", "", "free-form context")
		tags := flags.StringArray("tag", nil, "tag (repeatable)")
		if err := flags.Parse(args); err != nil {
			return nil, usageError(err.Error())
		}
		if *input == "" {
			return nil, usageError("--input is required")
		}
		return engine.StoreConversation(*input, *response, *contextText, *tags)

	case "recall":
		flags := pflag.NewFlagSet("recall", pflag.ContinueOnError)
		limit := flags.Int("limit", 0, "maximum results")
		if err := flags.Parse(args); err != nil {
			return nil, usageError(err.Error())
		}
		return engine.Recall(strings.Join(flags.Args(), " "), *limit)

	case "recent":
		flags := pflag.NewFlagSet("recent", pflag.ContinueOnError)
		n := flags.Int("n", 0, "number of conversations")
		if err := flags.Parse(args); err != nil {
			return nil, usageError(err.Error())
		}
		return engine.Recent(*n)

	case "pref":
		return dispatchPref(engine, args)

	case "patterns":
		var t models.PatternType
		if len(args) > 0 {
			t = models.PatternType(args[0])
			if !t.IsValid() {
				return nil, usageError(fmt.Sprintf("unknown pattern type %q", args[0]))
			}
		}
		return engine.Patterns(t)

	case "summary":
		return engine.Summary()

	case "reconcile":
		return engine.Reconcile()

	default:
		return nil, usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func dispatchPref(engine *memory.Engine, args []string) (any, error) {
	if len(args) == 0 {
		return nil, usageError("pref needs set or get")
	}
	switch args[0] {
	case "set":
		if len(args) != 4 {
			return nil, usageError("pref set USER KEY VALUE")
		}
		user, key, value := args[1], args[2], args[3]
		if err := engine.SetPreference(user, key, value); err != nil {
			return nil, err
		}
		return map[string]string{"user_id": user, "key": key, "value": value}, nil
	case "get":
		switch len(args) {
		case 2:
			return engine.GetPreferences(args[1])
		case 3:
			return engine.PreferenceHistory(args[1], args[2])
		}
		return nil, usageError("pref get USER [KEY]")
	default:
		return nil, usageError(fmt.Sprintf("unknown pref command %q", args[0]))
	}
}
