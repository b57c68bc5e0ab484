package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/internal/cli/config"
	"github.com/yndnr/tidekv/internal/infra/buildinfo"
	"github.com/yndnr/tidekv/internal/infra/shutdown"
	"github.com/yndnr/tidekv/internal/telemetry/logger"
	"github.com/yndnr/tidekv/pkg/tidekv"
)

// App metadata keys.
const (
	metaConfig   = "config"
	metaRegistry = "registry"
)

// drainTimeout bounds closing stores left open when a command returns.
const drainTimeout = 5 * time.Second

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "tidekv-cli",
		Usage:   "Inspect and edit tidekv store files",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			GetCommand(),
			SetCommand(),
			DeleteCommand(),
			ListCommand(),
			IncrCommand(),
			LoadCommand(),
			CompactCommand(),
			ClearCommand(),
			StatCommand(),
			WatchCommand(),
			ImportCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Metadata: map[string]any{},
		Before:   before,
		After:    after,
	}
}

// flagKeys maps global flags to the configuration keys they override.
var flagKeys = map[string]string{
	"db":         "db",
	"codec":      "codec",
	"key-fold":   "key_fold",
	"seal-key":   "seal_key",
	"output":     "output",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// globalFlags returns the global CLI flags. They carry no defaults so that
// only flags given on the command line override the file and environment.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			Aliases: []string{"d"},
			Usage:   "Store file path (default tidekv.db)",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file (default ~/.tidekv/cli.yaml)",
			EnvVars: []string{"TIDEKV_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "codec",
			Usage: "Value codec: json, yaml, string, raw",
		},
		&cli.BoolFlag{
			Name:  "key-fold",
			Usage: "Fold key case so Key and KEY are the same entry",
		},
		&cli.StringFlag{
			Name:  "seal-key",
			Usage: "Hex-encoded 32-byte key; values are encrypted with it",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:  "no-headers",
			Usage: "Omit table headers",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: console, text, json",
		},
	}
}

// flagOverrides collects the global flags set on the command line.
func flagOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if !c.IsSet(flag) {
			continue
		}
		if flag == "key-fold" {
			overrides[key] = c.Bool(flag)
		} else {
			overrides[key] = c.String(flag)
		}
	}
	return overrides
}

func before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), flagOverrides(c))
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaRegistry] = shutdown.NewRegistry(log.Slog())
	c.Context = logger.WithLogger(c.Context, log)
	return nil
}

// after closes any store a command left open.
func after(c *cli.Context) error {
	reg := cliRegistry(c)
	if reg == nil {
		return nil
	}
	if open := reg.Open(); len(open) > 0 {
		cliLogger(c).Debug("closing stores left open", "paths", open)
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return reg.Drain(ctx)
}

// cliConfig returns the configuration loaded by before.
func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// cliLogger returns the logger before attached to the run's context.
func cliLogger(c *cli.Context) logger.Logger {
	return logger.FromContext(c.Context).WithContext(c.Context)
}

// cliRegistry returns the registry of stores opened by this run.
func cliRegistry(c *cli.Context) *shutdown.Registry {
	reg, _ := c.App.Metadata[metaRegistry].(*shutdown.Registry)
	return reg
}

// Exit codes returned by the CLI.
const (
	ExitFailure = 1
	// ExitCorrupt means the store file is damaged or not a store at all.
	ExitCorrupt = 2
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if tidekv.IsCorruption(err) {
		return ExitCorrupt
	}
	return ExitFailure
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
