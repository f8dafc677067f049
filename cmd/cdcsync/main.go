package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/logger"
	"github.com/ajitpratap0/cdcsync/pkg/observability"
)

var version = "0.1.0"

// app carries what every subcommand needs once flags are parsed
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	runID string
	out   io.Writer
	ctx   context.Context

	logLevel  string
	logFormat string
	trace     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, describeFailure(err))
		return 1
	}
	return 0
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "cdcsync",
		Short: "Deploy and operate the Neo4j CDC pipeline over Kafka Connect",
		Long: `cdcsync deploys the Neo4j CDC source and sink connectors to a Kafka Connect
worker in the right order, keeps the change topic single-partitioned, and
ships the operational helpers around the pipeline.

All settings come from environment variables; no configuration file is read.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log encoding (json, console); overrides LOG_FORMAT")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(
		newDeployCommand(a),
		newStatusCommand(a),
		newPreflightCommand(a),
		newCDCReadyCommand(a),
		newVerifyCommand(a),
		newHeartbeatCommand(a),
		newTokenCommand(a),
		newVersionCommand(out),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Format}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "initialize logger")
	}

	if a.trace {
		if err := observability.Initialize(observability.DefaultTracingConfig(version)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "initialize tracing")
		}
	}

	a.cfg = cfg
	a.runID = uuid.NewString()
	a.ctx = logger.WithRunID(ctx, a.runID)
	a.log = logger.WithContext(a.ctx).With(zap.String("component", "cdcsync-cli"))
	return nil
}

func (a *app) teardown() error {
	_ = logger.Sync()
	if !a.trace {
		return nil
	}
	return observability.Shutdown(context.Background())
}

func newVersionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// no config needed
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(out, "cdcsync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// describeFailure names the connector and the error kind when err carries them
func describeFailure(err error) string {
	var parts []string
	if c, ok := errors.DetailOf(err, "connector").(string); ok && c != "" {
		parts = append(parts, "connector="+c)
	}
	if kind := errors.TypeOf(err); kind != "" {
		parts = append(parts, "kind="+string(kind))
	}
	if len(parts) == 0 {
		return "error: " + err.Error()
	}
	return "error: " + strings.Join(parts, " ") + ": " + err.Error()
}
