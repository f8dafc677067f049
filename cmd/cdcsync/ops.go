package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/aura"
	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
	"github.com/ajitpratap0/cdcsync/pkg/graph"
	"github.com/ajitpratap0/cdcsync/pkg/metrics"
	"github.com/ajitpratap0/cdcsync/pkg/preflight"
)

// dialGraph opens a Neo4j connection; tests replace it
var dialGraph = func(ctx context.Context, db config.DatabaseConfig, log *zap.Logger) (graph.Runner, error) {
	c, err := graph.Connect(ctx, db, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

var (
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	hintColor = color.New(color.Faint)
)

func newPreflightCommand(a *app) *cobra.Command {
	var tfvars, output string

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check prerequisites before terraform apply",
		Long: `Preflight checks that the Azure CLI is logged in, Terraform is installed and
terraform.tfvars carries real Aura API credentials.`,
		RunE: func(*cobra.Command, []string) error {
			snapshot := preflight.NewGatherer(a.log).Gather(a.ctx, tfvars)
			results := preflight.Evaluate(snapshot)

			if err := render(a.out, output, results, func(w io.Writer) { preflightTable(w, results) }); err != nil {
				return err
			}
			if !preflight.AllPassed(results) {
				return errors.New(errors.ErrorTypeValidation, "some pre-flight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tfvars, "tfvars", "terraform/terraform.tfvars", "Path to terraform.tfvars")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func preflightTable(w io.Writer, results []preflight.CheckResult) {
	for _, r := range results {
		if r.Passed {
			passColor.Fprintf(w, "✓ %s\n", r.Message)
			continue
		}
		failColor.Fprintf(w, "✗ %s\n", r.Message)
		for _, h := range r.Hints {
			hintColor.Fprintf(w, "  %s\n", h)
		}
	}
	fmt.Fprintln(w)
	if preflight.AllPassed(results) {
		passColor.Fprintln(w, "All pre-flight checks passed")
		fmt.Fprintln(w, "Next steps: cd terraform && terraform init && terraform apply")
	}
}

func newCDCReadyCommand(a *app) *cobra.Command {
	opts := graph.DefaultReadyOptions()
	var verify bool
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "cdc-ready",
		Short: "Wait until CDC is enabled on the master database",
		RunE: func(*cobra.Command, []string) error {
			if err := a.cfg.ValidateMaster(); err != nil {
				return err
			}
			client, err := dialGraph(a.ctx, a.cfg.Master, a.log)
			if err != nil {
				return err
			}
			defer client.Close(context.Background())

			id, err := graph.WaitForCDCReady(a.ctx, client, opts, a.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "CDC ready (change id %s)\n", id)

			if !verify {
				return nil
			}
			changes, err := graph.VerifyCapturing(a.ctx, client, settle)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "CDC capturing changes (%d events)\n", changes)
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Maximum wait for CDC")
	cmd.Flags().DurationVar(&opts.Interval, "interval", opts.Interval, "Delay between checks")
	cmd.Flags().BoolVar(&verify, "verify", false, "Also write a probe node and check it is captured")
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "Wait before reading the change log when verifying")
	return cmd
}

func newHeartbeatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Write a heartbeat node periodically to keep the pipeline warm",
		RunE: func(*cobra.Command, []string) error {
			if err := a.cfg.ValidateHeartbeat(); err != nil {
				return err
			}
			hc := a.cfg.Heartbeat

			ctx, stop := signal.NotifyContext(a.ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var srv *http.Server
			if hc.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv = &http.Server{Addr: hc.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server failed", zap.Error(err))
					}
				}()
				a.log.Info("serving metrics", zap.String("addr", hc.MetricsAddr))
			}

			dial := func(ctx context.Context) (graph.Runner, error) {
				return dialGraph(ctx, hc.DatabaseConfig, a.log)
			}
			hb := graph.NewHeartbeat(dial, graph.HeartbeatConfig{
				Interval:    hc.Interval,
				MaxFailures: hc.MaxFailures,
			}, a.log)

			err := hb.Run(ctx)
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err = multierr.Append(err, srv.Shutdown(shutdownCtx))
			}
			return err
		},
	}
}

func newTokenCommand(a *app) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a Neo4j Aura API access token",
		RunE: func(*cobra.Command, []string) error {
			if err := a.cfg.ValidateAura(); err != nil {
				return err
			}

			var cache *aura.FileCache
			if !noCache {
				path := a.cfg.Aura.CachePath
				if path == "" {
					p, err := aura.DefaultCachePath()
					if err != nil {
						return err
					}
					path = p
				}
				cache = aura.NewFileCache(path)
			}

			src := aura.NewSource(aura.CredentialsFrom(a.cfg.Aura), cache, nil, a.log)
			token, err := src.Token(a.ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Always request a fresh token")
	return cmd
}
