package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/internal/pipeline"
	"github.com/ajitpratap0/cdcsync/pkg/clients"
	"github.com/ajitpratap0/cdcsync/pkg/config"
	"github.com/ajitpratap0/cdcsync/pkg/connect"
	"github.com/ajitpratap0/cdcsync/pkg/topics"
)

type deployFlags struct {
	maxWait      time.Duration
	pollInterval time.Duration
	readyTimeout time.Duration
	noRestart    bool
}

func newDeployCommand(a *app) *cobra.Command {
	var f deployFlags

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the CDC source and sink connectors",
		Long: `Deploy waits for the Kafka Connect REST API, makes sure the CDC topic exists
with a single partition, submits the source connector and waits for it to run,
then does the same for the sink. Re-running it replaces both configs in place.

Example:
  cdcsync deploy --max-wait 2m --poll-interval 5s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, a.cfg)
			return runDeploy(a)
		},
	}

	cmd.Flags().DurationVar(&f.maxWait, "max-wait", 0, "Maximum wait per connector for RUNNING (overrides DEPLOY_MAX_WAIT)")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 0, "Delay between status polls (overrides DEPLOY_POLL_INTERVAL)")
	cmd.Flags().DurationVar(&f.readyTimeout, "ready-timeout", 0, "Maximum wait for the Connect REST API (overrides CONNECT_READY_TIMEOUT)")
	cmd.Flags().BoolVar(&f.noRestart, "no-restart", false, "Skip the source task restart after both connectors run")
	return cmd
}

func (f deployFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("max-wait") {
		cfg.Deploy.MaxWait = f.maxWait
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.Deploy.PollInterval = f.pollInterval
	}
	if cmd.Flags().Changed("ready-timeout") {
		cfg.Connect.ReadyTimeout = f.readyTimeout
	}
	if f.noRestart {
		cfg.Deploy.RestartSourceTask = false
	}
}

func runDeploy(a *app) error {
	cfg := a.cfg
	if err := cfg.ValidateDeploy(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(a.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, closeClient, err := newConnectClient(cfg, a.log)
	if err != nil {
		return err
	}
	defer closeClient()

	var guard pipeline.TopicGuard
	if cfg.Topic.RequireOrdering {
		mgr, err := topics.NewManager(cfg.Kafka, a.log)
		if err != nil {
			return err
		}
		defer mgr.Close()
		guard = mgr
	}

	orch, err := pipeline.NewOrchestrator(client, guard, pipeline.ConfigFrom(cfg), a.log)
	if err != nil {
		return err
	}

	source := connect.BuildSourceConfig(connect.SourceOptions{
		Master:            endpoint(cfg.Master),
		Topic:             cfg.Topic.Name,
		Partitions:        1,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
	})
	sink := connect.BuildSinkConfig(connect.SinkOptions{
		Subscriber: endpoint(cfg.Subscriber),
		Topic:      cfg.Topic.Name,
		DLQ:        cfg.Topic.DLQ,
	})

	a.log.Info("deploying CDC pipeline",
		zap.String("connect_url", client.BaseURL()),
		zap.String("topic", cfg.Topic.Name),
		zap.Bool("require_ordering", cfg.Topic.RequireOrdering))

	result, err := orch.Run(ctx, source, sink)
	printDeployResult(a.out, result)
	return err
}

func newConnectClient(cfg *config.Config, log *zap.Logger) (*connect.Client, func(), error) {
	httpClient := clients.NewHTTPClient(nil, log)
	client, err := connect.NewClient(cfg.Connect.URL, httpClient, log,
		connect.WithSubmitTimeout(cfg.Connect.SubmitTimeout),
		connect.WithRequestTimeout(cfg.Connect.RequestTimeout))
	if err != nil {
		_ = httpClient.Close()
		return nil, nil, err
	}
	return client, func() {
		stats := httpClient.GetStats()
		log.Info("Kafka Connect requests",
			zap.Int64("total", stats.TotalRequests),
			zap.Int64("failed", stats.FailedRequests),
			zap.Float64("success_rate", stats.SuccessRate))
		_ = httpClient.Close()
	}, nil
}

func endpoint(db config.DatabaseConfig) connect.Neo4jEndpoint {
	return connect.Neo4jEndpoint{URI: db.URI, Username: db.Username, Password: db.Password}
}

func printDeployResult(out io.Writer, r pipeline.PipelineResult) {
	for _, d := range []pipeline.DeploymentResult{r.Source, r.Sink} {
		if d.Connector == "" {
			continue
		}
		state := "-"
		if d.Status != nil {
			state = d.Status.Summary()
		}
		line := fmt.Sprintf("%-28s %-24s %s", d.Connector, state, d.Elapsed.Round(time.Millisecond))
		if d.FailureReason != "" {
			line += "  " + d.FailureReason
		}
		fmt.Fprintln(out, line)
	}
	if r.Partitions > 0 {
		fmt.Fprintf(out, "topic %s: %d partition(s)\n", r.Topic, r.Partitions)
	}
	if r.Succeeded() {
		fmt.Fprintf(out, "pipeline deployed in %s\n", r.Elapsed.Round(time.Millisecond))
	}
}
