package preflight

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// CommandRunner runs an external command and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements CommandRunner
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// Gatherer collects a Snapshot from the local machine
type Gatherer struct {
	Runner           CommandRunner
	AzureTimeout     time.Duration
	TerraformTimeout time.Duration
	Logger           *zap.Logger
}

// NewGatherer returns a Gatherer using os/exec and the usual timeouts
func NewGatherer(logger *zap.Logger) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{
		Runner:           ExecRunner{},
		AzureTimeout:     30 * time.Second,
		TerraformTimeout: 10 * time.Second,
		Logger:           logger.With(zap.String("component", "preflight")),
	}
}

// Gather probes az and terraform and reads tfvarsPath
func (g *Gatherer) Gather(ctx context.Context, tfvarsPath string) Snapshot {
	s := Snapshot{
		Azure:      g.probe(ctx, g.AzureTimeout, "az", "account", "show", "--query", "name", "-o", "tsv"),
		Terraform:  g.probe(ctx, g.TerraformTimeout, "terraform", "version", "-json"),
		TFVarsPath: tfvarsPath,
	}

	data, err := os.ReadFile(tfvarsPath)
	switch {
	case err == nil:
		s.TFVarsFound = true
		s.TFVars = string(data)
	case !stderrors.Is(err, os.ErrNotExist):
		g.Logger.Warn("cannot read tfvars", zap.String("path", tfvarsPath), zap.Error(err))
	}
	return s
}

func (g *Gatherer) probe(ctx context.Context, timeout time.Duration, name string, args ...string) Probe {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := g.Runner.Run(ctx, name, args...)
	p := Probe{Installed: true, Output: string(out)}
	switch {
	case err == nil:
		p.ExitOK = true
	case stderrors.Is(err, exec.ErrNotFound):
		p.Installed = false
	case ctx.Err() == context.DeadlineExceeded:
		p.TimedOut = true
	}
	g.Logger.Debug("probed command",
		zap.String("command", name),
		zap.Bool("installed", p.Installed),
		zap.Bool("exit_ok", p.ExitOK),
		zap.Error(err))
	return p
}
