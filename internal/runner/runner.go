// Package runner executes workspace files for the run panel.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/models"
)

// DefaultTimeout bounds a single execution.
const DefaultTimeout = 5 * time.Second

// Request asks for code to be run.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Runner executes code. Failures of the program itself are reported in the
// result's Stderr; an error means the runner could not be reached.
type Runner interface {
	Run(ctx context.Context, req Request) (models.RunResult, error)
}

// Local runs code in subprocesses on this host. It is not a sandbox.
type Local struct {
	Timeout time.Duration
	Python  string
	Node    string

	log *zap.Logger
}

// NewLocal returns a Local runner using python3 and node from PATH.
func NewLocal(timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Local{
		Timeout: timeout,
		Python:  "python3",
		Node:    "node",
		log:     logging.Named("runner"),
	}
}

// Run implements Runner.
func (l *Local) Run(ctx context.Context, req Request) (models.RunResult, error) {
	start := time.Now()
	res := models.RunResult{Language: req.Language}

	switch req.Language {
	case models.LangHTML:
		res.HTML = req.Code
	case models.LangPython:
		res.Stdout, res.Stderr = l.exec(ctx, l.Python, "-c", req.Code)
	case models.LangJavaScript:
		res.Stdout, res.Stderr = l.exec(ctx, l.Node, "-e", req.Code)
	default:
		res.Stderr = fmt.Sprintf("Execution is not supported for %q files.", req.Language)
	}

	metrics.RecordRun(req.Language, time.Since(start), res.Stderr == "")
	return res, nil
}

func (l *Local) exec(ctx context.Context, bin string, args ...string) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return stdout.String(), fmt.Sprintf("Execution timed out (limit: %s).", l.Timeout)
	case errors.Is(err, exec.ErrNotFound):
		l.log.Warn("Interpreter not found", zap.String("bin", bin))
		return "", fmt.Sprintf("Execution Error: %s is not installed.", bin)
	case err != nil && stderr.Len() == 0:
		return stdout.String(), "Execution Error: " + err.Error()
	}
	return stdout.String(), stderr.String()
}
