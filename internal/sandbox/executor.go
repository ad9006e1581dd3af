package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mattjoyce/majordomo/internal/config"
	"github.com/mattjoyce/majordomo/internal/log"
	"github.com/mattjoyce/majordomo/internal/protocol"
)

//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks

// maxStderrBytes caps the stderr captured from a sandboxed service.
const maxStderrBytes = 64 * 1024

// Spec describes one execution: which artifact to run, with what grant, fed
// what payload.
type Spec struct {
	EntryPath string
	Grant     Grant
	Payload   *protocol.Payload
}

// Executor runs a service to completion inside an isolation boundary and
// returns its decoded result.
type Executor interface {
	Execute(ctx context.Context, spec *Spec) (*protocol.Result, error)
}

// ProcessExecutor runs services as subprocesses under bubblewrap, or as plain
// processes when the configured bwrap path is "none". Each invocation gets a
// fresh work directory under the run dir, destroyed afterwards.
type ProcessExecutor struct {
	bwrapPath string // empty means plain-process mode
	runDir    string
	logger    *slog.Logger
}

// NewProcessExecutor builds an executor from sandbox config. Unless the
// config names a bwrap path (or opts out with "none"), bubblewrap is
// autodetected and its absence is an error: isolation is not optional by
// accident.
func NewProcessExecutor(cfg config.SandboxConfig, runDir string) (*ProcessExecutor, error) {
	e := &ProcessExecutor{
		runDir: runDir,
		logger: log.WithComponent("sandbox"),
	}

	switch cfg.BwrapPath {
	case "none":
		e.logger.Warn("sandbox isolation disabled, running services as plain processes")
	case "":
		path, err := detectBwrap()
		if err != nil {
			return nil, err
		}
		e.bwrapPath = path
	default:
		if _, err := os.Stat(cfg.BwrapPath); err != nil {
			return nil, fmt.Errorf("bwrap path %q: %w", cfg.BwrapPath, err)
		}
		e.bwrapPath = cfg.BwrapPath
	}

	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return e, nil
}

// Execute runs one invocation to completion. The payload's network grant is
// filled in here; callers never construct it themselves.
func (e *ProcessExecutor) Execute(ctx context.Context, spec *Spec) (*protocol.Result, error) {
	invLogger := e.logger.With(
		"invocation_id", spec.Payload.InvocationID,
		"service", spec.Payload.Context.ServiceID,
	)

	workdir, err := os.MkdirTemp(e.runDir, "inv-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workdir)

	var guard *egressGuard
	if spec.Grant.NetworkEnabled() {
		socketPath := filepath.Join(workdir, egressSocketName)
		guard, err = startEgressGuard(socketPath, spec.Grant.AllowedHosts, invLogger)
		if err != nil {
			return nil, fmt.Errorf("start egress guard: %w", err)
		}
		defer guard.Close()

		proxySocket := socketPath
		if e.bwrapPath != "" {
			proxySocket = filepath.Join(sandboxWorkDir, egressSocketName)
		}
		spec.Payload.Context.Network = &protocol.NetworkGrant{
			ProxySocket:  proxySocket,
			AllowedHosts: append([]string(nil), spec.Grant.AllowedHosts...),
		}
	} else {
		spec.Payload.Context.Network = nil
	}

	cmd := e.buildCommand(spec.EntryPath, workdir, spec.Grant)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	invLogger.Debug("spawning service", "entry", spec.EntryPath, "timeout", spec.Grant.Timeout,
		"isolated", e.bwrapPath != "")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodePayload(stdin, spec.Payload)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	watchdog := time.NewTimer(spec.Grant.Timeout)
	defer watchdog.Stop()

	select {
	case <-ctx.Done():
		e.kill(cmd, invLogger)
		<-waitErr
		return nil, ctx.Err()

	case <-watchdog.C:
		// A service that overran its budget gets no grace period. The
		// sandbox dies with its parent, so SIGKILL on the outer process
		// takes the whole tree down.
		invLogger.Warn("service timed out, killing sandbox", "timeout", spec.Grant.Timeout)
		e.kill(cmd, invLogger)
		<-waitErr
		return nil, &TimeoutError{Timeout: spec.Grant.Timeout}

	case err := <-waitErr:
		if werr := <-writeErr; werr != nil {
			return nil, fmt.Errorf("write payload: %w", werr)
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, &ExecError{
					ExitCode: exitErr.ExitCode(),
					Stderr:   truncateStderr(stderr.String()),
				}
			}
			return nil, fmt.Errorf("wait for process: %w", err)
		}

		result, derr := protocol.DecodeResult(stdout.Bytes())
		if derr != nil {
			invLogger.Error("malformed service output", "error", derr,
				"stderr", truncateStderr(stderr.String()))
			return nil, &ProtocolError{Err: derr}
		}
		return result, nil
	}
}

// buildCommand assembles the subprocess invocation. In bwrap mode the grant
// is enforced by namespaces and binds; in plain mode the entry runs directly
// with only the granted environment.
func (e *ProcessExecutor) buildCommand(entryPath, workdir string, g Grant) *exec.Cmd {
	if e.bwrapPath == "" {
		cmd := exec.Command(entryPath)
		cmd.Dir = workdir
		cmd.Env = flattenEnv(g.Env)
		return cmd
	}
	return exec.Command(e.bwrapPath, bwrapArgs(entryPath, workdir, g)...)
}

func (e *ProcessExecutor) kill(cmd *exec.Cmd, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logger.Error("failed to kill sandbox process", "error", err)
	}
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
