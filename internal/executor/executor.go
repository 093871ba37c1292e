// Package executor runs the program under proof locally to estimate its cycle
// count before the on-chain request is sized.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrExecutionFailed = errors.New("local execution failed")

// Segment one continuation segment reported by the executor
type Segment struct {
	Cycles uint64 `json:"cycles"`
}

// Session execution report
type Session struct {
	Segments []Segment `json:"segments"`
}

// TotalCycles sums per-segment cycle costs
func (s *Session) TotalCycles() (uint64, error) {
	var total uint64
	for i, seg := range s.Segments {
		if seg.Cycles > math.MaxUint64-total {
			return 0, fmt.Errorf("cycle count overflows at segment %d", i)
		}
		total += seg.Cycles
	}
	return total, nil
}

// Executor runs a program against its inputs
type Executor interface {
	Execute(ctx context.Context, elf, inputs []byte) (*Session, error)
}

// EstimateCycles executes the program and sums the reported segment cycles
func EstimateCycles(ctx context.Context, ex Executor, elf, inputs []byte) (uint64, error) {
	session, err := ex.Execute(ctx, elf, inputs)
	if err != nil {
		return 0, err
	}
	return session.TotalCycles()
}

// ZeroCycleExecutor reports a single empty segment. Used when no executor
// command is configured.
type ZeroCycleExecutor struct{}

func (ZeroCycleExecutor) Execute(context.Context, []byte, []byte) (*Session, error) {
	return &Session{Segments: []Segment{{Cycles: 0}}}, nil
}

// CommandExecutor runs an external executor binary as
//
//	<command> <args...> <elf path> <inputs path>
//
// in a scratch directory with only Env visible, and parses a Session from stdout.
type CommandExecutor struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
	Logger  *logrus.Logger
}

// NewCommandExecutor creates a CommandExecutor
func NewCommandExecutor(command string, args []string, env map[string]string, timeout time.Duration, logger *logrus.Logger) *CommandExecutor {
	return &CommandExecutor{
		Command: command,
		Args:    args,
		Env:     env,
		Timeout: timeout,
		Logger:  logger,
	}
}

func (e *CommandExecutor) Execute(ctx context.Context, elf, inputs []byte) (*Session, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("%w: no executor command configured", ErrExecutionFailed)
	}
	if len(elf) == 0 {
		return nil, fmt.Errorf("%w: program binary is empty", ErrExecutionFailed)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp("", "coordinator-exec-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	elfPath := filepath.Join(dir, "program.elf")
	inputsPath := filepath.Join(dir, "inputs.bin")
	if err := os.WriteFile(elfPath, elf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write program binary: %w", err)
	}
	if err := os.WriteFile(inputsPath, inputs, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write inputs: %w", err)
	}

	args := append(append([]string{}, e.Args...), elfPath, inputsPath)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = dir
	cmd.Env = isolatedEnv(e.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// kill the whole process group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrExecutionFailed, err, strings.TrimSpace(stderr.String()))
	}

	var session Session
	if err := json.Unmarshal(stdout.Bytes(), &session); err != nil {
		return nil, fmt.Errorf("%w: unreadable executor output: %v", ErrExecutionFailed, err)
	}

	if e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{
			"segments": len(session.Segments),
			"elapsed":  time.Since(started),
		}).Debug("Local execution finished")
	}
	return &session, nil
}

func isolatedEnv(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for key, value := range env {
		result = append(result, key+"="+value)
	}
	return result
}
