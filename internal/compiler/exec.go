package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/validation"
)

// allowedCommands are the launchers accepted for the compiler process.
var allowedCommands = map[string]bool{
	"node":               true,
	"npx":                true,
	"lwc-compile":        true,
	"webruntime-compile": true,
}

// ExecCompiler runs the compiler as a child process per request. The request
// is written to stdin as JSON and the Output is read from stdout.
type ExecCompiler struct {
	command string
	args    []string
	dir     string
	timeout time.Duration
	logger  logging.Logger
}

// NewExecCompiler creates a process-backed compiler. dir is the working
// directory for the child process.
func NewExecCompiler(command string, args []string, dir string, timeout time.Duration, logger logging.Logger) (*ExecCompiler, error) {
	ec := &ExecCompiler{
		command: command,
		args:    append([]string(nil), args...),
		dir:     dir,
		timeout: timeout,
		logger:  logger.WithComponent("compiler"),
	}
	if err := ec.validateCommand(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	return ec, nil
}

// Compile implements Compiler.
func (ec *ExecCompiler) Compile(ctx context.Context, req Request) (*Output, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding compile request: %w", err)
	}

	if ec.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ec.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, ec.command, ec.args...)
	cmd.Dir = ec.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("compile of %s/%s timed out: %w", req.Namespace, req.Name, ctx.Err())
		}
		return nil, fmt.Errorf("compile of %s/%s failed: %w\nOutput: %s", req.Namespace, req.Name, err, stderr.String())
	}
	ec.logger.Debug(ctx, "Compiled module",
		"namespace", req.Namespace,
		"name", req.Name,
		"mode", req.Mode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return decodeOutput(stdout.Bytes())
}

// decodeOutput treats empty output and a JSON null as silence.
func decodeOutput(data []byte) (*Output, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding compiler output: %w", err)
	}
	return &out, nil
}

func (ec *ExecCompiler) validateCommand() error {
	if err := validation.ValidateCommand(filepath.Base(ec.command), allowedCommands); err != nil {
		return err
	}
	for _, arg := range ec.args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return nil
}
