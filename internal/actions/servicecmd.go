package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"threat-sentinel/internal/runbook"
)

// CommandRunner executes a named command. Injectable for tests.
type CommandRunner func(ctx context.Context, name string, args []string) (output string, err error)

func execRunner(ctx context.Context, name string, args []string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// ServiceCommandHandler runs a pre-approved operational command, such as
// restarting a service or reloading a firewall. Only commands registered in
// the allowlist can run; the runbook selects one by name and cannot supply
// arbitrary arguments.
//
// Params:
//
//	command - allowlist entry name
type ServiceCommandHandler struct {
	allowlist map[string][]string
	runner    CommandRunner
	timeout   time.Duration
}

// NewServiceCommandHandler creates a service_command handler. The allowlist
// maps command names to full argv slices.
func NewServiceCommandHandler(allowlist map[string][]string) *ServiceCommandHandler {
	return &ServiceCommandHandler{
		allowlist: allowlist,
		runner:    execRunner,
		timeout:   30 * time.Second,
	}
}

func (h *ServiceCommandHandler) Type() runbook.ActionType {
	return runbook.ActionServiceCommand
}

func (h *ServiceCommandHandler) Execute(ctx context.Context, action runbook.Action, alert *runbook.Alert, execCtx runbook.ExecContext) (map[string]any, error) {
	name, ok := action.StringParam("command")
	if !ok || name == "" {
		return nil, fmt.Errorf("service_command requires a command parameter")
	}

	argv, ok := h.allowlist[name]
	if !ok || len(argv) == 0 {
		return nil, fmt.Errorf("command %q is not in the allowlist", name)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	output, err := h.runner(runCtx, argv[0], argv[1:])
	if err != nil {
		return map[string]any{"output": strings.TrimSpace(output)},
			fmt.Errorf("command %q failed: %w", name, err)
	}

	slog.Info("ran service command", "command", name)
	return map[string]any{
		"command": name,
		"output":  strings.TrimSpace(output),
	}, nil
}
