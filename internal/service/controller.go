// Package service reconciles the systemd unit and the nginx reverse proxy
// with the configured settings. Writes are idempotent: unchanged files are
// left alone and nothing is reloaded for them.
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/khegiw/llamactl/internal/execx"
)

// Controller drives the init system. The systemd implementation is the only
// real one; tests substitute their own.
type Controller interface {
	DaemonReload(ctx context.Context) error
	Enable(ctx context.Context, unit string) error
	Disable(ctx context.Context, unit string) error
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Reload(ctx context.Context, unit string) error
	// IsActive returns the activation state, e.g. "active", "inactive",
	// "failed". The error mirrors systemctl's non-zero exit for inactive
	// units being swallowed; only exec trouble surfaces.
	IsActive(ctx context.Context, unit string) (string, error)
	// IsEnabled reports whether the unit starts at boot.
	IsEnabled(ctx context.Context, unit string) (bool, error)
	// Status returns the human `systemctl status` text.
	Status(ctx context.Context, unit string) (string, error)
	// Logs returns the last n journal lines for the unit.
	Logs(ctx context.Context, unit string, n int) (string, error)
	// FollowLogs streams the journal to the runner's output until ctx ends.
	FollowLogs(ctx context.Context, unit string) error
}

// Systemd shells out to systemctl and journalctl, with sudo when needed.
type Systemd struct {
	Run execx.Runner
}

// NewSystemd wraps a runner.
func NewSystemd(r execx.Runner) *Systemd {
	return &Systemd{Run: r}
}

func (s *Systemd) systemctl(ctx context.Context, args ...string) error {
	cmd := execx.Sudo(s.Run, execx.Command("systemctl", args...))
	if err := s.Run.Run(ctx, cmd); err != nil {
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	return s.systemctl(ctx, "daemon-reload")
}

func (s *Systemd) Enable(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "enable", unit)
}

func (s *Systemd) Disable(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "disable", unit)
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "start", unit)
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "stop", unit)
}

func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "restart", unit)
}

func (s *Systemd) Reload(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "reload", unit)
}

func (s *Systemd) IsActive(ctx context.Context, unit string) (string, error) {
	// is-active exits non-zero for anything but "active"; the state on
	// stdout is still the answer.
	out, err := s.Run.Output(ctx, execx.Command("systemctl", "is-active", unit))
	state := strings.TrimSpace(out)
	if state == "" && err != nil {
		return "", fmt.Errorf("systemctl is-active %s: %w", unit, err)
	}
	if state == "" {
		state = "unknown"
	}
	return state, nil
}

func (s *Systemd) IsEnabled(ctx context.Context, unit string) (bool, error) {
	out, err := s.Run.Output(ctx, execx.Command("systemctl", "is-enabled", unit))
	state := strings.TrimSpace(out)
	if state == "" && err != nil {
		return false, fmt.Errorf("systemctl is-enabled %s: %w", unit, err)
	}
	return state == "enabled" || state == "enabled-runtime" || state == "static", nil
}

func (s *Systemd) Status(ctx context.Context, unit string) (string, error) {
	// status exits 3 for inactive units; the text is what matters.
	out, err := s.Run.Output(ctx, execx.Command("systemctl", "status", unit, "--no-pager"))
	if out == "" && err != nil {
		return "", fmt.Errorf("systemctl status %s: %w", unit, err)
	}
	return out, nil
}

func (s *Systemd) Logs(ctx context.Context, unit string, n int) (string, error) {
	if n <= 0 {
		n = 50
	}
	cmd := execx.Sudo(s.Run, execx.Command("journalctl", "-u", unit, "-n", strconv.Itoa(n), "--no-pager"))
	out, err := s.Run.Output(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("journalctl -u %s: %w", unit, err)
	}
	return out, nil
}

func (s *Systemd) FollowLogs(ctx context.Context, unit string) error {
	cmd := execx.Sudo(s.Run, execx.Command("journalctl", "-u", unit, "-f", "--no-pager"))
	cmd.Stream = true
	if err := s.Run.Run(ctx, cmd); err != nil {
		// ^C ends the follow; context cancellation is the expected exit.
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("journalctl -f: %w", err)
	}
	return nil
}
