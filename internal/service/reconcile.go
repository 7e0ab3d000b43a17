package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/prompt"
)

// Reconciler converges the systemd unit and the nginx site on what the
// settings describe.
type Reconciler struct {
	Cfg    *config.Settings
	Run    execx.Runner
	Ctl    Controller
	Prompt prompt.Prompter
	Log    zerolog.Logger

	// Startup settling knobs, overridable in tests.
	StartDelay   time.Duration
	PollInterval time.Duration
	StartTimeout time.Duration
}

// New builds a reconciler with the default startup timing.
func New(cfg *config.Settings, run execx.Runner, ctl Controller, p prompt.Prompter, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Cfg:          cfg,
		Run:          run,
		Ctl:          ctl,
		Prompt:       p,
		Log:          log,
		StartDelay:   2 * time.Second,
		PollInterval: 500 * time.Millisecond,
		StartTimeout: 30 * time.Second,
	}
}

// EnsureUnit writes the rendered unit file when it differs from what is
// installed. It reports whether the file changed.
func (r *Reconciler) EnsureUnit(ctx context.Context) (bool, error) {
	content, err := UnitContent(r.Cfg)
	if err != nil {
		return false, err
	}
	path := r.Cfg.UnitPath()
	if old, err := os.ReadFile(path); err == nil && string(old) == content {
		r.Log.Debug().Str("path", path).Msg("unit file unchanged")
		return false, nil
	}
	if err := execx.WriteFileRoot(ctx, r.Run, path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write unit: %w", err)
	}
	r.Log.Info().Str("path", path).Msg("installed unit file")
	return true, nil
}

// EnsureProxy writes the nginx site, enables it and reloads nginx, but only
// after `nginx -t` accepts the new config. A rejected config is rolled back
// so the previous one stays in force.
func (r *Reconciler) EnsureProxy(ctx context.Context) (bool, error) {
	content, err := NginxContent(r.Cfg)
	if err != nil {
		return false, err
	}
	avail := r.Cfg.NginxSiteAvailable()
	enabled := r.Cfg.NginxSiteEnabled()

	old, readErr := os.ReadFile(avail)
	hadOld := readErr == nil
	contentChanged := !hadOld || string(old) != content
	if contentChanged {
		if err := execx.WriteFileRoot(ctx, r.Run, avail, []byte(content), 0o644); err != nil {
			return false, fmt.Errorf("write nginx site: %w", err)
		}
	}
	linkChanged, err := execx.EnsureSymlinkRoot(ctx, r.Run, avail, enabled)
	if err != nil {
		return false, err
	}
	if !contentChanged && !linkChanged {
		r.Log.Debug().Str("path", avail).Msg("nginx site unchanged")
		return false, nil
	}

	if err := r.validateNginx(ctx); err != nil {
		r.rollbackProxy(ctx, avail, enabled, old, hadOld)
		return false, fmt.Errorf("nginx rejected the new site config, previous config left in place: %w", err)
	}
	if err := r.Ctl.Reload(ctx, "nginx"); err != nil {
		return false, fmt.Errorf("reload nginx: %w", err)
	}
	r.Log.Info().Str("path", avail).Msg("nginx site installed and reloaded")
	return true, nil
}

// CheckNginxConfig runs `nginx -t` and surfaces its output on failure.
func CheckNginxConfig(ctx context.Context, r execx.Runner) error {
	cmd := execx.Sudo(r, execx.Command("nginx", "-t"))
	if out, err := r.Output(ctx, cmd); err != nil {
		if out != "" {
			return fmt.Errorf("%s: %w", out, err)
		}
		return err
	}
	return nil
}

func (r *Reconciler) validateNginx(ctx context.Context) error {
	return CheckNginxConfig(ctx, r.Run)
}

func (r *Reconciler) rollbackProxy(ctx context.Context, avail, enabled string, old []byte, hadOld bool) {
	if hadOld {
		if err := execx.WriteFileRoot(ctx, r.Run, avail, old, 0o644); err != nil {
			r.Log.Error().Err(err).Msg("rollback of nginx site failed")
		}
		return
	}
	if err := execx.RemoveFileRoot(ctx, r.Run, enabled); err != nil {
		r.Log.Error().Err(err).Msg("rollback of nginx symlink failed")
	}
	if err := execx.RemoveFileRoot(ctx, r.Run, avail); err != nil {
		r.Log.Error().Err(err).Msg("rollback of nginx site failed")
	}
}

// Apply runs the full reconcile: unit, enablement, service start and, when
// the proxy is on, the nginx site. A running service is only stopped with
// consent; declining keeps the installed unit as is.
func (r *Reconciler) Apply(ctx context.Context) error {
	name := r.Cfg.ServiceName
	state, err := r.Ctl.IsActive(ctx, name)
	if err != nil {
		return err
	}
	running := state == "active"
	stopped := false
	if running {
		ok, err := r.Prompt.Confirm(fmt.Sprintf("%s is running. Stop it to apply the new unit?", name), false)
		if err != nil {
			return err
		}
		if ok {
			if err := r.Ctl.Stop(ctx, name); err != nil {
				return fmt.Errorf("stop %s: %w", name, err)
			}
			stopped = true
		} else {
			r.Log.Warn().Str("service", name).Msg("left running, unit file not touched")
		}
	}

	if !running || stopped {
		changed, err := r.EnsureUnit(ctx)
		if err != nil {
			return err
		}
		if changed {
			if err := r.Ctl.DaemonReload(ctx); err != nil {
				return fmt.Errorf("daemon-reload: %w", err)
			}
		}
	}
	if err := r.Ctl.Enable(ctx, name); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}
	if !running || stopped {
		if err := r.Ctl.Start(ctx, name); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		if err := r.waitActive(ctx, name); err != nil {
			return err
		}
	}

	if !r.Cfg.DisableProxy {
		if _, err := r.EnsureProxy(ctx); err != nil {
			return err
		}
	}
	return nil
}

// waitActive gives the server a settling delay, then polls until it reports
// active or the timeout passes.
func (r *Reconciler) waitActive(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.StartDelay):
	}
	deadline := time.Now().Add(r.StartTimeout)
	state := ""
	for time.Now().Before(deadline) {
		var err error
		state, err = r.Ctl.IsActive(ctx, name)
		if err != nil {
			return err
		}
		if state == "active" {
			return nil
		}
		if state == "failed" {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.PollInterval):
		}
	}
	return fmt.Errorf("%s did not become active (state %q), inspect with `llamactl logs`", name, state)
}
