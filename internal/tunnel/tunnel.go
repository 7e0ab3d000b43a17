// Package tunnel exposes the proxy to the outside world through a
// foreground child process. The tunnel lives exactly as long as the
// command; Ctrl-C ends both.
package tunnel

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
)

// Runner starts the configured tunnel provider.
type Runner struct {
	Cfg *config.Settings
	Run execx.Runner
	Log zerolog.Logger
}

// New wires a tunnel runner.
func New(cfg *config.Settings, run execx.Runner, log zerolog.Logger) *Runner {
	return &Runner{Cfg: cfg, Run: run, Log: log}
}

// Open runs the tunnel in the foreground until ctx is cancelled. The local
// endpoint is the nginx listener when the proxy is on, the bare server
// otherwise.
func (t *Runner) Open(ctx context.Context) error {
	port := t.Cfg.ExternalPort
	scheme := "https"
	if t.Cfg.DisableProxy {
		port = t.Cfg.Port
		scheme = "http"
	}

	var cmd execx.Cmd
	switch t.Cfg.TunnelProvider {
	case config.TunnelCloudflared:
		if _, err := t.Run.LookPath("cloudflared"); err != nil {
			return fmt.Errorf("cloudflared is not installed; see https://developers.cloudflare.com/cloudflare-one/connections/connect-networks/downloads/")
		}
		cmd = execx.Command("cloudflared", "tunnel", "--url",
			fmt.Sprintf("%s://localhost:%d", scheme, port))
		if scheme == "https" {
			// self-signed origin cert
			cmd.Args = append(cmd.Args, "--no-tls-verify")
		}
	case config.TunnelSSH:
		if t.Cfg.TunnelSSHHost == "" {
			return fmt.Errorf("tunnel_provider ssh requires tunnel_ssh_host")
		}
		if _, err := t.Run.LookPath("ssh"); err != nil {
			return fmt.Errorf("ssh is not installed; `sudo apt-get install openssh-client`")
		}
		cmd = execx.Command("ssh", "-N",
			"-R", fmt.Sprintf("%d:localhost:%d", port, port),
			t.Cfg.TunnelSSHHost)
	default:
		return fmt.Errorf("unknown tunnel_provider %q (want %q or %q)",
			t.Cfg.TunnelProvider, config.TunnelCloudflared, config.TunnelSSH)
	}

	t.Log.Info().Str("provider", t.Cfg.TunnelProvider).Int("port", port).Msg("opening tunnel, Ctrl-C closes it")
	cmd.Stream = true
	if err := t.Run.Run(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: %w", cmd.Line(), err)
	}
	return nil
}
