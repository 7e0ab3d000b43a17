package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khegiw/llamactl/internal/install"
	"github.com/khegiw/llamactl/internal/logging"
	"github.com/khegiw/llamactl/internal/preflight"
	"github.com/khegiw/llamactl/internal/service"
)

func (a *App) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the host before deploying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.settings()
			if err != nil {
				return err
			}
			rep := preflight.New(cfg, a.Run, "/", a.log).Check(cmd.Context())
			rep.Render(a.Out)
			if rep.Failed() {
				return fmt.Errorf("preflight: %s", rep.Summary())
			}
			return nil
		},
	}
}

func (a *App) deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Run the full pipeline: check, install, credentials, services",
		Long: "deploy probes the host, installs the GPU runtime, builds llama.cpp,\n" +
			"fetches the model, reconciles proxy credentials and converges the\n" +
			"systemd unit and nginx site on the settings. Work already in place is\n" +
			"kept unless you consent to redoing it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.settings()
			if err != nil {
				return err
			}

			log, closeLog, err := logging.NewRun(a.Err, a.LogLevel, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("open deploy log: %w", err)
			}
			defer closeLog()
			a.log = log
			log.Info().Str("backend", cfg.Backend).Str("service", cfg.ServiceName).Msg("deploy starting")

			rep := preflight.New(cfg, a.Run, "/", log).Check(ctx)
			rep.Render(a.Out)
			if rep.Failed() {
				return fmt.Errorf("preflight: %s; fix the failures and rerun", rep.Summary())
			}

			p := a.prompter()
			dl := install.NewDownloader(log)
			if err := install.New(cfg, a.Run, p, dl, log).EnsureAll(ctx); err != nil {
				return err
			}

			// Credentials before the proxy: nginx -t rejects a site whose
			// auth_basic_user_file does not exist yet.
			if !cfg.DisableProxy {
				o, err := a.ops()
				if err != nil {
					return err
				}
				if err := o.ReconcileUsers(ctx); err != nil {
					return fmt.Errorf("credentials: %w", err)
				}
			}

			if err := service.New(cfg, a.Run, a.Ctl, p, log).Apply(ctx); err != nil {
				return err
			}

			log.Info().Msg("deploy finished")
			fmt.Fprintln(a.Out, "deployment complete; `llamactl test` probes the endpoints, `llamactl status` shows the services")
			if cfg.TunnelEnabled {
				fmt.Fprintln(a.Out, "tunnel is enabled in the settings; `llamactl tunnel` opens it")
			}
			return nil
		},
	}
}
