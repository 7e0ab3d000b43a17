package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service, GPU, host and server state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Status(cmd.Context())
		},
	}
}

func (a *App) logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs [service] [lines]",
		Short: "Print recent log lines for a managed service",
		Long: "logs prints journal lines for the llama service (the default) or the\n" +
			"nginx error log. The optional line count defaults to 50.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := ""
			if len(args) > 0 {
				svc = args[0]
			}
			n := 0
			if len(args) > 1 {
				var err error
				if n, err = strconv.Atoi(args[1]); err != nil || n < 1 {
					return fmt.Errorf("line count %q is not a positive integer", args[1])
				}
			}
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Logs(cmd.Context(), svc, n)
		},
	}
}

func (a *App) followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow [service]",
		Short: "Stream logs until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := ""
			if len(args) > 0 {
				svc = args[0]
			}
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Follow(cmd.Context(), svc)
		},
	}
}

func (a *App) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the managed services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Start(cmd.Context())
		},
	}
}

func (a *App) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the managed services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Stop(cmd.Context())
		},
	}
}

func (a *App) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the managed services and show their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Restart(cmd.Context())
		},
	}
}

func (a *App) testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Probe the server and proxy endpoints",
		Long: "test checks the backend /health endpoint, the authenticated proxy\n" +
			"when enabled, and runs a one-prompt chat completion. Any failing\n" +
			"probe makes the command exit non-zero.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Test(cmd.Context())
		},
	}
}

func (a *App) gpuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gpu",
		Short: "Show GPU state via rocm-smi or vulkaninfo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.GPU(cmd.Context())
		},
	}
}

func (a *App) benchmarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "benchmark",
		Aliases: []string{"bench"},
		Short:   "Run llama-bench against the configured model",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Benchmark(cmd.Context())
		},
	}
}

func (a *App) diagnosticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "diagnostics",
		Aliases: []string{"diag"},
		Short:   "Dump versions, GPU, unit file, ports and logs for a bug report",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Diagnostics(cmd.Context())
		},
	}
}
