package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khegiw/llamactl/internal/tunnel"
)

func (a *App) tunnelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tunnel",
		Short: "Expose the endpoint through the configured tunnel provider",
		Long: "tunnel runs cloudflared or an ssh reverse forward in the foreground,\n" +
			"pointing at the nginx listener (or the bare server when the proxy is\n" +
			"off). Ctrl-C closes the tunnel.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.settings()
			if err != nil {
				return err
			}
			return tunnel.New(cfg, a.Run, a.log).Open(cmd.Context())
		},
	}
}

func (a *App) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the llamactl version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.Out, "llamactl %s\n", Version)
		},
	}
}
