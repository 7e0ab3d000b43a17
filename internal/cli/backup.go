package cli

import (
	"github.com/spf13/cobra"
)

func (a *App) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Archive the managed config files",
		Long: "backup writes a timestamped tar.gz of the unit file, the nginx site,\n" +
			"the credential file, the settings file and the deploy log into the\n" +
			"backup directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			_, err = o.Backup()
			return err
		},
	}
}

func (a *App) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive>",
		Short: "Put archived config files back and reload the services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.Restore(cmd.Context(), args[0])
		},
	}
}
