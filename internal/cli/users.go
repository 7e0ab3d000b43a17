package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) usersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage the proxy's basic-auth credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("users requires a subcommand: list|add|passwd|remove|sync")
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List credential entries and whether the settings manage them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.UsersList()
		},
	}
	add := &cobra.Command{
		Use:   "add <user>",
		Short: "Create a credential, prompting for the password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.UserAdd(cmd.Context(), args[0])
		},
	}
	passwd := &cobra.Command{
		Use:   "passwd <user>",
		Short: "Change an existing credential's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.UserPasswd(cmd.Context(), args[0])
		},
	}
	remove := &cobra.Command{
		Use:     "remove <user>",
		Aliases: []string{"rm"},
		Short:   "Delete a credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.UserRemove(cmd.Context(), args[0])
		},
	}
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the credential file against the configured user list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.ReconcileUsers(cmd.Context())
		},
	}

	users.AddCommand(list, add, passwd, remove, sync)
	return users
}
