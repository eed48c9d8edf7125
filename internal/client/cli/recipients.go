package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) recipientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients",
		Short: "Manage who receives access once the vault is released",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recipients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			list, err := c.Recipients(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(w, "no recipients")
			}
			for _, r := range list {
				fmt.Fprintf(w, "%s  %s\n", r.ID, r.Email)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Add a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			r, err := c.AddRecipient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", r.ID, r.Email)
			return nil
		},
	})
	return cmd
}

func (a *App) accessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access <access-token>",
		Short: "Open a read-only session on a released vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.api.RecipientAccess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.saveSession(cmd, sess)
		},
	}
}
