package cli

import (
	"fmt"

	"github.com/dmitrijs2005/legacyvault/internal/client/client"
	"github.com/dmitrijs2005/legacyvault/internal/client/state"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/spf13/cobra"
)

func (a *App) vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Set up the vault or rotate its master key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Create the vault master key under a new password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			pw, err := GetNewPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			sess, err := c.SetupVault(cmd.Context(), string(pw))
			if err != nil {
				return err
			}
			return a.saveSession(cmd, sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Replace the master key and re-wrap every item key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), true)
			if err != nil {
				return err
			}
			pw, err := GetPassword(cmd.ErrOrStderr(), "Password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			n, err := c.RotateVMK(cmd.Context(), string(pw))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotated; %d item keys re-wrapped. Shares were invalidated, run 'vaultctl contacts issue-shares'.\n", n)
			return nil
		},
	})
	return cmd
}

func (a *App) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open or close a vault session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "open",
		Short: "Unlock the vault with your password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			pw, err := GetPassword(cmd.ErrOrStderr(), "Password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			sess, err := c.OpenSession(cmd.Context(), string(pw))
			if err != nil {
				return err
			}
			return a.saveSession(cmd, sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Lock the vault again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), true)
			if err != nil {
				return err
			}
			if err := c.CloseSession(cmd.Context()); err != nil {
				return err
			}
			return a.state.Delete(cmd.Context(), state.KeySessionID)
		},
	})
	return cmd
}

func (a *App) itemKeyCmd() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "item-key <item-id>",
		Short: "Print an item's data key (base64) using the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			var k *client.ItemKey
			if create {
				c, err := a.owner(cmd.Context(), true)
				if err != nil {
					return err
				}
				k, err = c.CreateItemKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			} else {
				// Recipient sessions have no owner token; the session is enough.
				k, err = a.api.WithSession(sid).ItemKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), k.Key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "generate a new key for the item")
	return cmd
}

func (a *App) saveSession(cmd *cobra.Command, sess *client.Session) error {
	if err := a.state.Set(cmd.Context(), state.KeySessionID, sess.SessionID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session open until %s\n", sess.ExpiresAt.Local().Format(timeLayout))
	return nil
}
