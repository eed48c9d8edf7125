package cli

import (
	"fmt"
	"io"

	"github.com/dmitrijs2005/legacyvault/internal/client/client"
	"github.com/dmitrijs2005/legacyvault/internal/client/state"
	"github.com/spf13/cobra"
)

func (a *App) contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage trusted contacts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trusted contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			list, err := c.Contacts(cmd.Context())
			if err != nil {
				return err
			}
			printContacts(cmd.OutOrStdout(), list)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Invite a trusted contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			added, err := c.AddContact(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printContacts(cmd.OutOrStdout(), []client.Contact{*added})
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <contact-id>",
		Short: "Remove a trusted contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			return c.RemoveContact(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "issue-shares",
		Short: "Split the recovery key across the three verified contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), true)
			if err != nil {
				return err
			}
			list, err := c.IssueShares(cmd.Context())
			if err != nil {
				return err
			}
			printContacts(cmd.OutOrStdout(), list)
			return nil
		},
	})
	return cmd
}

func (a *App) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <invitation-token>",
		Short: "Accept a trusted-contact invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.api.VerifyContact(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.state.SetAll(cmd.Context(), map[string]string{
				state.KeyContactToken: v.Token,
				state.KeyContactID:    v.ContactID,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified as contact %s\n", v.ContactID)
			return nil
		},
	}
}

func (a *App) submitShareCmd() *cobra.Command {
	var in client.Share

	cmd := &cobra.Command{
		Use:   "submit-share",
		Short: "Confirm an unlock request by submitting your share key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, contactID, err := a.contact(cmd.Context())
			if err != nil {
				return err
			}
			got, err := c.SubmitShare(cmd.Context(), contactID, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted for request %s (%d confirmations)\n", got.RequestID, got.ConfirmationCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Share, "share", "", "share key from the issue notification (base64)")
	cmd.Flags().IntVar(&in.ShareIndex, "index", 0, "share index from the issue notification")
	cmd.Flags().StringVar(&in.RequestID, "request", "", "unlock request ID (default: the owner's open request)")
	_ = cmd.MarkFlagRequired("share")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func printContacts(w io.Writer, list []client.Contact) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no trusted contacts")
		return
	}
	for _, c := range list {
		share := "-"
		if c.HoldsShare {
			share = fmt.Sprintf("share #%d", c.ShareIndex)
		}
		fmt.Fprintf(w, "%s  %-30s %-9s %s\n", c.ID, c.Email, c.VerificationStatus, share)
	}
}
