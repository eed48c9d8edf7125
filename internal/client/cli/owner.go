package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/client/client"
	"github.com/dmitrijs2005/legacyvault/internal/client/state"
	"github.com/dmitrijs2005/legacyvault/internal/server/auth"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04 MST"

func (a *App) tokenCmd() *cobra.Command {
	var ttl time.Duration
	var save bool

	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Mint an owner token with the configured signing key",
		Long: `Mint an owner bearer token locally. This needs the server's signing key
(secret_key in the config file) and is meant for development deployments
where no identity provider issues tokens.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.SecretKey == "" {
				return errors.New("secret_key is not configured")
			}
			tok, err := auth.NewIssuer([]byte(a.cfg.SecretKey), ttl).OwnerToken(args[0])
			if err != nil {
				return err
			}
			if save {
				return a.state.Set(cmd.Context(), state.KeyOwnerToken, tok)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token instead of printing it")
	return cmd
}

func (a *App) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <owner-token>",
		Short: "Store an owner token for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.state.SetAll(cmd.Context(), map[string]string{
				state.KeyOwnerToken: args[0],
				state.KeySessionID:  "",
			})
		},
	}
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget every stored token and session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.state.Clear(cmd.Context())
		},
	}
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show check-in status and any open unlock request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func (a *App) checkInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin",
		Short: "Confirm you are alive; cancels any open unlock request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			st, err := c.CheckIn(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func (a *App) configureCmd() *cobra.Command {
	var in client.CheckInConfig
	var enabled bool

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the check-in email, interval and grace period, or switch the check-in off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enabled") {
				in.Enabled = &enabled
			}
			st, err := c.Configure(cmd.Context(), in)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "address reminders go to")
	cmd.Flags().IntVar(&in.IntervalDays, "interval", 30, "days between check-ins")
	cmd.Flags().IntVar(&in.GraceDays, "grace", 30, "days of grace after a missed check-in")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "turn the switch on or off (--enabled=false)")
	return cmd
}

func (a *App) requestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List unlock requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			list, err := c.UnlockRequests(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(w, "no unlock requests")
				return nil
			}
			for i := range list {
				printRequest(w, &list[i])
			}
			return nil
		},
	}
}

func (a *App) cancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel an open unlock request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.owner(cmd.Context(), false)
			if err != nil {
				return err
			}
			req, err := c.CancelRequest(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			printRequest(cmd.OutOrStdout(), req)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "note recorded with the cancellation")
	return cmd
}

func printStatus(w io.Writer, st *client.CheckInStatus) {
	fmt.Fprintf(w, "status:        %s\n", st.Status)
	if !st.Enabled {
		fmt.Fprintln(w, "switch:        off")
	}
	fmt.Fprintf(w, "last check-in: %s\n", st.LastCheckInAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "next due:      %s\n", st.NextCheckInAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "grace ends:    %s\n", st.GracePeriodEndsAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "schedule:      every %d days, %d days grace\n", st.IntervalDays, st.GraceDays)
	if st.MissedCount > 0 {
		fmt.Fprintf(w, "missed:        %d\n", st.MissedCount)
	}
	if st.OpenRequest != nil {
		fmt.Fprintln(w, "open unlock request:")
		printRequest(w, st.OpenRequest)
	}
}

func printRequest(w io.Writer, r *client.UnlockRequest) {
	fmt.Fprintf(w, "  %s  %-10s confirmations=%d  expires %s",
		r.ID, r.Status, r.ConfirmationCount, r.ExpiresAt.Local().Format(timeLayout))
	if r.Reason != "" {
		fmt.Fprintf(w, "  (%s)", r.Reason)
	}
	fmt.Fprintln(w)
}
