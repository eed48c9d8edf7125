package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/client/client"
	"github.com/dmitrijs2005/legacyvault/internal/client/config"
	"github.com/dmitrijs2005/legacyvault/internal/client/state"
	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New("no owner token stored; run 'vaultctl login' or 'vaultctl token --save'")

// App is the state shared by every command of one invocation.
type App struct {
	cfg   *config.Config
	state *state.Store
	api   *client.HTTPClient
}

type rootFlags struct {
	configPath string
	server     string
	statePath  string
	timeout    time.Duration
}

// NewRootCommand builds the vaultctl command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *App) {
	app := &App{}
	var flags rootFlags

	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Command-line client for LegacyVault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd, flags)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "JSON config file")
	pf.StringVar(&flags.server, "server", "", "server base URL")
	pf.StringVar(&flags.statePath, "state", "", "local state file")
	pf.DurationVar(&flags.timeout, "timeout", 0, "request timeout")

	root.AddCommand(
		app.tokenCmd(),
		app.loginCmd(),
		app.logoutCmd(),
		app.statusCmd(),
		app.checkInCmd(),
		app.configureCmd(),
		app.requestsCmd(),
		app.cancelCmd(),
		app.vaultCmd(),
		app.sessionCmd(),
		app.itemKeyCmd(),
		app.contactsCmd(),
		app.verifyCmd(),
		app.submitShareCmd(),
		app.recipientsCmd(),
		app.accessCmd(),
	)
	return root, app
}

// Execute runs vaultctl with os.Args.
func Execute(ctx context.Context) error {
	root, app := newRootCommand()
	err := root.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	if cerr := app.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) init(cmd *cobra.Command, flags rootFlags) error {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.server != "" {
		cfg.ServerURL = flags.server
	}
	if flags.statePath != "" {
		cfg.StatePath = flags.statePath
	}
	if flags.timeout > 0 {
		cfg.RequestTimeout = flags.timeout
	}
	a.cfg = cfg

	st, err := state.Open(cmd.Context(), cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state %s: %w", cfg.StatePath, err)
	}
	a.state = st
	a.api = client.NewHTTPClient(cfg.ServerURL, cfg.RequestTimeout)
	return nil
}

func (a *App) close() error {
	if a.state == nil {
		return nil
	}
	err := a.state.Close()
	a.state = nil
	return err
}

// owner returns a client carrying the stored owner token and, when
// withSession is set, the stored vault session.
func (a *App) owner(ctx context.Context, withSession bool) (*client.HTTPClient, error) {
	tok, err := a.state.Get(ctx, state.KeyOwnerToken)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, errNotLoggedIn
	}
	c := a.api.WithToken(tok)
	if withSession {
		sid, err := a.session(ctx)
		if err != nil {
			return nil, err
		}
		c = c.WithSession(sid)
	}
	return c, nil
}

func (a *App) session(ctx context.Context) (string, error) {
	sid, err := a.state.Get(ctx, state.KeySessionID)
	if err != nil {
		return "", err
	}
	if sid == "" {
		return "", errors.New("no vault session; run 'vaultctl session open'")
	}
	return sid, nil
}

// contact returns a client carrying the stored contact token and the
// contact's ID.
func (a *App) contact(ctx context.Context) (*client.HTTPClient, string, error) {
	tok, err := a.state.Get(ctx, state.KeyContactToken)
	if err != nil {
		return nil, "", err
	}
	id, err := a.state.Get(ctx, state.KeyContactID)
	if err != nil {
		return nil, "", err
	}
	if tok == "" || id == "" {
		return nil, "", errors.New("no contact token stored; run 'vaultctl verify <token>'")
	}
	return a.api.WithToken(tok), id, nil
}
