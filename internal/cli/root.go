// Package cli implements the carbonctl commands on top of the session store,
// the auth gateway and the profile repository.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/apperrors"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/auth"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/config"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/profile"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider/memory"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider/remote"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/session"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

type contextKey string

const appContextKey contextKey = "carbonctl-app"

// Backend is everything the account flow needs from a provider.
type Backend interface {
	provider.Identity
	provider.RecordStore
	provider.ObjectStorage
}

// Options lets callers replace the provider. Tests pass a shared memory
// provider so state survives across command runs.
type Options struct {
	Backend Backend
}

// App is built once per invocation and handed to every command.
type App struct {
	Config   *config.ClientConfig
	Sessions *session.Store
	Auth     *auth.Gateway
	Profiles *profile.Repository
}

// NewRootCommand builds the carbonctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	var (
		cfgFile string
		offline bool
	)

	root := &cobra.Command{
		Use:   "carbonctl",
		Short: "Manage your carbontrail account and profile",
		Long: `carbonctl signs you in to carbontrail and edits your profile.

The session is kept in the OS keyring, one entry per provider URL, so
later commands reuse it until you sign out.

Examples:
  carbonctl signup --email ann@example.com --full-name "Ann Lee"
  carbonctl signin --email ann@example.com
  carbonctl profile set --bio "Cycling to work" --dob 1990-04-01
  carbonctl profile avatar ./me.png`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Viper().BindPFlag(config.BaseURLKey, cmd.Root().PersistentFlags().Lookup("base-url")); err != nil {
				return err
			}
			cfg.Reload()

			logger.Init(cfg.LogLevel)
			logger.SetOutput(cmd.ErrOrStderr(), "console")

			backend := opts.Backend
			if backend == nil {
				if offline {
					logger.Warnf("offline mode: accounts and profiles live only for this run")
					backend = memory.New(memory.Options{AutoConfirm: true, PublicBaseURL: cfg.BaseURL})
				} else {
					backend = remote.New(remote.Options{
						BaseURL:    cfg.BaseURL,
						HTTPClient: &http.Client{Timeout: cfg.Timeout},
						Persister:  remote.NewKeyringPersister(cfg.KeyringService, cfg.BaseURL),
					})
				}
			}

			app := newApp(cmd.Context(), cfg, backend)
			cmd.SetContext(context.WithValue(cmd.Context(), appContextKey, app))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app, err := appFrom(cmd); err == nil {
				app.Sessions.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Defaults to ./carbontrail.yaml when present")
	root.PersistentFlags().String("base-url", "", "provider service URL (overrides config)")
	root.PersistentFlags().BoolVar(&offline, "offline", false, "use an in-process provider instead of the service")

	root.AddCommand(
		newSignUpCommand(),
		newSignInCommand(),
		newSignOutCommand(),
		newWhoAmICommand(),
		newResetPasswordCommand(),
		newPasswdCommand(),
		newProfileCommand(),
	)
	return root
}

func newApp(ctx context.Context, cfg *config.ClientConfig, backend Backend) *App {
	if ctx == nil {
		ctx = context.Background()
	}
	store := session.NewStore(backend)
	store.Initialize(ctx)
	return &App{
		Config:   cfg,
		Sessions: store,
		Auth: auth.NewGateway(backend, store, auth.Options{
			SiteURL: cfg.SiteURL,
			Timeout: cfg.Timeout,
		}),
		Profiles: profile.NewRepository(backend, backend, profile.Options{Timeout: cfg.Timeout}),
	}
}

func appFrom(cmd *cobra.Command) (*App, error) {
	app, ok := cmd.Context().Value(appContextKey).(*App)
	if !ok {
		return nil, errors.New("carbonctl: command context has no app")
	}
	return app, nil
}

// requireUser returns the signed-in user or an Unauthenticated error.
func requireUser(app *App) (*provider.User, error) {
	u := app.Sessions.CurrentUser()
	if u == nil {
		return nil, apperrors.New(apperrors.KindUnauthenticated, "You are not signed in. Run 'carbonctl signin' first.")
	}
	return u, nil
}

// Execute runs carbonctl and exits non-zero on failure.
func Execute() {
	if err := run(NewRootCommand(Options{}), os.Args[1:], os.Stderr); err != nil {
		os.Exit(1)
	}
}

func run(root *cobra.Command, args []string, stderr io.Writer) error {
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err != nil {
		msg := err.Error()
		if apperrors.KindOf(err) != "" {
			msg = apperrors.UserMessage(err)
		}
		fmt.Fprintln(stderr, "Error:", msg)
	}
	return err
}
