package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/homegoods/storefront/internal/client"
	"github.com/homegoods/storefront/internal/config"
	"github.com/homegoods/storefront/internal/devicestore"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/notify"
	"github.com/homegoods/storefront/internal/session"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

var errNotSignedIn = errors.New("not signed in, run `storefront login` first")

// app holds what every command needs, opened once per invocation
type app struct {
	out      io.Writer
	log      zerolog.Logger
	device   *devicestore.Store
	client   *client.Client
	session  *session.Manager
	notifier notify.Notifier
}

func openApp(out io.Writer) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, "console")

	device, err := devicestore.Open(cfg.SessionDBPath())
	if err != nil {
		return nil, err
	}

	notifier := notify.Multi{notify.NewWriterNotifier(out)}
	if logger.GetLevel() <= zerolog.DebugLevel {
		notifier = append(notifier, notify.NewLogNotifier(logger))
	}
	c := client.New(cfg.APIURL, device.Tokens(), nil, logger)
	mgr := session.NewManager(c, c.Profiles(), device.Session(), session.Options{Notifier: notifier}, logger)

	return &app{
		out:      out,
		log:      logger,
		device:   device,
		client:   c,
		session:  mgr,
		notifier: notifier,
	}, nil
}

func (a *app) Close() {
	a.session.Close()
	if err := a.device.Close(); err != nil {
		a.log.Error().Err(err).Msg("close device store")
	}
}

// restore brings back the saved session and fails when there is none
func (a *app) restore(ctx context.Context) (session.Snapshot, error) {
	if a.session.Bootstrap(ctx) != session.StateAuthenticated {
		return session.Snapshot{}, errNotSignedIn
	}
	a.session.RecordActivity(session.ActivityKeyboard)
	return a.session.Snapshot(), nil
}

func main() {
	// Env vars override values from .env
	_ = godotenv.Load(".env")

	var a *app
	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront - sign in, place orders and pay with M-Pesa",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = openApp(cmd.OutOrStdout())
			return err
		},
	}
	current := func() *app { return a }

	rootCmd.AddCommand(signUpCmd(current))
	rootCmd.AddCommand(confirmCmd(current))
	rootCmd.AddCommand(resendCmd(current))
	rootCmd.AddCommand(loginCmd(current))
	rootCmd.AddCommand(logoutCmd(current))
	rootCmd.AddCommand(whoamiCmd(current))
	rootCmd.AddCommand(ordersCmd(current))
	rootCmd.AddCommand(orderCmd(current))
	rootCmd.AddCommand(payCmd(current))

	err := rootCmd.Execute()
	if a != nil {
		a.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
