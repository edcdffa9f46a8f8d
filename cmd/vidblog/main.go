// Package main implements the vidblog upload client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"vidblog/internal/client"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server    string
	tokenFile string
	timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "vidblog",
		Short:         "Upload a video or audio file and turn it into a blog post",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("VIDBLOG_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "gateway base URL (env VIDBLOG_SERVER)")
	rootCmd.PersistentFlags().StringVar(&opts.tokenFile, "token-file", "", "where the session token is kept (default <config dir>/vidblog/token)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "give up on a request after this long (0 waits indefinitely)")

	rootCmd.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
		newUploadCmd(opts),
	)
	return rootCmd
}

func (o *options) tokenStore() (*client.TokenStore, error) {
	if o.tokenFile != "" {
		return client.NewTokenStore(o.tokenFile), nil
	}
	path, err := client.DefaultTokenPath()
	if err != nil {
		return nil, err
	}
	return client.NewTokenStore(path), nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

// session loads the saved token and confirms it with the dashboard. A nil
// session with a nil error means the server cannot confirm sessions. Any
// other failure means the user has to log in again.
func (o *options) session(ctx context.Context) (*client.Client, *client.Session, error) {
	store, err := o.tokenStore()
	if err != nil {
		return nil, nil, err
	}
	token, err := store.Load()
	if err != nil {
		return nil, nil, errLoginRequired(err)
	}

	c := client.New(o.server, token, http.DefaultClient)
	session, err := c.Dashboard(ctx)
	if errors.Is(err, client.ErrDashboardUnavailable) {
		return c, nil, nil
	}
	if err != nil {
		return nil, nil, errLoginRequired(err)
	}
	return c, session, nil
}

func errLoginRequired(cause error) error {
	return fmt.Errorf("session is not valid (%w); run `vidblog login --token <token>`", cause)
}

func newLoginCmd(opts *options) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the session token used for uploads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("--token is required")
			}
			store, err := opts.tokenStore()
			if err != nil {
				return err
			}
			if err := store.Save(token); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", store.Path())
			return err
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "session token")
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.tokenStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return err
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current account and remaining processing time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			_, session, err := opts.session(ctx)
			if err != nil {
				return err
			}
			if session == nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Token saved; the server does not report session details.")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s remaining)\n",
				session.UserName, time.Duration(session.SecondsRemaining)*time.Second)
			return err
		},
	}
}

func newUploadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload one video or audio file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := client.ParseFileArg(args)
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			c, session, err := opts.session(ctx)
			if err != nil {
				return err
			}
			if session != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Uploading %s as %s...\n", path, session.UserName)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Uploading %s...\n", path)
			}

			form := client.NewForm(c)
			form.Select(path)
			outcome, err := form.Submit(ctx)
			if !outcome.OK {
				if err != nil {
					return fmt.Errorf("%s: %w", outcome.Message, err)
				}
				return errors.New(outcome.Message)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), outcome.Message)
			return err
		},
	}
}
