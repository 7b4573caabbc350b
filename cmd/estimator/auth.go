package main

import (
	"errors"
	"fmt"

	"github.com/piehlerb/job-estimator-sub000/internal/auth"
	"github.com/piehlerb/job-estimator-sub000/internal/store"
	"github.com/spf13/cobra"
)

var loginEmail string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the signed-in user on this device",
}

var authLoginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Sign in; sync runs on behalf of this user",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out; local data and pending changes are kept",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runAuthWhoami,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Email address of the user")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authWhoamiCmd)
}

// openSession opens the local store for session commands.
func openSession(cmd *cobra.Command) (*auth.Session, func(), error) {
	cfg, logCloser, err := bootstrap(cmd)
	if err != nil {
		return nil, nil, err
	}
	ls, err := store.NewLocalStore(cfg.Database.Path)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return auth.NewSession(ls), func() {
		ls.Close()
		logCloser.Close()
	}, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	session, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	info, err := session.Login(cmd.Context(), args[0], loginEmail)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), info)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", info.UserID)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	session, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := session.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out. Local changes stay queued until the next sign-in.")
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	session, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	info, err := session.Info(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"signedIn": false})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), info)
	}
	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "User:\t%s\n", info.UserID)
	if info.Email != "" {
		fmt.Fprintf(w, "Email:\t%s\n", info.Email)
	}
	fmt.Fprintf(w, "Signed in:\t%s\n", formatTime(&info.SignedInAt))
	return w.Flush()
}
