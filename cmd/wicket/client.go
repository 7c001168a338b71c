package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mordwell/wicket/internal/authapi"
	"github.com/mordwell/wicket/internal/config"
	"github.com/mordwell/wicket/internal/crypto"
	"github.com/mordwell/wicket/internal/session"
	"github.com/mordwell/wicket/internal/tokenstore"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in against the identity service and store the session locally",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the locally stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the locally stored session",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "email address to sign in with")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// localManager builds a session manager backed by the local file store, the
// same machinery the gateway uses per client.
func localManager() (*session.Manager, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	cipher, err := crypto.NewCipher(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	store, err := tokenstore.NewFile(cfg.Store.Path, cipher)
	if err != nil {
		return nil, err
	}

	backend := authapi.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	return session.NewManager(backend, tokenstore.Bind(store, "cli"), session.Options{
		RefreshLeeway:   cfg.Session.RefreshLeeway,
		RefetchIdentity: cfg.Session.RefetchIdentity,
		Logger:          slog.Default(),
	}), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginEmail == "" {
		return fmt.Errorf("--email is required")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	m, err := localManager()
	if err != nil {
		return err
	}

	sess, err := m.Login(cmd.Context(), loginEmail, string(pw))
	if err != nil {
		var apiErr *authapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%s", apiErr.Message)
		}
		return err
	}

	fmt.Printf("Signed in as %s (%s, %s)\n", sess.DisplayName(), sess.Role, sess.OrganizationName)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	m, err := localManager()
	if err != nil {
		return err
	}

	m.Initialize(cmd.Context())
	if err := m.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	m, err := localManager()
	if err != nil {
		return err
	}

	snap := m.Initialize(cmd.Context())
	if snap.State != session.StateAuthenticated {
		fmt.Println("Not signed in.")
		return nil
	}

	s := snap.Session
	fmt.Printf("%s <%s>\n", s.DisplayName(), s.Email)
	fmt.Printf("Role:         %s\n", s.Role)
	fmt.Printf("Organization: %s (%s)\n", s.OrganizationName, s.OrganizationSlug)
	return nil
}
