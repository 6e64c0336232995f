package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/model"
	"github.com/homegoods/storefront/internal/session"
	"github.com/spf13/cobra"
)

// password returns the --password flag or reads one line from stdin
func password(cmd *cobra.Command) (string, error) {
	pw, _ := cmd.Flags().GetString("password")
	if pw != "" {
		return pw, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func signUpCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and customer profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			phone, _ := cmd.Flags().GetString("phone")
			admin, _ := cmd.Flags().GetBool("admin")
			pw, err := password(cmd)
			if err != nil {
				return err
			}

			account, err := a.session.SignUp(cmd.Context(), session.SignUpRequest{
				Email:    email,
				Password: pw,
				FullName: name,
				Phone:    phone,
				IsAdmin:  admin,
			})
			if err != nil {
				return err
			}
			if !account.EmailConfirmed() {
				fmt.Fprintf(a.out, "Then run: storefront confirm --email %s --code <code>\n", account.Email)
			}
			return nil
		},
	}

	cmd.Flags().StringP("email", "e", "", "Email address")
	cmd.Flags().StringP("name", "n", "", "Full name")
	cmd.Flags().String("phone", "", "M-Pesa phone number")
	cmd.Flags().Bool("admin", false, "Request an admin profile")
	cmd.Flags().StringP("password", "p", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func confirmCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm an email address with the code sent at sign up",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			email, _ := cmd.Flags().GetString("email")
			code, _ := cmd.Flags().GetString("code")
			if err := a.client.ConfirmEmail(cmd.Context(), email, code); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Email confirmed. You can now sign in.")
			return nil
		},
	}

	cmd.Flags().StringP("email", "e", "", "Email address")
	cmd.Flags().StringP("code", "c", "", "Confirmation code")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func resendCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Send a new confirmation code",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			email, _ := cmd.Flags().GetString("email")
			if err := a.client.ResendConfirmation(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "If %s is waiting for confirmation, a new code is on its way.\n", logging.MaskEmail(email))
			return nil
		},
	}

	cmd.Flags().StringP("email", "e", "", "Email address")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func loginCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			email, _ := cmd.Flags().GetString("email")
			pw, err := password(cmd)
			if err != nil {
				return err
			}

			if a.session.Bootstrap(cmd.Context()) == session.StateAuthenticated {
				snap := a.session.Snapshot()
				if snap.User.Email == model.NormalizeEmail(email) {
					fmt.Fprintf(a.out, "Already signed in as %s\n", snap.User.Email)
					return nil
				}
				if err := a.session.SignOut(cmd.Context()); err != nil {
					a.log.Warn().Err(err).Msg("sign out previous session")
				}
			}
			return a.session.SignIn(cmd.Context(), email, pw)
		},
	}

	cmd.Flags().StringP("email", "e", "", "Email address")
	cmd.Flags().StringP("password", "p", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func logoutCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			if a.session.Bootstrap(cmd.Context()) != session.StateAuthenticated {
				// nothing to restore; drop any leftover tokens anyway
				return a.client.SignOut(cmd.Context())
			}
			return a.session.SignOut(cmd.Context())
		},
	}
}

func whoamiCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			snap, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}

			c := snap.Customer
			fmt.Fprintf(a.out, "Email:    %s\n", snap.User.Email)
			fmt.Fprintf(a.out, "Name:     %s\n", valueOrDefault(c.FullName, "-"))
			fmt.Fprintf(a.out, "Phone:    %s\n", valueOrDefault(c.Phone, "-"))
			fmt.Fprintf(a.out, "Role:     %s\n", c.Role)
			fmt.Fprintf(a.out, "Session:  valid until %s\n", snap.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
