package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/apperrors"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/auth"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

// readSecret returns value, or reads one line from in when it is empty.
func readSecret(cmd *cobra.Command, in *bufio.Reader, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt+": ")
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(u *provider.User) string {
	if name := u.MetadataString("full_name"); name != "" {
		return name
	}
	return u.Email
}

func newSignUpCommand() *cobra.Command {
	var email, password, confirm, fullName string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(fullName) == "" {
				return apperrors.New(apperrors.KindValidation, "Full name is required")
			}
			if password, err = readSecret(cmd, bufio.NewReader(cmd.InOrStdin()), password, "Password"); err != nil {
				return err
			}
			if confirm != "" && confirm != password {
				return apperrors.New(apperrors.KindValidation, auth.MsgPasswordMismatch)
			}

			u, err := app.Auth.SignUp(cmd.Context(), email, password, auth.SignUpHints{FullName: fullName})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if u != nil && u.EmailConfirmedAt != nil {
				fmt.Fprintln(out, "Account created successfully! You can sign in now.")
				return nil
			}
			fmt.Fprintln(out, "Account created successfully! Please check your email to verify your account.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&confirm, "confirm-password", "", "repeat the password")
	cmd.Flags().StringVar(&fullName, "full-name", "", "your full name")
	return cmd
}

func newSignInCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if password, err = readSecret(cmd, bufio.NewReader(cmd.InOrStdin()), password, "Password"); err != nil {
				return err
			}
			s, err := app.Auth.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome back, %s!\n", displayName(s.User))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func newSignOutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := app.Auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

type whoAmI struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name,omitempty"`
	Confirmed bool       `json:"confirmed"`
	ExpiresAt *time.Time `json:"session_expires_at,omitempty"`
}

func newWhoAmICommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			u, err := requireUser(app)
			if err != nil {
				return err
			}
			info := whoAmI{ID: u.ID, Email: u.Email, FullName: u.MetadataString("full_name"), Confirmed: u.EmailConfirmedAt != nil}
			if s := app.Sessions.CurrentSession(); s != nil && !s.ExpiresAt.IsZero() {
				exp := s.ExpiresAt
				info.ExpiresAt = &exp
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "Signed in as %s (%s)\n", displayName(u), u.Email)
			fmt.Fprintf(out, "ID: %s\n", u.ID)
			if info.ExpiresAt != nil {
				fmt.Fprintf(out, "Session expires: %s\n", info.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newResetPasswordCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := app.Auth.ResetPassword(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password reset email sent! Please check your inbox.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the account")
	return cmd
}

func newPasswdCommand() *cobra.Command {
	var password, confirm, fullName string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change your password or account name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			upd := auth.CredentialUpdate{Password: password, PasswordConfirm: confirm}
			if cmd.Flags().Changed("full-name") {
				upd.Metadata = map[string]interface{}{"full_name": strings.TrimSpace(fullName)}
			}
			in := bufio.NewReader(cmd.InOrStdin())
			if upd.Metadata == nil && upd.Password == "" {
				if upd.Password, err = readSecret(cmd, in, "", "New password"); err != nil {
					return err
				}
			}
			if upd.Password != "" {
				if upd.PasswordConfirm, err = readSecret(cmd, in, upd.PasswordConfirm, "Confirm new password"); err != nil {
					return err
				}
				if upd.PasswordConfirm == "" {
					return apperrors.New(apperrors.KindValidation, auth.MsgPasswordMismatch)
				}
			}

			if _, err := app.Auth.UpdateCredentials(cmd.Context(), upd); err != nil {
				return err
			}
			if upd.Password != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Password updated successfully!")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Account updated successfully!")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().StringVar(&confirm, "confirm-password", "", "repeat the new password")
	cmd.Flags().StringVar(&fullName, "full-name", "", "new account name")
	return cmd
}
