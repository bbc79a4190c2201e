package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/apperrors"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/auth"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/models"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/profile"
	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show and edit your profile",
	}
	cmd.AddCommand(newProfileShowCommand(), newProfileSetCommand(), newProfileAvatarCommand())
	return cmd
}

func printProfile(w io.Writer, p *models.Profile, u *provider.User) {
	name := u.MetadataString("full_name")
	fmt.Fprintf(w, "[%s] %s (@%s)\n", p.Initial(name, u.Email), p.DisplayName(name, u.Email), p.Username)
	rows := []struct{ label, value string }{
		{"Bio", p.Bio},
		{"Phone", p.Phone},
		{"Website", p.Website},
		{"Location", p.Location},
		{"Avatar", p.AvatarURL},
	}
	for _, r := range rows {
		if r.value != "" {
			fmt.Fprintf(w, "%-9s %s\n", r.label+":", r.value)
		}
	}
	if p.DateOfBirth != nil {
		fmt.Fprintf(w, "%-9s %s\n", "Born:", *p.DateOfBirth)
	}
	fmt.Fprintf(w, "Notifications: %t, email notifications: %t, public profile: %t\n",
		p.NotificationsEnabled, p.EmailNotifications, p.PublicProfile)
}

func newProfileShowCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show your profile, creating it on first use",
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
			p, err := app.Profiles.LoadProfile(cmd.Context(), u)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			printProfile(cmd.OutOrStdout(), p, u)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newProfileSetCommand() *cobra.Command {
	var (
		f   models.ProfileFields
		dob string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change profile fields; fields without a flag keep their value",
		Long: `Change profile fields. Only the flags you pass are changed.
Pass --dob "" to clear the date of birth.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			u, err := requireUser(app)
			if err != nil {
				return err
			}
			current, err := app.Profiles.LoadProfile(cmd.Context(), u)
			if err != nil {
				return err
			}

			fields := current.Fields()
			flags := cmd.Flags()
			set := func(name string, dst *string, v string) {
				if flags.Changed(name) {
					*dst = v
				}
			}
			set("full-name", &fields.FullName, f.FullName)
			set("username", &fields.Username, f.Username)
			set("bio", &fields.Bio, f.Bio)
			set("phone", &fields.Phone, f.Phone)
			set("website", &fields.Website, f.Website)
			set("location", &fields.Location, f.Location)
			if flags.Changed("dob") {
				fields.DateOfBirth = &dob
			}
			if flags.Changed("notifications") {
				fields.NotificationsEnabled = f.NotificationsEnabled
			}
			if flags.Changed("email-notifications") {
				fields.EmailNotifications = f.EmailNotifications
			}
			if flags.Changed("public") {
				fields.PublicProfile = f.PublicProfile
			}

			if _, err := app.Profiles.SaveProfile(cmd.Context(), u.ID, fields); err != nil {
				return err
			}
			// The account keeps its own copy of the name for greetings.
			if flags.Changed("full-name") && fields.FullName != u.MetadataString("full_name") {
				meta := map[string]interface{}{"full_name": fields.FullName}
				if _, err := app.Auth.UpdateCredentials(cmd.Context(), auth.CredentialUpdate{Metadata: meta}); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile updated successfully!")
			return nil
		},
	}
	cmd.Flags().StringVar(&f.FullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&f.Username, "username", "", "username")
	cmd.Flags().StringVar(&f.Bio, "bio", "", "short bio")
	cmd.Flags().StringVar(&f.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&f.Website, "website", "", "website URL")
	cmd.Flags().StringVar(&f.Location, "location", "", "location")
	cmd.Flags().StringVar(&dob, "dob", "", "date of birth, YYYY-MM-DD")
	cmd.Flags().BoolVar(&f.NotificationsEnabled, "notifications", true, "enable notifications")
	cmd.Flags().BoolVar(&f.EmailNotifications, "email-notifications", true, "enable email notifications")
	cmd.Flags().BoolVar(&f.PublicProfile, "public", false, "make the profile public")
	return cmd
}

func newProfileAvatarCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "avatar FILE",
		Short: "Upload a new profile picture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			u, err := requireUser(app)
			if err != nil {
				return err
			}

			name := args[0]
			mt, err := mimetype.DetectFile(name)
			if err != nil {
				return apperrors.Wrap(apperrors.KindValidation, "No file selected", err)
			}
			f, err := os.Open(name)
			if err != nil {
				return apperrors.Wrap(apperrors.KindValidation, "No file selected", err)
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}

			avatar := profile.Avatar{
				Name:        filepath.Base(name),
				ContentType: mt.String(),
				Size:        st.Size(),
				Body:        f,
			}
			if err := profile.ValidateAvatar(avatar); err != nil {
				return err
			}
			if _, err := app.Profiles.LoadProfile(cmd.Context(), u); err != nil {
				return err
			}
			url, err := app.Profiles.UploadAvatar(cmd.Context(), u.ID, avatar)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile picture updated successfully!")
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}
