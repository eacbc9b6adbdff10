package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/apiclient"
	"github.com/MarcoPoloResearchLab/moochie/internal/imagesync"
	"github.com/MarcoPoloResearchLab/moochie/internal/version"
	"github.com/spf13/cobra"
)

var timeNow = time.Now

func newLoginCommand() *cobra.Command {
	var idToken, pushToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a Google ID token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(idToken) == "" {
				return errors.New("--id-token is required")
			}
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			signedIn, err := a.api.SignIn(cmd.Context(), idToken)
			if err != nil {
				return err
			}
			if err := a.sessions.Save(signedIn); err != nil {
				return err
			}
			if pushToken != "" {
				if err := a.prefs.SetPushToken(cmd.Context(), pushToken); err != nil {
					return err
				}
			}
			cmd.Printf("Signed in as %s (%s)\n", signedIn.DisplayName, signedIn.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	cmd.Flags().StringVar(&pushToken, "push-token", "", "Device push token to register")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.sessions.Clear(); err != nil {
				return err
			}
			cmd.Println("Signed out")
			return nil
		},
	}
}

func newCodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "code [NNNN]",
		Short: "Show or set the 4-digit room code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				code, err := a.roomCode(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Println(code)
				return nil
			}
			if err := a.prefs.SetRoomCode(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Room code set to %s\n", strings.TrimSpace(args[0]))
			return nil
		},
	}
}

func newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload an image for the current room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			code, err := a.roomCode(cmd.Context())
			if err != nil {
				return err
			}
			client, err := imagesync.NewClient(imagesync.ClientConfig{BaseURL: a.config.ImageBaseURL, Logger: a.logger})
			if err != nil {
				return err
			}
			result, err := client.Upload(cmd.Context(), code, args[0])
			if err != nil {
				var syncErr *imagesync.Error
				if errors.As(err, &syncErr) {
					return errors.New(syncErr.Message)
				}
				return err
			}
			cmd.Printf("Uploaded to room %s: %s\n", result.Code, result.ImageURL)
			return nil
		},
	}
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to the current room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			current, err := a.activeSession()
			if err != nil {
				return err
			}
			code, err := a.roomCode(cmd.Context())
			if err != nil {
				return err
			}
			message, err := a.api.SendChatMessage(cmd.Context(), current.AccessToken, code, strings.Join(args, " "))
			if err != nil {
				return err
			}
			cmd.Printf("[%s] %s: %s\n", message.RoomCode, message.SenderName, message.Text)
			return nil
		},
	}
}

func newNotifyCommand() *cobra.Command {
	var event apiclient.NotificationEvent
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Mirror one notification from this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			current, err := a.activeSession()
			if err != nil {
				return err
			}
			if event.PostTimeMillis == 0 {
				event.PostTimeMillis = timeNow().UnixMilli()
			}
			outcome, err := a.api.PostNotification(cmd.Context(), current.AccessToken, event)
			if err != nil {
				return err
			}
			if outcome.Reason != "" {
				cmd.Printf("%s: %s\n", outcome.Status, outcome.Reason)
				return nil
			}
			cmd.Println(outcome.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&event.PackageName, "package", "", "Source package identifier")
	cmd.Flags().StringVar(&event.AppName, "app", "", "Source app display name")
	cmd.Flags().StringVar(&event.Title, "title", "", "Notification title")
	cmd.Flags().StringVar(&event.Text, "text", "", "Notification text")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and check for updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cmd.Printf("moochie-agent %s\n", version.Current)
			result := checkVersion(cmd.Context(), a)
			if result.UpdateAvailable {
				cmd.Printf("Update available: %s (%s)\n", result.LatestVersion, result.DownloadURL)
			}
			return nil
		},
	}
}

func checkVersion(ctx context.Context, a *agent) version.Result {
	checker := version.NewChecker(version.CheckerConfig{
		URL:     a.config.VersionURL,
		Timeout: a.config.VersionTimeout,
		Logger:  a.logger,
	})
	return checker.Check(ctx)
}
