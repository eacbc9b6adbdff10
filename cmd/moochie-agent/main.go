package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/moochie/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "moochie-agent",
		Short: "Moochie device agent: room image widget, room chat and notification mirror",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newCodeCommand(),
		newUploadCommand(),
		newChatCommand(),
		newNotifyCommand(),
		newWatchCommand(),
		newVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Moochie backend base URL")
	cmd.PersistentFlags().String("image-base-url", defaults.GetString("image.base_url"), "Image server base URL")
	cmd.PersistentFlags().String("preferences-path", defaults.GetString("preferences.path"), "Local preferences database path")
	cmd.PersistentFlags().String("keyring-dir", defaults.GetString("keyring.file_dir"), "Directory for the file keyring fallback")
	cmd.PersistentFlags().String("widget-output", defaults.GetString("widget.output_path"), "Widget PNG output path")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Room image check interval (minimum 15m)")
	cmd.PersistentFlags().Duration("sync-initial-delay", defaults.GetDuration("sync.initial_delay"), "Delay before the first room image check")
	cmd.PersistentFlags().String("version-url", defaults.GetString("version.url"), "Published version document URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "Log format (json, console)")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "image.base_url", "image-base-url")
	bindFlag(cmd, "preferences.path", "preferences-path")
	bindFlag(cmd, "keyring.file_dir", "keyring-dir")
	bindFlag(cmd, "widget.output_path", "widget-output")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "sync.initial_delay", "sync-initial-delay")
	bindFlag(cmd, "version.url", "version-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
