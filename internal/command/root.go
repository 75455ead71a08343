// Package command holds the myriad CLI.
package command

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const AppName = "myriad"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Myriad social aggregation backend",
		Long:          "Myriad imports posts from external platforms, links them to wallet owners and serves the engagement API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	cmd.AddCommand(
		NewServeCmd(),
		NewReconcileCmd(),
		NewPurgeCmd(),
		NewMigrateCmd(),
	)
	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

func configureLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if asJSON, _ := cmd.Flags().GetBool("log-json"); asJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}
