package main

import (
	"os"

	"github.com/martinjgriffiths/nucache/log"
	"github.com/martinjgriffiths/nucache/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if c, err := mainCmd.ExecuteC(); err != nil {
		c.PrintErrln("Error:", err)
		os.Exit(-1)
	}
}

var (
	mainCmd = &cobra.Command{
		Use:           os.Args[0],
		Short:         "Inspect and prime the local content caches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logrus.SetOutput(os.Stderr)
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return log.SetLevel(cfg.LogLevel)
		},
	}
)

func init() {
	mainCmd.PersistentFlags().StringP("config", "c", "", "Configuration file")
	mainCmd.PersistentFlags().StringP("cache-dir", "d", "", "Directory of the local cache files (overrides the configuration)")
	mainCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (options \"debug\", \"info\", \"warn\", \"error\", \"fatal\", \"panic\")")

	mainCmd.AddCommand(
		inspectCmd,
		verifyCmd,
		invalidateCmd,
		loadCmd,
		configCmd,
		version.Cmd,
	)
}
