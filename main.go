package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/idcheck/internal/config"
	"github.com/example/idcheck/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "idcheck",
		Short:        "Validate student ID card images",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: idcheck.yaml in ., $HOME, /etc/idcheck)")

	load := func() (*config.Config, error) {
		return config.NewLoader().Load(configFile)
	}

	root.AddCommand(newServeCommand(load), newValidateCommand(load), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (updated %s)\n", info.Model, info.Version, info.LastUpdated)
		},
	}
}
