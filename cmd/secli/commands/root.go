// Package commands implements secli's subcommands: an operator-facing
// diagnostic CLI that binds its own Reader Registry directly, the same way
// seaccessd does, rather than going through the Client Façade's IPC socket
// (secli is a trusted admin tool, not a sandboxed platform client).
package commands

import (
	"github.com/spf13/cobra"

	"github.com/barnettlynn/seaccess/internal/config"
	"github.com/barnettlynn/seaccess/pkg/reader"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "secli",
	Short:         "secli inspects and administers the SE Access Middleware",
	Long:          `secli is the operator's command-line tool for the SE Access Middleware: list bound readers, dump or refresh a reader's Access Rule Cache, and send raw diagnostic APDUs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/seaccessd/config.yaml", "path to seaccessd config.yaml")
	rootCmd.AddCommand(readersCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(transmitCmd)
}

// Execute runs secli's root command.
func Execute() error {
	return rootCmd.Execute()
}

// bindRegistry loads configPath and binds a Reader Registry over PC/SC,
// mirroring seaccessd's own startup sequence.
func bindRegistry() (*reader.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	candidates, err := reader.DiscoverPCSC()
	if err != nil {
		return nil, err
	}
	return reader.NewRegistry(reader.FilterDrivers(candidates, cfg.Readers.Drivers))
}
