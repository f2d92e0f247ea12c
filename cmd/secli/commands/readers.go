package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/seaccess/pkg/ace"
)

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List bound readers",
	RunE:  runReadersList,
}

func runReadersList(cmd *cobra.Command, args []string) error {
	registry, err := bindRegistry()
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	var rows []ace.ReaderRow
	for _, r := range registry.Readers() {
		rows = append(rows, ace.ReaderRow{
			Name:        r.Name,
			Kind:        r.Kind.String(),
			CardPresent: r.IsCardPresent(),
			CacheLoaded: r.Cache().Initialized(),
			RefreshTag:  r.Cache().RefreshTag(),
		})
	}
	ace.WriteReadersTable(os.Stdout, rows)
	return nil
}
