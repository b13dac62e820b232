package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/server"
)

func newSearchCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search every enabled provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.config()
			if err != nil {
				return err
			}
			logger, err := cli.log()
			if err != nil {
				return err
			}
			registry, err := server.NewRegistry(cfg, logger)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			results := registry.SearchAll(cmd.Context(), query)
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "No results for %q.\n", query)
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Title", "ID"},
				searchRows(results),
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func searchRows(results []manga.Ref) [][]string {
	rows := make([][]string, 0, len(results))
	for _, ref := range results {
		rows = append(rows, []string{ref.Source, ref.Title, ref.ID})
	}
	return rows
}
