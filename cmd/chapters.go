package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/server"
)

func newChaptersCmd(cli *cliContext) *cobra.Command {
	var order string

	cmd := &cobra.Command{
		Use:   "chapters <source> <manga-id>",
		Short: "List the chapters of a work",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if order != "asc" && order != "desc" {
				return fmt.Errorf("--order must be asc or desc, got %q", order)
			}
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
			conn, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			chapters, err := conn.ListChapters(cmd.Context(), manga.Ref{ID: args[1], Source: conn.Name()})
			if err != nil {
				return fmt.Errorf("list chapters: %w", err)
			}
			manga.SortChapters(chapters, order == "desc")

			out := cmd.OutOrStdout()
			if len(chapters) == 0 {
				fmt.Fprintln(out, "No chapters found.")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Chapter", "Title", "ID"},
				chapterRows(chapters),
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&order, "order", "asc", "sort by chapter number: asc or desc")
	return cmd
}

func chapterRows(chapters []manga.ChapterRef) [][]string {
	rows := make([][]string, 0, len(chapters))
	for i, ch := range chapters {
		rows = append(rows, []string{strconv.Itoa(i + 1), ch.Number, ch.Title, ch.ID})
	}
	return rows
}
