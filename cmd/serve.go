package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterbox/internal/server"
)

func newServeCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and worker pool",
		Long: `Starts the job scheduler, its workers, and the HTTP API. The process drains
on SIGINT or SIGTERM: running jobs stop at the next chapter boundary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cli.config()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg, server.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
