// Package cmd defines the chapterbox command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/config"
	"github.com/JakeFAU/chapterbox/internal/logging"
)

// cliContext carries flags and lazily loaded configuration to subcommands.
type cliContext struct {
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
}

func (c *cliContext) config() (config.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	c.cfg = &cfg
	return cfg, nil
}

// log returns a logger for one-shot commands. It stays quiet below warn
// unless development logging is on.
func (c *cliContext) log() (*zap.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	level := "warn"
	if cfg.Logging.Development {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(cfg.Logging.Development, level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	c.logger = logger
	return logger, nil
}

func (c *cliContext) loadEnv() error {
	if c.envFile == "" {
		return nil
	}
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	cli := &cliContext{}

	cmd := &cobra.Command{
		Use:   "chapterbox",
		Short: "Download manga chapters and deliver them as CBZ archives.",
		Long: `chapterbox searches manga providers, downloads chapter images, packs them
into CBZ archives, and hands them to a delivery sink. Run "serve" for the HTTP
service or use the one-shot commands from a terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return cli.loadEnv()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if cli.logger != nil {
				_ = cli.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "config file (default is ./chapterbox.yaml when present)")
	cmd.PersistentFlags().StringVar(&cli.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	cmd.AddCommand(newServeCmd(cli))
	cmd.AddCommand(newSearchCmd(cli))
	cmd.AddCommand(newChaptersCmd(cli))
	cmd.AddCommand(newGetCmd(cli))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
