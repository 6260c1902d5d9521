package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ramnasidharta/fizim/internal/app"
	"github.com/ramnasidharta/fizim/internal/config"
)

type cli struct {
	overrides config.Overrides
	cfg       config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "fizim",
		Short:         "Download and normalize the CVM open company datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.setup()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.overrides.DatasetsDir, "datasets", "", "directory holding the downloaded datasets (env DATASETS)")
	f.StringVar(&c.overrides.DestineDir, "destine", "", "output directory of the normalized balance sheets (env DESTINE)")
	f.StringVar(&c.overrides.RegistersDir, "registers-destine", "", "output directory of the normalized registers (env REGISTERS_DESTINE)")
	f.IntVar(&c.overrides.NormalizeWorkers, "workers", 0, "files normalized at once (env NORMALIZE_WORKERS)")
	f.StringVar(&c.overrides.LogLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")

	root.AddCommand(
		c.normalizeCommand(),
		c.downloadCommand(),
		c.loadCommand(),
		c.runCommand(),
		c.checkMailCommand(),
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.overrides)
	if err != nil {
		return err
	}
	c.cfg = cfg

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	return nil
}

func (c *cli) normalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:       fmt.Sprintf("normalize [%s|%s]", app.Balances, app.Registers),
		Short:     "Normalize the downloaded balance sheets and registers",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{app.Balances, app.Registers},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.Normalize(cmd.Context(), c.cfg, args...)
			return err
		},
	}
}

func (c *cli) downloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Fetch the matching packages from the CKAN portal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := app.Download(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			slog.Info("download finished", "packages", len(res.Packages), "fetched", res.Files)
			return nil
		},
	}
}

func (c *cli) loadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Copy the normalized files into PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := app.Load(cmd.Context(), c.cfg)
			return err
		},
	}
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Download (if enabled), normalize, load (if enabled) and mail the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), c.cfg)
		},
	}
}

func (c *cli) checkMailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-mail",
		Short: "Verify the SMTP server used for the run report answers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := app.CheckMail(c.cfg); err != nil {
				return err
			}
			slog.Info("mail server reachable", "host", c.cfg.SMTPHost, "port", c.cfg.SMTPPort)
			return nil
		},
	}
}
