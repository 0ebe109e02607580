// Command wikiscrape mirrors a MediaWiki site into an offline archive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wikiscrape/wikiscrape/scraper"
	"github.com/wikiscrape/wikiscrape/zim"
)

const panicExitCode = 42

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			code = panicExitCode
		}
	}()

	var cfg scraper.Config
	cmd := &cobra.Command{
		Use:           "wikiscrape --mwUrl <url> --adminEmail <email>",
		Short:         "Mirror a MediaWiki site into an offline archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return scrape(cmd.Context(), cfg)
		},
	}
	cfg.RegisterFlags(cmd.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.G(ctx).WithError(err).Error("scrape failed")
		return 1
	}
	return 0
}

func scrape(ctx context.Context, cfg scraper.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	creator, err := zim.NewDirCreator(filepath.Join(cfg.OutputDir, "archive"))
	if err != nil {
		return err
	}

	s, err := scraper.New(ctx, cfg, creator)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Run(ctx); err != nil {
		return err
	}
	log.G(ctx).Info("All dumping(s) finished with success")
	return nil
}
