package cmd

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Crawl the newest page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, "latest", func(ctx context.Context, c Crawler) error {
				return c.Latest(ctx)
			})
		},
	}
}

func newPagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pages <start> <end>",
		Short: "Crawl pages start through end as one batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrapf(err, "parse start page %q", args[0])
			}
			end, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(err, "parse end page %q", args[1])
			}
			return runCrawl(cmd, "pages", func(ctx context.Context, c Crawler) error {
				return c.Pages(ctx, start, end)
			})
		},
	}
}

func newUntilCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "until <post-id>",
		Short: "Crawl from the newest page back to a post id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "parse post id %q", args[0])
			}
			return runCrawl(cmd, "until", func(ctx context.Context, c Crawler) error {
				return c.Until(ctx, target)
			})
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Crawl the whole catalog once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, "all", func(ctx context.Context, c Crawler) error {
				return c.All(ctx)
			})
		},
	}
}

func newLoopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loop",
		Short: "Crawl the whole catalog repeatedly until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, "loop", func(ctx context.Context, c Crawler) error {
				return c.Loop(ctx)
			})
		},
	}
}

func runCrawl(cmd *cobra.Command, mode string, run func(context.Context, Crawler) error) error {
	appInstance, logger, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("crawl starting", zap.String("mode", mode))
	if err := ignoreCanceled(run(cmd.Context(), appInstance.Crawler())); err != nil {
		return errors.Wrapf(err, "%s crawl", mode)
	}
	logger.Info("crawl finished", zap.String("mode", mode))
	return nil
}
