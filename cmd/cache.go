package cmd

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/tagcache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the tag cache",
	}
	cmd.AddCommand(newCacheStatsCmd())
	return cmd
}

// openCache opens the cache directly so stats work while a crawl holds the lock.
var openCache = func(cmd *cobra.Command) (booru.TagCache, error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return nil, err
	}
	return tagcache.Open(cmd.Context(), tagcache.Config{
		Driver:   e.cfg.Cache.Driver,
		Path:     e.cfg.Cache.Path,
		DSN:      e.cfg.Cache.DSN,
		Table:    e.cfg.Cache.Table,
		MaxConns: e.cfg.Cache.MaxConns,
	}, e.logger)
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "stats",
		Short:       "Show how many tags of each kind have been learned",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := openCache(cmd)
			if err != nil {
				return err
			}
			defer cache.Close()

			counts, err := cache.Counts(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "count tags")
			}
			renderCounts(cmd, counts)
			return nil
		},
	}
}

func renderCounts(cmd *cobra.Command, counts map[booru.TagType]int) {
	kinds := make([]booru.TagType, 0, len(counts))
	total := 0
	for kind, n := range counts {
		kinds = append(kinds, kind)
		total += n
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Kind", "Tags"})
	for _, kind := range kinds {
		t.AppendRow(table.Row{kind.String(), counts[kind]})
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}
