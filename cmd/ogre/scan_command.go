package main

import (
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ogreclient/internal/ebook"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var skipCache bool
	var showStats bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan providers for ebooks without contacting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(ctx, cmd, skipCache, showStats)
		},
	}
	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "Ignore the scan cache and re-extract everything")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Print per-format statistics instead of listing ebooks")
	return cmd
}

func runScan(ctx *commandContext, cmd *cobra.Command, skipCache, showStats bool) error {
	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	result, err := p.scanner.Scan(cmd.Context(), p.active, skipCache)
	if err != nil {
		return err
	}

	records := result.Session.Records()
	if showStats {
		cmd.Println(renderScanStats(records))
	} else {
		for _, rec := range records {
			cmd.Printf("%s  [%s, %s]\n", rec.String(), rec.Source(),
				humanize.Bytes(uint64(rec.Size)))
		}
	}

	for _, scanErr := range result.Errors {
		cmd.Printf("error: %v\n", scanErr)
	}
	cmd.Printf("%d ebook(s) found, %d skipped of %d candidates.\n",
		result.Session.Len(), result.Skipped, result.Total)
	return nil
}

type formatStat struct {
	format string
	count  int
	size   int64
}

func renderScanStats(records []*ebook.Record) string {
	byFormat := map[string]*formatStat{}
	for _, rec := range records {
		stat, ok := byFormat[rec.Format]
		if !ok {
			stat = &formatStat{format: rec.Format}
			byFormat[rec.Format] = stat
		}
		stat.count++
		stat.size += rec.Size
	}

	stats := make([]*formatStat, 0, len(byFormat))
	for _, stat := range byFormat {
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].format < stats[j].format })

	rows := make([][]string, 0, len(stats))
	var totalCount int
	var totalSize int64
	for _, stat := range stats {
		rows = append(rows, []string{
			stat.format,
			humanize.Comma(int64(stat.count)),
			humanize.Bytes(uint64(stat.size)),
		})
		totalCount += stat.count
		totalSize += stat.size
	}
	rows = append(rows, []string{
		"total",
		humanize.Comma(int64(totalCount)),
		humanize.Bytes(uint64(totalSize)),
	})

	return renderTable(
		[]string{"Format", "Count", "Size"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
	)
}
