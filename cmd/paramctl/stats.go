package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show space usage and diagnostic counters",
		Long: `The stats command mounts the selected medium and reports the header
sequence, per-class space usage and the engine's diagnostic counters.

Example:
  paramctl stats
  paramctl stats --medium external --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	s, m, err := openSelected()
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.eng.Stats(m)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	mon := s.eng.Monitor().Media[m]

	if jsonOut {
		return printJSON(map[string]interface{}{
			"stats":   st,
			"monitor": mon,
		})
	}

	printInfo("Medium:     %s\n", m)
	printInfo("Sequence:   %d\n", st.Seq)
	printInfo("Base:       0x%08X\n", st.BaseAddr)
	printInfo("Total size: %d bytes\n", st.TotalSize)
	printInfo("Remaining:  %d bytes\n", st.RemainSize)
	printInfo("Data area:  %d bytes\n\n", st.DataSize)

	printInfo("%-7s %7s %5s %4s %9s %9s %9s %6s %9s\n",
		"class", "entries", "items", "bad", "data", "used", "free", "nodes", "largest")
	for _, sec := range st.Sections {
		stale := ""
		if sec.Stale {
			stale = "  (free list stale)"
		}
		printInfo("%-7s %7d %5d %4d %9d %9d %9d %6d %9d%s\n",
			sec.Class, sec.TableEntries, sec.Items, sec.BadEntries,
			sec.DataSize, sec.UsedBytes, sec.FreeBytes, sec.FreeNodes, sec.LargestFree, stale)
	}

	printInfo("\nFormats: %d  Re-inits: %d  Rebuilds: %d  Replays: %d  Last error: %s\n",
		mon.FormatCount, mon.ReInitCount, mon.RebuildCount, mon.ReplayCount, mon.LastError)
	return nil
}
