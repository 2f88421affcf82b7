package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/joshuapare/paramkit/storage"
)

var formatYes bool

var errFormatUnconfirmed = errors.New("format erases every item; pass --yes to confirm")

func init() {
	format := newFormatCmd()
	format.Flags().BoolVar(&formatYes, "yes", false, "Confirm that every item on the medium is lost")
	rootCmd.AddCommand(newInitCmd(), format)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Mount every configured medium, formatting blank ones",
		Long: `The init command opens the images of every configured medium, creating
erased images when missing, and mounts them. A medium without a valid header
or with a layout that differs from the configuration is formatted.

Example:
  paramctl init
  paramctl init --config paramctl.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func newFormatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format --yes",
		Short: "Erase the selected medium and lay it out again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat()
		},
	}
}

type mediumReport struct {
	Medium   string `json:"medium"`
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Seq      uint32 `json:"seq"`
	Formats  int    `json:"formats"`
	Rebuilds int    `json:"rebuilds"`
	Product  string `json:"product"`
	LastErr  string `json:"last_error"`
}

func runInit() error {
	mask := storage.EnableInternal
	if cfg.External != nil {
		mask |= storage.EnableExternal
	}
	s, err := openSession(mask)
	if err != nil {
		return err
	}
	defer s.Close()

	mon := s.eng.Monitor()
	var out []mediumReport
	for _, m := range []storage.Medium{storage.Internal, storage.External} {
		if !mask.Has(m) {
			continue
		}
		mm := mon.Media[m]
		out = append(out, mediumReport{
			Medium:   m.String(),
			Ready:    mm.Ready,
			Degraded: mm.Degraded,
			Seq:      mm.Info.Seq,
			Formats:  mm.FormatCount,
			Rebuilds: mm.RebuildCount,
			Product:  mm.Product.String(),
			LastErr:  mm.LastError.String(),
		})
	}

	if jsonOut {
		return printJSON(out)
	}
	for _, r := range out {
		state := "ready"
		switch {
		case r.Degraded:
			state = "degraded"
		case !r.Ready:
			state = "unavailable (" + r.LastErr + ")"
		}
		printInfo("%-8s %s  seq=%d formats=%d rebuilds=%d\n", r.Medium, state, r.Seq, r.Formats, r.Rebuilds)
	}
	return nil
}

func runFormat() error {
	if !formatYes {
		return errFormatUnconfirmed
	}
	s, m, err := openSelected()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.eng.Format(m); err != nil {
		return err
	}
	printInfo("Formatted %s\n", m)
	return nil
}
