package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/paramkit/storage"
	"github.com/joshuapare/paramkit/verify"
)

func init() {
	rootCmd.AddCommand(newValidateCmd())
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the structure of a medium image offline",
		Long: `The validate command reads the image of the selected medium without
mounting it and checks the flash info header, every item table entry, every
slot chain and the free list, and that live slots and free space tile each
data area exactly.

Example:
  paramctl validate
  paramctl validate --medium external --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

func runValidate() error {
	m, err := selectedMedium()
	if err != nil {
		return err
	}
	path, base, sector := cfg.Internal.Image, uint32(0), cfg.Internal.SectorSize
	if l := cfg.Internal.Layout; l != nil {
		base = l.Base
	}
	if m == storage.External {
		if cfg.External == nil {
			return errors.New("external medium is not configured")
		}
		path, base, sector = cfg.External.Image, 0, cfg.External.SectorSize
		if l := cfg.External.Layout; l != nil {
			base = l.Base
		}
	}

	printVerbose("Validating image: %s\n", path)
	img, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	sum, verr := verify.AllInvariants(img, base, sector)

	if jsonOut {
		result := map[string]interface{}{
			"file":  path,
			"valid": verr == nil,
		}
		if verr != nil {
			result["error"] = verr.Error()
		} else {
			result["summary"] = sum
		}
		if err := printJSON(result); err != nil {
			return err
		}
		return verr
	}

	if verr != nil {
		printInfo("✗ %s: %v\n", path, verr)
		return verr
	}
	printInfo("✓ %s valid (seq %d)\n", path, sum.Info.Seq)
	for _, s := range sum.Sections {
		printInfo("  %-7s items=%d fragments=%d live=%d free=%d nodes=%d\n",
			storage.Class(s.Class), s.Items, s.Fragments, s.LiveBytes, s.FreeBytes, s.FreeNodes)
	}
	return nil
}
