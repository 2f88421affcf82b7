package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/paramkit/storage"
)

var (
	setHex    bool
	setFile   string
	setCreate bool
	getRaw    bool
	getString bool
)

func init() {
	set := newSetCmd()
	set.Flags().BoolVar(&setHex, "hex", false, "Value is hex encoded")
	set.Flags().StringVar(&setFile, "file", "", "Read the value from a file")
	set.Flags().BoolVar(&setCreate, "create", false, "Fail if the item already exists")

	get := newGetCmd()
	get.Flags().BoolVar(&getRaw, "raw", false, "Write the raw bytes to stdout")
	get.Flags().BoolVar(&getString, "string", false, "Print the value as text")

	rootCmd.AddCommand(set, get, newClearCmd())
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <class> <name> [value]",
		Short: "Create or overwrite an item",
		Long: `The set command stores a value under name in the given class
(boot, system, user). The previous value stays intact until the new one is
committed.

Example:
  paramctl set user pid_gains 0000803f0000003f --hex
  paramctl set system imu_cal --file imu_cal.bin
  paramctl set boot board_rev rev-c`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(args)
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <class> <name>",
		Short: "Read an item",
		Long: `The get command reads and verifies an item. By default the value is
printed as hex.

Example:
  paramctl get user pid_gains
  paramctl get boot board_rev --string
  paramctl get system imu_cal --raw > imu_cal.bin`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(args)
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <class> <name>",
		Short: "Delete an item and reclaim its space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(args)
		},
	}
}

// setValue decodes the value of a set command.
func setValue(args []string) ([]byte, error) {
	switch {
	case setFile != "":
		if len(args) == 3 {
			return nil, fmt.Errorf("both --file and a value given")
		}
		return os.ReadFile(setFile)
	case len(args) != 3:
		return nil, fmt.Errorf("missing value")
	case setHex:
		return hex.DecodeString(strings.TrimPrefix(args[2], "0x"))
	default:
		return []byte(args[2]), nil
	}
}

func runSet(args []string) error {
	c, err := storage.ParseClass(args[0])
	if err != nil {
		return err
	}
	data, err := setValue(args)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	s, m, err := openSelected()
	if err != nil {
		return err
	}
	defer s.Close()

	put := s.eng.Put
	if setCreate {
		put = s.eng.Create
	}
	h, err := put(m, c, args[1], data)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", c, args[1], err)
	}
	if code := s.eng.LastError(m); code != storage.CodeNone {
		printVerbose("Warning: last error on %s is %s\n", m, code)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"medium": m.String(),
			"class":  c.String(),
			"name":   args[1],
			"handle": h.String(),
			"len":    len(data),
		})
	}
	printInfo("Set %s/%s (%d bytes)\n", c, args[1], len(data))
	return nil
}

func runGet(args []string) error {
	c, err := storage.ParseClass(args[0])
	if err != nil {
		return err
	}

	s, m, err := openSelected()
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.eng.Search(m, c, args[1])
	if err != nil {
		return fmt.Errorf("failed to find %s/%s: %w", c, args[1], err)
	}
	data, err := s.eng.Load(h)
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", c, args[1], err)
	}

	switch {
	case jsonOut:
		return printJSON(map[string]interface{}{
			"medium": m.String(),
			"class":  c.String(),
			"name":   args[1],
			"handle": h.String(),
			"len":    len(data),
			"data":   hex.EncodeToString(data),
		})
	case getRaw:
		_, err := os.Stdout.Write(data)
		return err
	case getString:
		fmt.Fprintln(os.Stdout, string(data))
	default:
		fmt.Fprintln(os.Stdout, hex.EncodeToString(data))
	}
	return nil
}

func runClear(args []string) error {
	c, err := storage.ParseClass(args[0])
	if err != nil {
		return err
	}

	s, m, err := openSelected()
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.eng.Search(m, c, args[1])
	if err != nil {
		return fmt.Errorf("failed to find %s/%s: %w", c, args[1], err)
	}
	if err := s.eng.Clear(h); err != nil {
		return fmt.Errorf("failed to clear %s/%s: %w", c, args[1], err)
	}
	printInfo("Cleared %s/%s\n", c, args[1])
	return nil
}
