package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/paramkit/storage"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [class]",
		Short: "List the items of one or all classes",
		Long: `The list command prints every live item with its length.

Example:
  paramctl list
  paramctl list user --json
  paramctl list system --medium external`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(args)
		},
	}
}

type listEntry struct {
	Class  string `json:"class"`
	Name   string `json:"name"`
	Len    int    `json:"len"`
	Handle string `json:"handle"`
}

func runList(args []string) error {
	classes := storage.Classes[:]
	if len(args) == 1 {
		c, err := storage.ParseClass(args[0])
		if err != nil {
			return err
		}
		classes = []storage.Class{c}
	}

	s, m, err := openSelected()
	if err != nil {
		return err
	}
	defer s.Close()

	out := []listEntry{}
	for _, c := range classes {
		entries, err := s.eng.List(m, c)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", c, err)
		}
		for _, e := range entries {
			out = append(out, listEntry{Class: c.String(), Name: e.Name, Len: e.Len, Handle: e.Handle.String()})
		}
	}

	if jsonOut {
		return printJSON(out)
	}
	for _, e := range out {
		printInfo("%-7s %-40s %6d\n", e.Class, e.Name, e.Len)
	}
	printVerbose("%d item(s) on %s\n", len(out), m)
	return nil
}
