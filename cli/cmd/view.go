package cmd

import (
	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/spf13/cobra"
)

func init() {
	viewCmd := &cobra.Command{
		Use:   "view <file>...",
		Short: "Show the metadata of audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runView,
	}
	rootCmd.AddCommand(viewCmd)
}

func runView(cmd *cobra.Command, args []string) error {
	var all []*core.Metadata
	for _, path := range args {
		h, err := state.handlerFor(path)
		if err != nil {
			return err
		}
		m, err := h.View(cmd.Context(), path)
		if err != nil {
			return err
		}
		if state.printer.Structured() {
			all = append(all, m)
			continue
		}
		if err := state.printer.PrintMetadata(m); err != nil {
			return err
		}
	}
	if !state.printer.Structured() {
		return nil
	}
	if len(all) == 1 {
		return state.printer.PrintValue(all[0])
	}
	return state.printer.PrintValue(all)
}
