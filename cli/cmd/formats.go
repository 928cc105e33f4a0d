package cmd

import (
	"strings"

	"github.com/ankit-chaubey/opus-tag-surgery/core/audio"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "formats",
		Short: "List supported formats and what can be done with them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := audio.Formats()
			if state.printer.Structured() {
				return state.printer.PrintValue(infos)
			}
			yes := func(b bool) string {
				if b {
					return "yes"
				}
				return "-"
			}
			rows := make([][]string, 0, len(infos))
			for _, f := range infos {
				rows = append(rows, []string{
					f.Name, strings.Join(f.Extensions, " "),
					yes(f.CanView), yes(f.CanEdit), yes(f.CanStrip), yes(f.Pictures), f.Notes,
				})
			}
			return state.printer.PrintTable([]string{"Format", "Extensions", "View", "Edit", "Strip", "Pictures", "Notes"}, rows)
		},
	})
}
