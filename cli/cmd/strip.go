package cmd

import (
	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/spf13/cobra"
)

func init() {
	var (
		opts    core.StripOptions
		outPath string
	)
	stripCmd := &cobra.Command{
		Use:   "strip <file>",
		Short: "Remove tags and pictures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			h, err := state.handlerFor(path)
			if err != nil {
				return err
			}
			if err := h.Strip(cmd.Context(), path, outPath, opts); err != nil {
				return err
			}
			if !opts.DryRun {
				state.printer.PrintSuccess("stripped " + core.ResolveOutPath(path, outPath))
			}
			return nil
		},
	}
	fl := stripCmd.Flags()
	fl.StringArrayVar(&opts.KeepFields, "keep", nil, "field to keep (repeatable)")
	fl.BoolVar(&opts.KeepPictures, "keep-pictures", false, "leave embedded pictures alone")
	fl.BoolVar(&opts.DryRun, "dry-run", false, "show what would change without writing")
	fl.StringVar(&outPath, "out", "", "write to this file instead of changing the original")
	rootCmd.AddCommand(stripCmd)
}
