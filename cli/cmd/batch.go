package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/audio"
	"github.com/ankit-chaubey/opus-tag-surgery/core/batch"
	"github.com/spf13/cobra"
)

func init() {
	var flags editFlags
	batchCmd := &cobra.Command{
		Use:   "batch <file|dir>...",
		Short: "Apply one edit to many files",
		Long: `Apply one edit to every editable file under the given paths. Files are
processed concurrently; a file that ends early, as one still being
downloaded does, is retried with backoff.`,
		Example: `  surgery batch ~/Music/album --set "ALBUM=Live at Home" --workers 8`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(state.fs, cmd.Flags().Changed("vendor"))
			if err != nil {
				return err
			}
			if opts.Empty() {
				return fmt.Errorf("nothing to change")
			}
			paths, err := batch.Collect(state.fs, args, editable)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				state.printer.PrintWarning("no editable files found")
				return nil
			}

			runner := batch.NewRunner(batch.Options{
				Workers:  state.cfg.Batch.Workers,
				Attempts: state.cfg.Batch.RetryAttempts,
				Delay:    state.cfg.Batch.RetryDelay,
			})
			rep := runner.Run(cmd.Context(), paths, func(ctx context.Context, path string) error {
				h, err := state.handlerFor(path)
				if err != nil {
					return err
				}
				return h.Edit(ctx, path, "", opts)
			})
			if err := printReport(rep); err != nil {
				return err
			}
			return rep.Err()
		},
	}
	flags.register(batchCmd.Flags())
	batchCmd.Flags().Int("workers", 4, "files processed at once")
	rootCmd.AddCommand(batchCmd)
}

// editable matches files whose extension names a format that can be
// edited. Content sniffing happens later, per file.
func editable(path string) bool {
	info, ok := audio.Info(core.FormatFromExt(path))
	return ok && info.CanEdit
}

func printReport(rep *batch.Report) error {
	if state.printer.Structured() {
		return state.printer.PrintValue(rep)
	}
	rows := make([][]string, 0, len(rep.Results))
	for _, r := range rep.Results {
		status := "ok"
		if !r.OK() {
			status = "failed"
		}
		rows = append(rows, []string{
			r.Path,
			status,
			strconv.FormatUint(uint64(r.Attempts), 10),
			r.Elapsed.Round(time.Millisecond).String(),
			r.Error,
		})
	}
	if err := state.printer.PrintTable([]string{"File", "Status", "Attempts", "Elapsed", "Error"}, rows); err != nil {
		return err
	}
	summary := fmt.Sprintf("%d succeeded, %d failed in %s", rep.Succeeded, rep.Failed, rep.Elapsed.Round(time.Millisecond))
	if rep.Failed > 0 {
		state.printer.PrintWarning(summary)
	} else {
		state.printer.PrintSuccess(summary)
	}
	return nil
}
