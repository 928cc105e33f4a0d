package cmd

import (
	"fmt"
	"strconv"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// editFlags are the tag changes shared by edit and batch.
type editFlags struct {
	set, add, del  []string
	vendor         string
	pictures       []string
	pictureType    string
	pictureDesc    string
	removePictures []int
	clearPictures  bool
	dryRun         bool
}

func (f *editFlags) register(fl *pflag.FlagSet) {
	fl.StringArrayVar(&f.set, "set", nil, "replace a field: KEY=VALUE (repeat KEY to set several values)")
	fl.StringArrayVar(&f.add, "add", nil, "append a value: KEY=VALUE")
	fl.StringArrayVar(&f.del, "delete", nil, "remove every value of KEY")
	fl.StringVar(&f.vendor, "vendor", "", "replace the vendor string")
	fl.StringArrayVar(&f.pictures, "picture", nil, "embed an image file")
	fl.StringVar(&f.pictureType, "picture-type", "front", "role of embedded images: a number or a name such as front, back, artist")
	fl.StringVar(&f.pictureDesc, "picture-desc", "", "description of embedded images")
	fl.IntSliceVar(&f.removePictures, "remove-picture", nil, "remove the picture at INDEX")
	fl.BoolVar(&f.clearPictures, "clear-pictures", false, "remove every embedded picture")
	fl.BoolVar(&f.dryRun, "dry-run", false, "show what would change without writing")
}

// options turns the flags into edit options, reading picture files
// through fs.
func (f *editFlags) options(fs afero.Fs, vendorSet bool) (core.EditOptions, error) {
	opts := core.EditOptions{
		Set:            map[string][]string{},
		Add:            map[string][]string{},
		Delete:         f.del,
		RemovePictures: f.removePictures,
		ClearPictures:  f.clearPictures,
		DryRun:         f.dryRun,
	}
	for _, kv := range f.set {
		k, v, ok := core.ParseKV(kv)
		if !ok {
			return opts, fmt.Errorf("--set %q: want KEY=VALUE", kv)
		}
		opts.Set[k] = append(opts.Set[k], v)
	}
	for _, kv := range f.add {
		k, v, ok := core.ParseKV(kv)
		if !ok {
			return opts, fmt.Errorf("--add %q: want KEY=VALUE", kv)
		}
		opts.Add[k] = append(opts.Add[k], v)
	}
	if vendorSet {
		v := f.vendor
		opts.Vendor = &v
	}
	if len(f.pictures) > 0 {
		typ, err := vorbis.ParsePictureType(f.pictureType)
		if err != nil {
			return opts, err
		}
		for _, p := range f.pictures {
			data, err := afero.ReadFile(fs, p)
			if err != nil {
				return opts, fmt.Errorf("read picture: %w", err)
			}
			opts.AddPictures = append(opts.AddPictures, core.PictureSpec{
				Type:        typ,
				Description: f.pictureDesc,
				Data:        data,
			})
		}
	}
	return opts, nil
}

func init() {
	var (
		flags   editFlags
		outPath string
	)
	editCmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Change tags and pictures of one file",
		Long: `Change tags and pictures of one file. Deletions run first, then --set,
then --add, then picture changes. Opus files are rewritten in place unless
--out names another file.`,
		Example: `  surgery edit song.opus --set "TITLE=A Much Longer New Title" --add ARTIST=Guest
  surgery edit song.opus --picture cover.jpg --picture-type front`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(state.fs, cmd.Flags().Changed("vendor"))
			if err != nil {
				return err
			}
			if opts.Empty() {
				return fmt.Errorf("nothing to change")
			}
			path := args[0]
			h, err := state.handlerFor(path)
			if err != nil {
				return err
			}
			if err := h.Edit(cmd.Context(), path, outPath, opts); err != nil {
				return err
			}
			if opts.DryRun {
				state.printer.PrintInfo("dry run: " + describeEdit(opts))
				return nil
			}
			state.printer.PrintSuccess(fmt.Sprintf("%s: %s", core.ResolveOutPath(path, outPath), describeEdit(opts)))
			return nil
		},
	}
	flags.register(editCmd.Flags())
	editCmd.Flags().StringVar(&outPath, "out", "", "write to this file instead of changing the original")
	rootCmd.AddCommand(editCmd)
}

func describeEdit(o core.EditOptions) string {
	s := fmt.Sprintf("%d set, %d added, %d deleted", len(o.Set), len(o.Add), len(o.Delete))
	if n := len(o.AddPictures); n > 0 {
		s += ", " + strconv.Itoa(n) + " picture(s) added"
	}
	if n := len(o.RemovePictures); n > 0 {
		s += ", " + strconv.Itoa(n) + " picture(s) removed"
	}
	if o.ClearPictures {
		s += ", pictures cleared"
	}
	return s
}
