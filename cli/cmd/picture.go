package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/artwork"
	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func init() {
	pictureCmd := &cobra.Command{
		Use:   "picture",
		Short: "List, extract, add or remove embedded pictures",
	}

	var showEXIF bool
	listCmd := &cobra.Command{
		Use:   "list <file>",
		Short: "List embedded pictures, decoding each one in the background",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPictureList(cmd, args[0], showEXIF)
		},
	}
	listCmd.Flags().BoolVar(&showEXIF, "exif", false, "also print EXIF fields of JPEG and TIFF pictures")

	extractCmd := &cobra.Command{
		Use:   "extract <file> <index> <out>",
		Short: "Write the bytes of one picture to a file",
		Args:  cobra.ExactArgs(3),
		RunE:  runPictureExtract,
	}

	var (
		picType string
		picDesc string
	)
	addCmd := &cobra.Command{
		Use:   "add <file> <image>",
		Short: "Embed an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := vorbis.ParsePictureType(picType)
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(state.fs, args[1])
			if err != nil {
				return fmt.Errorf("read picture: %w", err)
			}
			spec := core.PictureSpec{Type: typ, Description: picDesc, Data: data}
			return editPictures(cmd, args[0], core.EditOptions{AddPictures: []core.PictureSpec{spec}})
		},
	}
	addCmd.Flags().StringVar(&picType, "type", "front", "picture role: a number or a name such as front, back, artist")
	addCmd.Flags().StringVar(&picDesc, "desc", "", "picture description")

	var all bool
	removeCmd := &cobra.Command{
		Use:   "remove <file> [index]...",
		Short: "Remove pictures by index, or all of them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := core.EditOptions{ClearPictures: all}
			for _, a := range args[1:] {
				i, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("picture index %q: %w", a, err)
				}
				opts.RemovePictures = append(opts.RemovePictures, i)
			}
			if opts.Empty() {
				return fmt.Errorf("give picture indexes or --all")
			}
			return editPictures(cmd, args[0], opts)
		},
	}
	removeCmd.Flags().BoolVar(&all, "all", false, "remove every picture")

	pictureCmd.AddCommand(listCmd, extractCmd, addCmd, removeCmd)
	rootCmd.AddCommand(pictureCmd)
}

func pictureLister(path string) (core.PictureLister, error) {
	h, err := state.handlerFor(path)
	if err != nil {
		return nil, err
	}
	if !h.Info().Pictures {
		return nil, fmt.Errorf("%s: %s does not expose embedded pictures", path, h.Info().Name)
	}
	return h, nil
}

func editPictures(cmd *cobra.Command, path string, opts core.EditOptions) error {
	h, err := state.handlerFor(path)
	if err != nil {
		return err
	}
	if err := h.Edit(cmd.Context(), path, "", opts); err != nil {
		return err
	}
	state.printer.PrintSuccess(path + ": " + describeEdit(opts))
	return nil
}

type pictureRow struct {
	Index       int             `json:"index" yaml:"index"`
	Type        string          `json:"type" yaml:"type"`
	MIME        string          `json:"mime" yaml:"mime"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Declared    string          `json:"declared" yaml:"declared"`
	Decoded     string          `json:"decoded,omitempty" yaml:"decoded,omitempty"`
	Bytes       int64           `json:"bytes" yaml:"bytes"`
	SHA256      string          `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	EXIF        []artwork.Field `json:"exif,omitempty" yaml:"exif,omitempty"`
}

func runPictureList(cmd *cobra.Command, path string, showEXIF bool) error {
	lister, err := pictureLister(path)
	if err != nil {
		return err
	}
	locs, err := lister.Pictures(cmd.Context(), path)
	if err != nil {
		return err
	}

	loader, err := artwork.NewLoader(artwork.LoaderConfig{
		Workers:   state.cfg.Artwork.Workers,
		CacheSize: state.cfg.Artwork.CacheSize,
		Fs:        state.fs,
	})
	if err != nil {
		return err
	}
	defer loader.Close()

	futures := make([]*artwork.Future, len(locs))
	for i, loc := range locs {
		futures[i] = loader.Load(artwork.Request{Path: loc.Path, Offset: loc.Offset, Length: loc.Length, Data: loc.Data})
	}

	rows := make([]pictureRow, len(locs))
	for i, loc := range locs {
		p := loc.Header
		row := pictureRow{
			Index:       loc.Index,
			Type:        p.Type.String(),
			MIME:        p.MIME,
			Description: p.Description,
			Declared:    fmt.Sprintf("%dx%d", p.Width, p.Height),
			Bytes:       loc.Length,
		}
		img, err := futures[i].Wait(cmd.Context())
		if err != nil {
			row.Error = err.Error()
		} else {
			row.Decoded = fmt.Sprintf("%s %dx%d", img.Format, img.Width, img.Height)
			row.SHA256 = img.Hash
			if showEXIF {
				row.EXIF = img.EXIF
			}
		}
		rows[i] = row
	}

	if state.printer.Structured() {
		return state.printer.PrintValue(rows)
	}
	if len(rows) == 0 {
		state.printer.PrintInfo("(no pictures)")
		return nil
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		decoded := r.Decoded
		if r.Error != "" {
			decoded = "error: " + r.Error
		}
		table = append(table, []string{strconv.Itoa(r.Index), r.Type, r.MIME, r.Declared, decoded, strconv.FormatInt(r.Bytes, 10), r.Description})
	}
	if err := state.printer.PrintTable([]string{"#", "Type", "MIME", "Declared", "Decoded", "Bytes", "Description"}, table); err != nil {
		return err
	}
	if showEXIF {
		for _, r := range rows {
			if len(r.EXIF) == 0 {
				continue
			}
			exif := make([][]string, 0, len(r.EXIF))
			for _, f := range r.EXIF {
				exif = append(exif, []string{f.Name, f.Value})
			}
			state.printer.PrintInfo(fmt.Sprintf("\nEXIF of picture %d", r.Index))
			if err := state.printer.PrintTable([]string{"Tag", "Value"}, exif); err != nil {
				return err
			}
		}
	}
	return nil
}

func runPictureExtract(cmd *cobra.Command, args []string) error {
	path, out := args[0], args[2]
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("picture index %q: %w", args[1], err)
	}
	lister, err := pictureLister(path)
	if err != nil {
		return err
	}
	locs, err := lister.Pictures(cmd.Context(), path)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(locs) {
		return fmt.Errorf("picture %d out of range (have %d)", idx, len(locs))
	}
	loc := locs[idx]
	data := loc.Data
	if data == nil {
		if data, err = readRange(state.fs, loc.Path, loc.Offset, loc.Length); err != nil {
			return err
		}
	}
	if err := afero.WriteFile(state.fs, out, data, 0o644); err != nil {
		return errs.IO("write "+out, err)
	}
	state.printer.PrintSuccess(fmt.Sprintf("picture %d (%s, %d bytes) written to %s", idx, loc.Header.MIME, len(data), out))
	return nil
}

func readRange(fs afero.Fs, path string, off, n int64) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errs.IO("open "+path, err)
	}
	defer f.Close()
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, errs.IO("read "+path, err)
	}
	return buf, nil
}
