// Package cmd holds the surgery command tree.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ankit-chaubey/opus-tag-surgery/core"
	"github.com/ankit-chaubey/opus-tag-surgery/core/audio"
	"github.com/ankit-chaubey/opus-tag-surgery/core/config"
	"github.com/ankit-chaubey/opus-tag-surgery/core/logging"
	"github.com/ankit-chaubey/opus-tag-surgery/core/opus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	outputFormat string
	verbose      bool
)

// app is the state shared by every command once flags are parsed.
type app struct {
	cfg     *config.Config
	fs      afero.Fs
	printer *core.Printer
	env     audio.Env
	closer  io.Closer
}

var state *app

var rootCmd = &cobra.Command{
	Use:   "surgery",
	Short: "Edit tags of Opus, FLAC and MP3 files without touching the audio",
	Long: `surgery reads and rewrites audio metadata. Opus files are edited in place:
only the comment header pages change, every audio page keeps its bytes.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if state != nil && state.closer != nil {
			return state.closer.Close()
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "YAML config file")
	pf.StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")
	pf.BoolVarP(&verbose, "verbose", "v", false, "show long values in full")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("log-file", "", "write logs to a rotating file instead of stderr")
	pf.String("strategy", "in-place", "Opus save strategy: in-place or atomic")
	pf.Bool("backup", false, "keep a .bak copy of every file before changing it")
	pf.Bool("verify", true, "re-read Opus files after saving")
	pf.Int("max-comments", 8192, "comments decoded per file; the rest are kept verbatim")
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	format, err := core.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	printer := core.NewPrinter(format, verbose)
	printer.Writer, printer.Err = cmd.OutOrStdout(), cmd.ErrOrStderr()
	fs := afero.NewOsFs()
	state = &app{
		cfg:     cfg,
		fs:      fs,
		printer: printer,
		closer:  closer,
		env: audio.Env{
			Fs: fs,
			Opus: opus.Options{
				MaxComments: cfg.Comments.MaxComments,
				Save:        cfg.SaveOptions(),
			},
		},
	}
	return nil
}

// handlerFor detects the format of path and returns its handler.
func (a *app) handlerFor(path string) (*audio.Handler, error) {
	id, err := core.DetectFormat(a.fs, path)
	if err != nil {
		return nil, err
	}
	if id == core.FmtUnknown {
		return nil, fmt.Errorf("%s: unrecognised format", path)
	}
	return audio.New(id, a.env)
}

// Execute runs the command tree, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		p := core.NewPrinter(core.OutputText, false)
		if state != nil {
			p = state.printer
		}
		p.PrintError(err)
	}
	return err
}
