package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/freemyipod/cyusb-fw-extract/pkg/extract"
	"github.com/freemyipod/cyusb-fw-extract/pkg/firmware"
	"github.com/freemyipod/cyusb-fw-extract/pkg/ihex"
)

var (
	extractStage  int
	extractSplit  bool
	extractStrict bool
	verboseLog    bool
)

var rootCmd = &cobra.Command{
	Use:   "cyusb-fw-extract [input.spt] [output.ihx]",
	Short: "cyusb-fw-extract pulls EZ-USB firmware out of Cypress USB script files",
	Long: `Reads a Cypress USB script file (.spt), as replayed by CyUsb.sys when an EZ-USB
device is attached, and writes the firmware it loads as an fxload-compatible
Intel HEX image.

By default all loader stages are merged into a single image. Use --stage to
pick one stage, or --split to write every stage to <output>_N.ihx.`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseLog {
			slog.SetLogLoggerLevel(slog.LevelDebug)
			flag.Set("v", "1")
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractSplit && extractStage != 0 {
			return fmt.Errorf("--split and --stage are mutually exclusive")
		}
		input, output := args[0], args[1]
		data, err := extract.ReadScript(input)
		if err != nil {
			return err
		}

		res, err := extract.Extract(data, &extract.Options{Strict: extractStrict})
		if res != nil {
			slog.Debug("Parsed script", "records", res.Records, "stages", len(res.Stages), "cpucs", fmt.Sprintf("0x%04x", res.CPUCS), "family", res.Family.String())
		}
		if err != nil {
			return err
		}

		source := filepath.Base(input)
		switch {
		case extractSplit:
			for _, s := range res.Stages {
				if err := writeImage(stagePath(output, s.Number), s.Image, extract.Comments(source, s.Number)); err != nil {
					return err
				}
			}
		case extractStage != 0:
			s, err := res.Stage(extractStage)
			if err != nil {
				return err
			}
			if err := writeImage(output, s.Image, extract.Comments(source, s.Number)); err != nil {
				return err
			}
		default:
			if err := writeImage(output, res.Merged(), extract.Comments(source, 0)); err != nil {
				return err
			}
		}

		if len(res.Warnings) > 0 {
			slog.Warn("Finished with warnings", "count", len(res.Warnings))
		} else {
			slog.Debug("Finished with no warnings")
		}
		return nil
	},
}

// stagePath turns out.ihx into out_N.ihx.
func stagePath(output string, n int) string {
	ext := filepath.Ext(output)
	if ext == "" {
		ext = ".ihx"
	}
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(output, filepath.Ext(output)), n, ext)
}

func writeImage(path string, img *firmware.Image, comments []string) error {
	data, err := ihex.Marshal(img, &ihex.Options{Comments: comments})
	if err != nil {
		return fmt.Errorf("could not serialize image: %w", err)
	}
	if err := extract.WriteFileAtomic(path, data); err != nil {
		return err
	}
	slog.Info("Wrote image", "path", path, "segments", len(img.Segments), "bytes", img.Size())
	return nil
}

// execute runs the command line in args and returns the process exit status.
// Failures are reported as a single line on stderr.
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "%s: %s: %v\n", rootCmd.Name(), extract.Kind(err), err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func init() {
	rootCmd.Flags().IntVarP(&extractStage, "stage", "s", 0, "Only write loader stage N (counting from 1) instead of all stages merged")
	rootCmd.Flags().BoolVar(&extractSplit, "split", false, "Write every loader stage to its own <output>_N.ihx file")
	rootCmd.Flags().BoolVar(&extractStrict, "strict", false, "Fail if the script raised any warning")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(verifyCmd)

	// glog logs to files by default, we want warnings on the terminal.
	flag.Set("logtostderr", "true")
	// glog's -v would clash with the --verbose shorthand, it is set from
	// --verbose instead.
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if f.Name == "v" {
			return
		}
		pflag.CommandLine.AddGoFlag(f)
	})
}
