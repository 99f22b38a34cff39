package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/freemyipod/cyusb-fw-extract/pkg/extract"
	"github.com/freemyipod/cyusb-fw-extract/pkg/ihex"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [image.ihx]",
	Short: "Parse an Intel HEX image and list its segments",
	Long:  "Reads back an Intel HEX image, eg. one written by this tool, and prints the contiguous segments it loads.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return &extract.IOError{Op: "open", Path: args[0], Err: err}
		}
		defer f.Close()

		img, err := ihex.Decode(f)
		if err != nil {
			return fmt.Errorf("could not read image: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, s := range img.Segments {
			fmt.Fprintf(out, "%s\n", s)
		}
		fmt.Fprintf(out, "%d segments, %d bytes\n", len(img.Segments), img.Size())
		return nil
	},
}
