package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freemyipod/cyusb-fw-extract/pkg/extract"
	"github.com/freemyipod/cyusb-fw-extract/pkg/spt"
)

var recordsCmd = &cobra.Command{
	Use:   "records [input.spt]",
	Short: "List the chunks of a script file",
	Long:  "Decodes every CSPT chunk of a script file and prints its header fields, without trying to extract any firmware.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := extract.ReadScript(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		s := spt.NewScanner(data)
		n := 0
		for s.Scan() {
			r := s.Record()
			odd := ""
			if r.Unknowns != spt.ExpectedUnknowns {
				odd = " unknowns=" + r.Unknowns.String()
			}
			fmt.Fprintf(out, "0x%08x: request=0x%02x address=0x%04x length=%d%s\n", r.Offset, r.Request, r.Address, len(r.Data), odd)
			n++
		}
		if err := s.Err(); err != nil {
			return fmt.Errorf("could not parse script: %w", err)
		}
		fmt.Fprintf(out, "%d records\n", n)
		return nil
	},
}
