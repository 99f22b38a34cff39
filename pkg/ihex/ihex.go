// Package ihex reads and writes firmware images in the flavour of Intel HEX
// understood by fxload: 16-bit addresses, data and end-of-file records only,
// and '#' comment lines.
package ihex

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/freemyipod/cyusb-fw-extract/pkg/firmware"
)

const (
	DefaultWidth = 16

	recordData = 0x00
	eofLine    = ":00000001FF\n"
)

var (
	// ErrAddressRange is returned when an image reaches past 0xffff, which
	// fxload cannot express since it does not take extended address records.
	ErrAddressRange = errors.New("addresses greater than 16 bits not supported")
)

type Options struct {
	// Comments are emitted as '#' lines before any record.
	Comments []string
	// Width is the maximum number of data bytes per record. Defaults to
	// DefaultWidth.
	Width int
}

// Marshal serializes img into an in-memory Intel HEX file.
func Marshal(img *firmware.Image, opts *Options) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := Encode(buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes img as Intel HEX. Every segment is split into records of at
// most Width bytes, counted from the segment start.
func Encode(w io.Writer, img *firmware.Image, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	width := opts.Width
	if width == 0 {
		width = DefaultWidth
	}
	if width < 1 || width > 255 {
		return fmt.Errorf("width must be in range [1, 255], got %d", width)
	}
	for _, s := range img.Segments {
		if s.End() > 0x10000 {
			return fmt.Errorf("segment %s: %w", s, ErrAddressRange)
		}
	}

	bw := bufio.NewWriter(w)
	for _, c := range opts.Comments {
		fmt.Fprintf(bw, "# %s\n", strings.ReplaceAll(c, "\n", " "))
	}
	for _, s := range img.Segments {
		for i := 0; i < len(s.Data); i += width {
			end := min(i+width, len(s.Data))
			bw.WriteString(dataLine(uint16(s.Address+uint32(i)), s.Data[i:end]))
		}
	}
	bw.WriteString(eofLine)
	return bw.Flush()
}

func dataLine(addr uint16, data []byte) string {
	octets := make([]byte, 0, len(data)+5)
	octets = append(octets, byte(len(data)), byte(addr>>8), byte(addr), recordData)
	octets = append(octets, data...)
	var sum byte
	for _, o := range octets {
		sum += o
	}
	octets = append(octets, -sum)
	return ":" + strings.ToUpper(hex.EncodeToString(octets)) + "\n"
}

// Decode parses an Intel HEX file, skipping comment and blank lines the same
// way fxload does.
func Decode(r io.Reader) (*firmware.Image, error) {
	stripped := bytes.NewBuffer(nil)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			return nil, fmt.Errorf("line %d: not a record: %q", lineNum, line)
		}
		stripped.WriteString(line + "\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(stripped); err != nil {
		return nil, fmt.Errorf("could not parse records: %w", err)
	}

	acc := firmware.NewAccumulator()
	for _, s := range mem.GetDataSegments() {
		acc.Write(s.Address, s.Data)
	}
	return acc.Image(), nil
}
