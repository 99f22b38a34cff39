package spt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"
)

// preambleSize covers the magic and the chunk length.
const preambleSize = 8

// Scanner walks the chunks of a script held in memory, in order. Its API
// follows bufio.Scanner: call Scan until it returns false, then check Err.
//
// A Scanner cannot be rewound. Records returned by it alias the input buffer.
type Scanner struct {
	buf    []byte
	offset int64
	record *Record
	err    error
}

// NewScanner returns a Scanner reading chunks from buf.
func NewScanner(buf []byte) *Scanner {
	return &Scanner{
		buf: buf,
	}
}

// Scan decodes the next chunk. It returns false at the end of the script or on
// the first framing error.
func (s *Scanner) Scan() bool {
	s.record = nil
	if s.err != nil {
		return false
	}
	rest := s.buf[s.offset:]
	if len(rest) == 0 {
		return false
	}
	r, err := decode(s.offset, rest)
	if err != nil {
		s.err = err
		return false
	}
	glog.V(2).Infof("Decoded %s", r)
	s.record = r
	s.offset += int64(r.Length())
	return true
}

// Record returns the chunk decoded by the last call to Scan.
func (s *Scanner) Record() *Record {
	return s.record
}

// Offset returns the offset of the next chunk to be decoded.
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Err returns the first error encountered while scanning. It is nil at a
// clean end of script.
func (s *Scanner) Err() error {
	return s.err
}

func decode(offset int64, rest []byte) (*Record, error) {
	if len(rest) < preambleSize {
		// Tell garbage apart from a chunk cut short within its preamble.
		n := min(len(rest), len(Magic))
		if !bytes.Equal(rest[:n], Magic[:n]) {
			return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("expected %q, got %q", Magic[:], rest[:n])}
		}
		return nil, &TruncatedRecordError{Offset: offset, Want: preambleSize, Have: int64(len(rest))}
	}
	if !bytes.Equal(rest[:4], Magic[:]) {
		return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("expected %q, got %q", Magic[:], rest[:4])}
	}
	length := int64(binary.LittleEndian.Uint32(rest[4:8]))
	if length < HeaderSize {
		return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("chunk length %d too small", length)}
	}
	if length > int64(len(rest)) {
		return nil, &TruncatedRecordError{Offset: offset, Want: length, Have: int64(len(rest))}
	}

	var hdr Header
	if err := binary.Read(bytes.NewReader(rest[:HeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read header at offset 0x%x: %w", offset, err)
	}
	if int64(hdr.DataLen) != length-HeaderSize {
		return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("data length mismatch (%d vs %d)", length-HeaderSize, hdr.DataLen)}
	}

	return &Record{
		Offset:  offset,
		Request: hdr.Request,
		Address: hdr.Address,
		Unknowns: Unknowns{
			Unknown8:  hdr.Unknown8,
			Unknown12: hdr.Unknown12,
			Unknown17: hdr.Unknown17,
			Unknown20: hdr.Unknown20,
			Unknown24: hdr.Unknown24,
		},
		Data: rest[HeaderSize:length:length],
	}, nil
}
