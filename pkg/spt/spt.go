// Package spt implements parsing of Cypress USB script files, usually shipped
// with a .spt extension and replayed by the Cypress Generic USB Driver
// (CyUsb.sys) when an EZ-USB device is attached.
//
// There is no public spec for this format. A script is a flat sequence of
// 'CSPT' chunks, each describing one recorded USB control request along with
// its data stage. Only a handful of header fields are understood, the rest are
// kept around verbatim so that callers can flag chunks which look different
// from the ones seen in the wild.
package spt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of a chunk header, up to and including the data
	// length field.
	HeaderSize = 32

	// RequestFirmwareLoad is the EZ-USB 'Firmware Load' vendor request,
	// handled by the chip itself and able to write internal RAM and CPUCS.
	RequestFirmwareLoad uint8 = 0xa0
	// RequestExternalLoad is the conventional vendor request used by
	// second-stage loaders (like fxload's Vend_Ax) to write external RAM.
	RequestExternalLoad uint8 = 0xa3
)

// Magic starts every chunk.
var Magic = [4]byte{'C', 'S', 'P', 'T'}

// Unknown header words as found in every known-good script. Their meaning has
// not been figured out.
var ExpectedUnknowns = Unknowns{
	Unknown8:  0x20,
	Unknown12: 0x40000000,
	Unknown17: 0x75,
	Unknown20: 0x900000,
	Unknown24: 0xf,
}

// Header is the on-disk layout of a chunk header, little endian.
type Header struct {
	Magic     [4]byte
	Length    uint32
	Unknown8  uint32
	Unknown12 uint32
	Request   uint8
	Unknown17 uint8
	Address   uint16
	Unknown20 uint32
	Unknown24 uint32
	DataLen   uint32
}

// Unknowns holds the header fields whose meaning is not known.
type Unknowns struct {
	Unknown8  uint32
	Unknown12 uint32
	Unknown17 uint8
	Unknown20 uint32
	Unknown24 uint32
}

func (u Unknowns) String() string {
	return fmt.Sprintf("(0x%x, 0x%x, 0x%x, 0x%x, 0x%x)", u.Unknown8, u.Unknown12, u.Unknown17, u.Unknown20, u.Unknown24)
}

// Record is a single decoded chunk.
type Record struct {
	// Offset of the chunk within the script.
	Offset int64
	// Request is the bRequest of the recorded control transfer.
	Request uint8
	// Address is the wValue of the recorded control transfer, which for
	// firmware load requests is the target memory address.
	Address  uint16
	Unknowns Unknowns
	// Data stage of the request. When parsed, this is a slice of the
	// scanner's input buffer.
	Data []byte
}

// Length is the size of the chunk as laid out on disk.
func (r *Record) Length() int {
	return HeaderSize + len(r.Data)
}

// IsFirmwareLoad returns true if the record writes to device memory.
func (r *Record) IsFirmwareLoad() bool {
	return r.Request == RequestFirmwareLoad || r.Request == RequestExternalLoad
}

func (r *Record) String() string {
	return fmt.Sprintf("<record offset=0x%x request=0x%02x address=0x%04x length=%d unknowns=%s>", r.Offset, r.Request, r.Address, len(r.Data), r.Unknowns)
}

func (r *Record) header() *Header {
	return &Header{
		Magic:     Magic,
		Length:    uint32(r.Length()),
		Unknown8:  r.Unknowns.Unknown8,
		Unknown12: r.Unknowns.Unknown12,
		Request:   r.Request,
		Unknown17: r.Unknowns.Unknown17,
		Address:   r.Address,
		Unknown20: r.Unknowns.Unknown20,
		Unknown24: r.Unknowns.Unknown24,
		DataLen:   uint32(len(r.Data)),
	}
}

// Marshal serializes records back into a script. Offsets are ignored.
func Marshal(records ...*Record) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	for i, r := range records {
		if err := binary.Write(buf, binary.LittleEndian, r.header()); err != nil {
			return nil, fmt.Errorf("could not serialize record %d header: %w", i, err)
		}
		buf.Write(r.Data)
	}
	return buf.Bytes(), nil
}
