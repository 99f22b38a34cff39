// Package devices describes the EZ-USB microcontroller families that Cypress
// USB scripts are written for.
package devices

import "strings"

type Kind string

const (
	AN21  Kind = "an21"
	FX    Kind = "fx"
	FX2   Kind = "fx2"
	FX2LP Kind = "fx2lp"
)

func (k Kind) String() string {
	switch k {
	case AN21:
		return "EZ-USB AN21xx"
	case FX:
		return "EZ-USB FX"
	case FX2:
		return "EZ-USB FX2"
	case FX2LP:
		return "EZ-USB FX2LP"
	}
	return "UNKNOWN"
}

// Range is a half-open address range.
type Range struct {
	Start, End uint32
}

func (r Range) contains(addr, length uint32) bool {
	return addr >= r.Start && addr+length <= r.End
}

type Description struct {
	Kind Kind
	// CPUCS is the address of the CPU control register, whose bit 0 holds the
	// 8051 in reset.
	CPUCS uint16
	// Internal is the on-chip RAM that the 'Firmware Load' request can write
	// directly. Everything else needs a second-stage loader.
	Internal []Range
}

// IsExternal returns true if a write of length bytes at addr does not fit
// into internal RAM, following fxload's rules.
func (d *Description) IsExternal(addr, length uint32) bool {
	for _, r := range d.Internal {
		if r.contains(addr, length) {
			return false
		}
	}
	return true
}

var Descriptions = []Description{
	{
		Kind:     AN21,
		CPUCS:    0x7f92,
		Internal: []Range{{0x0000, 0x1b40}},
	},
	{
		Kind:     FX,
		CPUCS:    0x7f92,
		Internal: []Range{{0x0000, 0x1b40}},
	},
	{
		Kind:     FX2,
		CPUCS:    0xe600,
		Internal: []Range{{0x0000, 0x2000}, {0xe000, 0xe200}},
	},
	{
		Kind:     FX2LP,
		CPUCS:    0xe600,
		Internal: []Range{{0x0000, 0x4000}, {0xe000, 0xe200}},
	},
}

// ByCPUCS returns all families whose CPUCS register lives at addr. Scripts do
// not say which chip they target, so this is as precise as it gets.
func ByCPUCS(addr uint16) Family {
	var res Family
	for _, d := range Descriptions {
		if d.CPUCS == addr {
			res = append(res, d)
		}
	}
	return res
}

// Family is a set of candidate chips sharing a CPUCS address.
type Family []Description

func (f Family) String() string {
	if len(f) == 0 {
		return "unknown EZ-USB"
	}
	var names []string
	for _, d := range f {
		names = append(names, d.Kind.String())
	}
	return strings.Join(names, " or ")
}

// IsExternal returns true only if the write is external to every candidate.
// An unknown family never reports external writes.
func (f Family) IsExternal(addr, length uint32) bool {
	if len(f) == 0 {
		return false
	}
	for _, d := range f {
		if !d.IsExternal(addr, length) {
			return false
		}
	}
	return true
}
