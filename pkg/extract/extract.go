// Package extract recovers EZ-USB firmware images from Cypress USB script
// files.
//
// Scripts program the device by replaying 'Firmware Load' vendor requests.
// The first request written by a script is expected to put the 8051 core into
// reset by setting bit 0 of the CPUCS register, and the last one to release it
// again. Everything written in between is firmware. Two-stage loaders repeat
// this twice: once for a small loader in internal RAM, and once for the actual
// firmware. Each such reset window is returned as a separate Stage.
//
// This is a heuristic: scripts contain plenty of requests that have nothing to
// do with firmware loading, and those are skipped with a warning instead of
// failing the extraction.
package extract

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/freemyipod/cyusb-fw-extract/pkg/devices"
	"github.com/freemyipod/cyusb-fw-extract/pkg/firmware"
	"github.com/freemyipod/cyusb-fw-extract/pkg/spt"
)

const Version = "cyusb-fw-extract 0.2"

// Bit 0 of CPUCS, holds the 8051 core in reset when set.
const cpucsReset = 0x01

type Options struct {
	// Strict makes Extract fail with a WarningsError if anything looked off.
	Strict bool
}

// Warning is a non-fatal oddity found in the script.
type Warning struct {
	// Offset of the offending chunk.
	Offset  int64
	Message string
}

func (w *Warning) Error() string {
	return fmt.Sprintf("offset 0x%x: %s", w.Offset, w.Message)
}

// Stage is the firmware loaded during a single CPU reset window.
type Stage struct {
	// Number counts stages from 1, in script order.
	Number int
	// Records is the number of firmware chunks folded into this stage.
	Records int
	Image   *firmware.Image

	acc *firmware.Accumulator
}

type Result struct {
	Stages   []*Stage
	Warnings []*Warning
	// CPUCS is the address of the CPUCS register as detected from the first
	// write in the script (0xe600 on FX2, 0x7f92 on FX).
	CPUCS uint16
	// Family lists the chips that have their CPUCS register at CPUCS.
	Family devices.Family
	// Records is the number of chunks in the script.
	Records int
}

// Stage returns stage n, counting from 1.
func (r *Result) Stage(n int) (*Stage, error) {
	if n < 1 || n > len(r.Stages) {
		return nil, fmt.Errorf("no stage %d, script has %d stage(s)", n, len(r.Stages))
	}
	return r.Stages[n-1], nil
}

// Merged folds all stages into a single image, in order, with later stages
// overwriting earlier ones where they overlap.
func (r *Result) Merged() *firmware.Image {
	acc := firmware.NewAccumulator()
	for _, s := range r.Stages {
		acc.WriteImage(s.Image)
	}
	return acc.Image()
}

type extractor struct {
	res       *Result
	cpucsSeen bool
	inReset   bool
	cur       *Stage
}

func (e *extractor) warn(offset int64, format string, args ...interface{}) {
	w := &Warning{
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	}
	glog.Warningf("%v", w)
	e.res.Warnings = append(e.res.Warnings, w)
}

func (e *extractor) openStage() {
	e.cur = &Stage{
		Number: len(e.res.Stages) + 1,
		acc:    firmware.NewAccumulator(),
	}
	e.res.Stages = append(e.res.Stages, e.cur)
	glog.V(1).Infof("Starting stage %d", e.cur.Number)
}

func (e *extractor) record(r *spt.Record) {
	glog.V(1).Infof("%s", r)
	if !r.IsFirmwareLoad() {
		e.warn(r.Offset, "skipping unrecognized device request 0x%02x", r.Request)
		return
	}
	if r.Unknowns != spt.ExpectedUnknowns {
		e.warn(r.Offset, "file format not entirely understood: %s instead of %s", r.Unknowns, spt.ExpectedUnknowns)
	}

	if !e.cpucsSeen {
		// Only the chip itself can write CPUCS.
		if r.Request != spt.RequestFirmwareLoad {
			e.warn(r.Offset, "skipping request 0x%02x before CPUCS was found", r.Request)
			return
		}
		if len(r.Data) != 1 {
			e.warn(r.Offset, "skipping multi-byte write before CPUCS was found")
			return
		}
		if r.Data[0]&cpucsReset == 0 {
			e.warn(r.Offset, "first write clears CPUCS.0 instead of setting it")
		}
		e.res.CPUCS = r.Address
		e.res.Family = devices.ByCPUCS(r.Address)
		e.cpucsSeen = true
		glog.V(1).Infof("Detected CPUCS address: 0x%04x (%s)", r.Address, e.res.Family)
	}

	if r.Address != e.res.CPUCS {
		if e.cur == nil {
			e.warn(r.Offset, "write to 0x%04x while CPU is running", r.Address)
			e.openStage()
		}
		if r.Request == spt.RequestFirmwareLoad && e.res.Family.IsExternal(uint32(r.Address), uint32(len(r.Data))) {
			e.warn(r.Offset, "firmware load request reaches past internal RAM of %s at 0x%04x", e.res.Family, r.Address)
		}
		e.cur.acc.Write(uint32(r.Address), r.Data)
		e.cur.Records++
		return
	}

	if len(r.Data) != 1 {
		e.warn(r.Offset, "skipping multi-byte write to CPUCS")
		return
	}
	reset := r.Data[0]&cpucsReset != 0
	if reset == e.inReset {
		e.warn(r.Offset, "skipping write to CPUCS that doesn't change CPUCS.0")
		return
	}
	if reset {
		e.openStage()
	} else if e.cur != nil {
		glog.V(1).Infof("Finished stage %d", e.cur.Number)
		e.cur = nil
	}
	e.inReset = reset
}

// Extract runs a single pass over script and returns the firmware stages it
// loads.
func Extract(script []byte, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	e := &extractor{
		res: &Result{},
	}
	s := spt.NewScanner(script)
	for s.Scan() {
		e.res.Records++
		e.record(s.Record())
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("could not parse script: %w", err)
	}
	if e.inReset {
		e.warn(s.Offset(), "input finished without clearing CPUCS.0")
	}

	found := false
	for _, st := range e.res.Stages {
		st.Image = st.acc.Image()
		if !st.Image.Empty() {
			found = true
		}
	}
	if !found {
		return nil, &NoFirmwareFoundError{Records: e.res.Records}
	}

	if opts.Strict && len(e.res.Warnings) > 0 {
		return e.res, newWarningsError(e.res.Warnings)
	}
	return e.res, nil
}

// Comments returns the '#' header lines written at the top of an extracted
// image. A stage of 0 stands for the merged image.
func Comments(source string, stage int) []string {
	res := []string{fmt.Sprintf("Extracted using %s", Version)}
	if stage == 0 {
		res = append(res, fmt.Sprintf("All stages from %s", source))
	} else {
		res = append(res, fmt.Sprintf("Stage %d from %s", stage, source))
	}
	return res
}
