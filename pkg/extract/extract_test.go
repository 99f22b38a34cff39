package extract

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/freemyipod/cyusb-fw-extract/pkg/firmware"
	"github.com/freemyipod/cyusb-fw-extract/pkg/ihex"
	"github.com/freemyipod/cyusb-fw-extract/pkg/spt"
)

const cpucs = 0xe600

func load(addr uint16, data ...byte) *spt.Record {
	return &spt.Record{
		Request:  spt.RequestFirmwareLoad,
		Address:  addr,
		Unknowns: spt.ExpectedUnknowns,
		Data:     data,
	}
}

func script(t *testing.T, records ...*spt.Record) []byte {
	t.Helper()
	res, err := spt.Marshal(records...)
	require.NoError(t, err)
	return res
}

func counting(n int) []byte {
	res := make([]byte, n)
	for i := range res {
		res[i] = byte(i)
	}
	return res
}

// twoStage looks like a typical two-stage loader: a tiny loader first, the
// actual firmware second, with some unrelated vendor request in between.
func twoStage(t *testing.T) []byte {
	return script(t,
		load(cpucs, 0x01),
		load(0x0000, 0x02, 0x00, 0x06),
		load(0x0006, 0x75, 0x81, 0x5f),
		load(cpucs, 0x00),
		load(cpucs, 0x01),
		load(0x0000, 0x02, 0x01, 0x00),
		&spt.Record{Request: 0x40, Address: 0x0001, Unknowns: spt.ExpectedUnknowns},
		load(0x0100, counting(20)...),
		load(cpucs, 0x00),
	)
}

func TestTwoStages(t *testing.T) {
	res, err := Extract(twoStage(t), nil)
	require.NoError(t, err)

	assert.Equal(t, uint16(cpucs), res.CPUCS)
	assert.Equal(t, 9, res.Records)
	require.Len(t, res.Stages, 2)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "0x40")
	assert.Equal(t, int64(3*33+3*35), res.Warnings[0].Offset)

	s1, err := res.Stage(1)
	require.NoError(t, err)
	assert.Equal(t, 2, s1.Records)
	assert.Equal(t, []*firmware.Segment{
		{Address: 0x0000, Data: []byte{0x02, 0x00, 0x06}},
		{Address: 0x0006, Data: []byte{0x75, 0x81, 0x5f}},
	}, s1.Image.Segments)

	s2, err := res.Stage(2)
	require.NoError(t, err)
	assert.Equal(t, []*firmware.Segment{
		{Address: 0x0000, Data: []byte{0x02, 0x01, 0x00}},
		{Address: 0x0100, Data: counting(20)},
	}, s2.Image.Segments)

	_, err = res.Stage(3)
	assert.Error(t, err)

	merged := res.Merged()
	assert.Equal(t, []*firmware.Segment{
		{Address: 0x0000, Data: []byte{0x02, 0x01, 0x00}},
		{Address: 0x0006, Data: []byte{0x75, 0x81, 0x5f}},
		{Address: 0x0100, Data: counting(20)},
	}, merged.Segments)
}

func TestGolden(t *testing.T) {
	res, err := Extract(twoStage(t), nil)
	require.NoError(t, err)

	s2, err := res.Stage(2)
	require.NoError(t, err)
	out, err := ihex.Marshal(s2.Image, &ihex.Options{Comments: Comments("golden.spt", 2)})
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"# Extracted using cyusb-fw-extract 0.2",
		"# Stage 2 from golden.spt",
		":03000000020100FA",
		":10010000000102030405060708090A0B0C0D0E0F77",
		":0401100010111213A5",
		":00000001FF",
		"",
	}, "\n"), string(out))

	out, err = ihex.Marshal(res.Merged(), &ihex.Options{Comments: Comments("golden.spt", 0)})
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"# Extracted using cyusb-fw-extract 0.2",
		"# All stages from golden.spt",
		":03000000020100FA",
		":0300060075815FA2",
		":10010000000102030405060708090A0B0C0D0E0F77",
		":0401100010111213A5",
		":00000001FF",
		"",
	}, "\n"), string(out))
}

func TestIdempotent(t *testing.T) {
	in := twoStage(t)
	var outs [][]byte
	for i := 0; i < 2; i++ {
		res, err := Extract(in, nil)
		require.NoError(t, err)
		out, err := ihex.Marshal(res.Merged(), &ihex.Options{Comments: Comments("x.spt", 0)})
		require.NoError(t, err)
		outs = append(outs, out)
	}
	assert.Equal(t, outs[0], outs[1])
}

func TestOverwriteWithinStage(t *testing.T) {
	res, err := Extract(script(t,
		load(cpucs, 0x01),
		load(0x0010, 0xaa, 0xaa, 0xaa, 0xaa),
		load(0x0012, 0xbb, 0xbb, 0xbb),
		load(cpucs, 0x00),
	), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, []*firmware.Segment{
		{Address: 0x0010, Data: []byte{0xaa, 0xaa, 0xbb, 0xbb, 0xbb}},
	}, res.Stages[0].Image.Segments)
}

func TestExternalLoad(t *testing.T) {
	ext := load(0x4000, 0x12, 0x34)
	ext.Request = spt.RequestExternalLoad
	res, err := Extract(script(t,
		load(cpucs, 0x01),
		load(0x0000, 0x02),
		ext,
		load(cpucs, 0x00),
	), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 3, res.Merged().Size())
}

func TestNoFirmware(t *testing.T) {
	for _, tc := range []struct {
		name   string
		script []byte
	}{
		{"empty", nil},
		{"cpucs only", script(t, load(cpucs, 0x01), load(cpucs, 0x00))},
		{"unknown requests only", script(t, &spt.Record{Request: 0x51, Unknowns: spt.ExpectedUnknowns, Data: []byte{1, 2}})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Extract(tc.script, nil)
			var nf *NoFirmwareFoundError
			require.True(t, errors.As(err, &nf), "got %v", err)
			assert.Equal(t, "no firmware found", Kind(err))
		})
	}
}

func TestTruncated(t *testing.T) {
	in := twoStage(t)
	_, err := Extract(in[:len(in)-1], nil)
	var te *spt.TruncatedRecordError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, int64(len(in)-33), te.Offset)
	assert.Equal(t, "truncated record", Kind(err))
}

func TestBadMagic(t *testing.T) {
	_, err := Extract([]byte("MZ\x90\x00\x03\x00\x00\x00\x04\x00"), nil)
	var fe *spt.FormatError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, int64(0), fe.Offset)
	assert.Equal(t, "format error", Kind(err))
}

func TestWarnings(t *testing.T) {
	odd := load(0x0020, 0x01)
	odd.Unknowns.Unknown24 = 0x10

	res, err := Extract(script(t,
		load(0x0000, 0x01, 0x02),
		load(cpucs, 0x01),
		load(cpucs, 0x01),
		load(cpucs, 0x00, 0x00),
		odd,
		load(cpucs, 0x00),
		load(0x0030, 0x03),
		load(cpucs, 0x01),
	), nil)
	require.NoError(t, err)

	var msgs []string
	for _, w := range res.Warnings {
		msgs = append(msgs, w.Message)
	}
	require.Len(t, msgs, 6)
	assert.Contains(t, msgs[0], "before CPUCS")
	assert.Contains(t, msgs[1], "doesn't change CPUCS.0")
	assert.Contains(t, msgs[2], "multi-byte write to CPUCS")
	assert.Contains(t, msgs[3], "not entirely understood")
	assert.Contains(t, msgs[4], "while CPU is running")
	assert.Contains(t, msgs[5], "without clearing CPUCS.0")

	// The running write opens its own stage, the final reset one more.
	require.Len(t, res.Stages, 3)
	assert.Equal(t, 1, res.Stages[0].Image.Size())
	assert.Equal(t, 1, res.Stages[1].Image.Size())
	assert.True(t, res.Stages[2].Image.Empty())
}

func TestFirstWriteClearsReset(t *testing.T) {
	res, err := Extract(script(t,
		load(cpucs, 0x00),
		load(0x0000, 0x02),
	), nil)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 3)
	assert.Contains(t, res.Warnings[0].Message, "clears CPUCS.0")
	assert.Contains(t, res.Warnings[1].Message, "doesn't change CPUCS.0")
	assert.Contains(t, res.Warnings[2].Message, "while CPU is running")
}

func TestStrict(t *testing.T) {
	res, err := Extract(twoStage(t), &Options{Strict: true})
	var we *WarningsError
	require.True(t, errors.As(err, &we), "got %v", err)
	assert.Len(t, we.Err.Errors, 1)
	assert.Equal(t, "warnings", Kind(err))
	require.NotNil(t, res)
	assert.Len(t, res.Stages, 2)

	var w *Warning
	assert.True(t, errors.As(err, &w))
}

func TestReadScript(t *testing.T) {
	dir := t.TempDir()
	in := twoStage(t)

	plain := filepath.Join(dir, "plain.spt")
	require.NoError(t, os.WriteFile(plain, in, 0644))
	got, err := ReadScript(plain)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	buf := bytes.NewBuffer(nil)
	w, err := xz.NewWriter(buf)
	require.NoError(t, err)
	_, err = w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	compressed := filepath.Join(dir, "compressed.spt.xz")
	require.NoError(t, os.WriteFile(compressed, buf.Bytes(), 0644))
	got, err = ReadScript(compressed)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	_, err = ReadScript(filepath.Join(dir, "missing.spt"))
	var ie *IOError
	require.True(t, errors.As(err, &ie), "got %v", err)
	assert.Equal(t, "read", ie.Op)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, "I/O error", Kind(err))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ihx")
	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())

	require.NoError(t, os.Chmod(path, 0600))
	require.NoError(t, WriteFileAtomic(path, []byte("third")))
	fi, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	err = WriteFileAtomic(filepath.Join(dir, "nope", "out.ihx"), []byte("x"))
	var ie *IOError
	assert.True(t, errors.As(err, &ie), "got %v", err)
}

func TestFamily(t *testing.T) {
	res, err := Extract(script(t,
		load(0x7f92, 0x01),
		load(0x0000, 0x02),
		load(0x1b3f, 0x01, 0x02),
		load(0x7f92, 0x00),
	), nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x7f92), res.CPUCS)
	assert.Equal(t, "EZ-USB AN21xx or EZ-USB FX", res.Family.String())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "past internal RAM")
	assert.Equal(t, 3, res.Merged().Size())
}

func TestExternalLoadIsNotCPUCS(t *testing.T) {
	early := load(0x4000, 0x01)
	early.Request = spt.RequestExternalLoad
	res, err := Extract(script(t,
		early,
		load(cpucs, 0x01),
		load(0x0000, 0x02),
		load(cpucs, 0x00),
	), nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(cpucs), res.CPUCS)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "request 0xa3 before CPUCS")
	require.Len(t, res.Stages, 1)
	assert.Equal(t, []*firmware.Segment{
		{Address: 0x0000, Data: []byte{0x02}},
	}, res.Stages[0].Image.Segments)
}
