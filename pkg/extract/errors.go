package extract

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/freemyipod/cyusb-fw-extract/pkg/ihex"
	"github.com/freemyipod/cyusb-fw-extract/pkg/spt"
)

// NoFirmwareFoundError is returned for well-formed scripts which never write
// any firmware bytes, eg. scripts that only poke device registers.
type NoFirmwareFoundError struct {
	// Records is the number of chunks seen in the script.
	Records int
}

func (e *NoFirmwareFoundError) Error() string {
	return fmt.Sprintf("no firmware found in %d records", e.Records)
}

// IOError wraps a failure to access the input or output file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("could not %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// WarningsError is returned in strict mode when the extraction raised any
// warning.
type WarningsError struct {
	Err *multierror.Error
}

func newWarningsError(warnings []*Warning) *WarningsError {
	var errs *multierror.Error
	for _, w := range warnings {
		errs = multierror.Append(errs, w)
	}
	return &WarningsError{Err: errs}
}

func (e *WarningsError) Error() string {
	return fmt.Sprintf("finished with %d warnings", len(e.Err.Errors))
}

func (e *WarningsError) Unwrap() error {
	return e.Err
}

// Kind names the class of failure behind err, for diagnostics.
func Kind(err error) string {
	var (
		fe *spt.FormatError
		te *spt.TruncatedRecordError
		ne *NoFirmwareFoundError
		ie *IOError
		we *WarningsError
	)
	switch {
	case errors.As(err, &fe):
		return "format error"
	case errors.As(err, &te):
		return "truncated record"
	case errors.As(err, &ne):
		return "no firmware found"
	case errors.As(err, &ie):
		return "I/O error"
	case errors.As(err, &we):
		return "warnings"
	case errors.Is(err, ihex.ErrAddressRange):
		return "address range"
	}
	return "error"
}
