package spt

import "fmt"

// FormatError is returned when a chunk is not framed like a CSPT chunk.
type FormatError struct {
	// Offset of the offending chunk within the script.
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid chunk at offset 0x%x: %s", e.Offset, e.Reason)
}

// TruncatedRecordError is returned when a chunk declares more bytes than are
// left in the script.
type TruncatedRecordError struct {
	Offset int64
	// Want is the number of bytes the chunk needs, counted from Offset.
	Want int64
	// Have is the number of bytes actually left, counted from Offset.
	Have int64
}

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("truncated chunk at offset 0x%x: need %d bytes, only %d left", e.Offset, e.Want, e.Have)
}
