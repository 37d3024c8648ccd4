// Package archiveerr defines the typed error taxonomy surfaced by the
// compile and restore pipelines: I/O, parameter, KDF, AEAD, stability,
// reconstruct, sequence-gap and no-match failures, each able to carry
// the block id it affects.
package archiveerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of archive failure.
type Code string

const (
	IO            Code = "IO"
	Parameter     Code = "PARAMETER"
	KDF           Code = "KDF"
	AEAD          Code = "AEAD"
	Stability     Code = "STABILITY"
	Reconstruct   Code = "RECONSTRUCT"
	SequenceGap   Code = "SEQUENCE_GAP"
	NoMatch       Code = "NO_MATCH"
)

// BlockError is an archive failure optionally attributed to a block id.
// HasBlock is false for failures with no single affected block (e.g. a
// bad parameter at startup).
type BlockError struct {
	Code     Code
	Msg      string
	BlockID  uint32
	HasBlock bool
}

func (e *BlockError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.HasBlock {
		return fmt.Sprintf("%s: block %d: %s", e.Code, e.BlockID, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds a BlockError with no associated block id.
func New(code Code, msg string) error {
	return &BlockError{Code: code, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) error {
	return &BlockError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ForBlock builds a BlockError attributed to a specific block id.
func ForBlock(code Code, blockID uint32, msg string) error {
	return &BlockError{Code: code, Msg: msg, BlockID: blockID, HasBlock: true}
}

// ForBlockf is ForBlock with fmt.Sprintf-style formatting.
func ForBlockf(code Code, blockID uint32, format string, args ...any) error {
	return &BlockError{Code: code, Msg: fmt.Sprintf(format, args...), BlockID: blockID, HasBlock: true}
}

// CodeOf extracts the Code from err if it is (or wraps) a *BlockError,
// reporting ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var be *BlockError
	if !errors.As(err, &be) || be == nil {
		return "", false
	}
	return be.Code, true
}
