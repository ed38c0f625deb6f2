package bladerf

import (
	"errors"
	"fmt"
)

// Code is a libbladeRF status code. Zero is success, failures are negative.
// A non-zero Code is an error whose text is the library's description.
type Code int

const (
	ErrUnexpected  Code = -1
	ErrRange       Code = -2
	ErrInval       Code = -3
	ErrMem         Code = -4
	ErrIO          Code = -5
	ErrTimeout     Code = -6
	ErrNoDev       Code = -7
	ErrUnsupported Code = -8
	ErrMisaligned  Code = -9
	ErrChecksum    Code = -10
	ErrNoFile      Code = -11
	ErrUpdateFPGA  Code = -12
	ErrUpdateFW    Code = -13
	ErrTimePast    Code = -14
	ErrQueueFull   Code = -15
	ErrFPGAOp      Code = -16
	ErrPermission  Code = -17
	ErrWouldBlock  Code = -18
	ErrNotInit     Code = -19
)

var codeText = map[Code]string{
	0:              "Success",
	ErrUnexpected:  "An unexpected error occurred",
	ErrRange:       "Provided parameter was out of the allowable range",
	ErrInval:       "Invalid operation or parameter",
	ErrMem:         "A memory allocation error occurred",
	ErrIO:          "File or device I/O failure",
	ErrTimeout:     "Operation timed out",
	ErrNoDev:       "No devices available",
	ErrUnsupported: "Operation not supported",
	ErrMisaligned:  "Misaligned flash access",
	ErrChecksum:    "Invalid checksum",
	ErrNoFile:      "File not found",
	ErrUpdateFPGA:  "An FPGA update is required",
	ErrUpdateFW:    "A firmware update is required",
	ErrTimePast:    "Requested timestamp is in the past",
	ErrQueueFull:   "Could not enqueue data into full queue",
	ErrFPGAOp:      "An FPGA operation reported a failure",
	ErrPermission:  "Insufficient permissions for the requested operation",
	ErrWouldBlock:  "The operation would block, but has been requested to be non-blocking",
	ErrNotInit:     "Insufficient initialization for the requested operation",
}

// Strerror returns the human-readable description of a status code.
func Strerror(c Code) string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return "Unknown error code"
}

func (c Code) Error() string { return Strerror(c) }

// Status converts a raw status into an error; zero yields nil.
func Status(c Code) error {
	if c == 0 {
		return nil
	}
	return c
}

// CodeOf extracts the status code carried by err. Errors that carry no code
// report ErrUnexpected; nil reports 0.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrUnexpected
}

// OpError is a failed control-path transaction.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("bladerf: could not %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Wrap annotates a facade failure with the operation that produced it. A nil
// err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
