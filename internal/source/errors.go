package source

import (
	"errors"
	"fmt"
)

// WorkDone is returned by Work in place of a sample count once the session
// has stopped producing. Hosts treat it as end of stream.
const WorkDone = -1

var (
	ErrNotStarted      = errors.New("source: not started")
	ErrStopped         = errors.New("source: session stopped")
	ErrInvalidCount    = errors.New("source: negative output count")
	ErrNoOutputs       = errors.New("source: no output buffers")
	ErrShortBuffer     = errors.New("source: output buffer smaller than requested count")
	ErrBufferExhausted = errors.New("source: conversion buffer limit exceeded")
)

// FatalError ends the session; the host must tear the node down. Streaming
// hiccups never surface as errors, they are counted against the failure
// ceiling instead.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends the session.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

func fatal(err error) error { return &FatalError{Err: err} }
