package installer

import (
	"errors"
	"fmt"
)

// Kind classifies why the pipeline stopped.
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindConfirmation Kind = "confirmation"
	KindTool         Kind = "tool"
	KindDetection    Kind = "detection"
)

// Error is the fatal error of a run. Stage is filled in by the driver.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: stage %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func precondition(err error) error { return &Error{Kind: KindPrecondition, Err: err} }
func confirmation(err error) error { return &Error{Kind: KindConfirmation, Err: err} }
func detection(err error) error    { return &Error{Kind: KindDetection, Err: err} }

// classify attaches stage to err, defaulting to a tool failure.
func classify(stage string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		out := *e
		out.Stage = stage
		return &out
	}
	return &Error{Kind: KindTool, Stage: stage, Err: err}
}

var (
	ErrNotRoot      = errors.New("must run as root")
	ErrMissingTools = errors.New("required tools not found")
	ErrNotBlock     = errors.New("not a block device")
	ErrDiskInUse    = errors.New("disk has mounted filesystems")
	ErrPoolImported = errors.New("a pool with this name is already imported")
	ErrDeclined     = errors.New("installation cancelled by user")
	ErrMistyped     = errors.New("typed device path does not match")
	ErrNoUUID       = errors.New("EFI partition has no filesystem UUID")
	ErrNotConfirmed = errors.New("confirmation required; rerun with --yes to skip it")
)
