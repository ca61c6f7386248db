// Package apperr defines the error taxonomy shared by the engine, manager,
// watcher, and RPC dispatcher, plus the RPC-boundary conversion rules.
package apperr

import (
	"errors"
	"fmt"
)

// Path errors, reported verbatim with no retry.
var (
	ErrFileNotFound  = errors.New("FileNotFound")
	ErrNotADirectory = errors.New("NotADirectory")
	ErrIsADirectory  = errors.New("IsADirectory")
)

// Validation errors, reported verbatim; the caller is expected to correct input.
var (
	ErrInvalidArgument  = errors.New("InvalidArgument")
	ErrTorrentRequired  = errors.New("TorrentRequired")
	ErrReadSizeInvalid  = errors.New("ReadSizeInvalid")
	ErrEngineShutdown   = errors.New("EngineShutdown")
	ErrManagerShutdown  = errors.New("ManagerShutdown")
	ErrMetadataTooLarge = errors.New("MetadataTooLarge")
)

// TimeoutError reports that a piece-wait exceeded the caller's deadline.
// No partial data is ever returned alongside it.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	if e.Op == "" {
		return "Timeout"
	}
	return "Timeout:" + e.Op
}

// NewTimeout builds a TimeoutError scoped to op (e.g. the path being read).
func NewTimeout(op string) error {
	return &TimeoutError{Op: op}
}

// AmbiguousError reports that a torrent name matched more than one engine.
type AmbiguousError struct {
	Name string
}

func (e *AmbiguousError) Error() string {
	return "TorrentNameAmbiguous:" + e.Name
}

// NewAmbiguous builds an AmbiguousError for the given display name.
func NewAmbiguous(name string) error {
	return &AmbiguousError{Name: name}
}

// NotFoundError reports that a torrent key (id or name) matched no engine.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "TorrentNotFound:" + e.Key
}

// NewNotFound builds a NotFoundError for the given lookup key.
func NewNotFound(key string) error {
	return &NotFoundError{Key: key}
}

// UnknownCommandError reports an RPC command the dispatcher does not recognise.
type UnknownCommandError struct {
	Cmd string
}

func (e *UnknownCommandError) Error() string {
	return "UnknownCommand:" + e.Cmd
}

// NewUnknownCommand builds an UnknownCommandError for the given command name.
func NewUnknownCommand(cmd string) error {
	return &UnknownCommandError{Cmd: cmd}
}

// Token converts err into the stable string token the RPC layer puts in the
// "error" field (spec.md §4.5/§7): known sentinels and typed errors map to
// their fixed token; anything else falls back to "<Kind>: <message>".
func Token(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrFileNotFound):
		return "FileNotFound"
	case errors.Is(err, ErrNotADirectory):
		return "NotADirectory"
	case errors.Is(err, ErrIsADirectory):
		return "IsADirectory"
	case errors.Is(err, ErrTorrentRequired):
		return "TorrentRequired"
	case errors.Is(err, ErrReadSizeInvalid):
		return "ReadSizeInvalid"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrMetadataTooLarge):
		return "MetadataTooLarge"
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Error()
	}
	var ae *AmbiguousError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		return nfe.Error()
	}
	var uce *UnknownCommandError
	if errors.As(err, &uce) {
		return uce.Error()
	}
	return fmt.Sprintf("%T: %s", unwrapRoot(err), err.Error())
}

// unwrapRoot returns the innermost wrapped error so %T reports a concrete
// type instead of a *fmt.wrapError / *errors.errorString wrapper shell.
func unwrapRoot(err error) error {
	for {
		u := errors.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
}
