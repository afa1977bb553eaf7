// Package errs gives the agent one typed error for the kinds the control
// session needs to report back to the backend. The runtime, storage,
// file interface, firewall, network and backup packages tag their failures
// with New and Wrap; the control session reads the kind back with KindOf
// to label its outcome metrics, and sends the error's text in the outbound
// reason/error fields. No separate error-code field goes on the wire.
package errs

import "fmt"

// Kind classifies an agent error for the backend. The set mirrors the
// categories the installer, runtime driver, and file interface can fail
// with; handlers that don't care about the distinction just wrap with
// fmt.Errorf and let Kind default to KindInternal at the reporting edge.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindNetwork          Kind = "network"
	KindContainer        Kind = "container"
	KindFilesystem       Kind = "filesystem"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindInvalidRequest   Kind = "invalid_request"
	KindInstallation     Kind = "installation"
	KindFirewall         Kind = "firewall"
	KindIO               Kind = "io"
	KindJSON             Kind = "json"
	KindInternal         Kind = "internal"
)

// Error is a Kind-tagged error. Construct one with New or Wrap at the point
// a failure first needs to be distinguishable by kind; everywhere upstream
// of that it's an ordinary error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a Kind-tagged error with no underlying cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with kind, preserving it as the cause so errors.Is/As and
// %w-style unwrapping still work.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and KindInternal otherwise. Used when building an error response
// for the backend from an error that may or may not have been classified.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindInternal
	}
	return e.Kind
}
