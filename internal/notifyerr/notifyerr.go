// Package notifyerr defines the failure taxonomy shared by every
// transport and by the delivery loop.
//
// Every outcome of a delivery attempt collapses to one of three kinds from
// the queue's point of view: permanent (skip the wait, try the next
// provider), temporary (honor the wait, try the next provider), or fatal
// (stop the daemon). Configuration errors are reported distinctly from
// Permanent ones so transports can log them differently, but the queue
// treats them identically.
package notifyerr

import "errors"

// Kind classifies a failure returned by a transport.
type Kind int

const (
	// Temporary indicates the failure may clear up on its own; the queue
	// honors the retry policy's wait before the next attempt.
	Temporary Kind = iota
	// Permanent indicates retrying with the same provider is pointless;
	// the queue skips the wait and moves to the next step immediately.
	Permanent
	// Configuration indicates a driver misconfiguration discovered at
	// dispatch time. Treated the same as Permanent by the queue.
	Configuration
	// Fatal indicates the daemon itself cannot continue. Never returned
	// by a transport's Send, and not constructed anywhere in this tree:
	// queue errors come back as plain errors (a failed FindNext stops the
	// delivery loop), and the XMPP connection manager logs and retries
	// every connection failure, rejected authentication included.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Temporary:
		return "temporary"
	case Permanent:
		return "permanent"
	case Configuration:
		return "configuration"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Newf-style constructors, mirroring the shape of the three pynotifyd
// exception classes (PermanentError, TemporaryError, ConfigurationError).

func Temp(err error) error {
	return &Error{Kind: Temporary, Err: err}
}

func Perm(err error) error {
	return &Error{Kind: Permanent, Err: err}
}

func Config(err error) error {
	return &Error{Kind: Configuration, Err: err}
}

func FatalErr(err error) error {
	return &Error{Kind: Fatal, Err: err}
}

// Classify returns the Kind of err. Errors not produced by this package
// (including nil, which has no kind and should not be passed in by
// callers that already checked for success) are reported as Temporary,
// per spec: "unclassified exception ... treat as temporary".
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Temporary
}

// IsPermanent reports whether err should cause the queue to skip the
// retry policy's wait before trying the next provider. Both Permanent
// and Configuration errors qualify.
func IsPermanent(err error) bool {
	k := Classify(err)
	return k == Permanent || k == Configuration
}

// IsFatal reports whether err should terminate the daemon.
func IsFatal(err error) bool {
	return Classify(err) == Fatal
}
