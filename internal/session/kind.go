// SPDX-License-Identifier: MIT

package session

import "fmt"

// Kind classifies session-level failures for the control surface.
type Kind string

const (
	// KindTransportTransient is a recoverable send failure; logged, next
	// frame retries.
	KindTransportTransient Kind = "transport_transient"
	// KindTransportFatal means the frame source died.
	KindTransportFatal Kind = "transport_fatal"
	// KindProtocolFormat is raised after too many consecutive unparseable
	// frames.
	KindProtocolFormat Kind = "protocol_format"
	// KindUpstreamRejected covers upstream bridge activation failures; the
	// session downgrades to local-only.
	KindUpstreamRejected Kind = "upstream_rejected"
	// KindAuthRejected is a DTLS PSK rejection.
	KindAuthRejected Kind = "auth_rejected"
	// KindResourceExhausted means the DTLS port could not be acquired.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindCancelled is a user-initiated teardown.
	KindCancelled Kind = "cancelled"
)

// Error pairs a failure kind with its cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errKind(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
