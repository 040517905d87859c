package syncerr

import (
	"errors"
	"fmt"
)

var (
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	ErrAlreadyJoined        = errors.New("room already joined")
	ErrPeerNegotiation      = errors.New("peer negotiation failed")
	ErrSerialization        = errors.New("snapshot serialization failed")
	ErrValidation           = errors.New("snapshot validation warning")
	ErrChannelNotOpen       = errors.New("channel not open")
	ErrClosed               = errors.New("closed")
	ErrRelayRejected        = errors.New("relay rejected request")
)

// Error carries the failed operation and, when relevant, the remote peer.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func Wrap(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Negotiation wraps a pion failure so that errors.Is matches ErrPeerNegotiation
// while the underlying cause stays reachable.
func Negotiation(op, peer string, cause error) *Error {
	return &Error{Op: op, Peer: peer, Err: fmt.Errorf("%w: %w", ErrPeerNegotiation, cause)}
}
