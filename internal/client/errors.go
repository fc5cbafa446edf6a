package client

import (
	"errors"
	"fmt"
)

// ErrProtocol is wrapped by every violation of the wire protocol: unknown
// message types, malformed fields, list size mismatches and out-of-range
// permuter indices.
var ErrProtocol = errors.New("protocol error")

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// BaselineMismatchError means the server's build of a permuter scored
// differently from the local baseline, so its results cannot be trusted.
type BaselineMismatchError struct {
	Index  int
	Local  int
	Remote int
}

func (e *BaselineMismatchError) Error() string {
	return fmt.Sprintf("mismatching base score! (%d instead of %d)", e.Remote, e.Local)
}

// RejectedError is returned by StartClient when the server refuses the client.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "server rejected client: " + e.Message
}
