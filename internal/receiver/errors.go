package receiver

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolTimeout is returned when the receiver does not reply within the reply timeout
	ErrProtocolTimeout = errors.New("protocol timeout")

	// ErrUnsupportedCapability is returned when the backend rejects a gain stage command
	ErrUnsupportedCapability = errors.New("unsupported capability")

	// ErrInvalidConfiguration is returned before any command is sent when a request is invalid
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrClosed is returned when a command is issued on a closed connection
	ErrClosed = errors.New("connection closed")
)

// UnexpectedResponseError is returned when a reply does not match the
// required acknowledgement.
type UnexpectedResponseError struct {
	Command  string
	Expected string
	Got      string
}

func (e *UnexpectedResponseError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("unexpected response to %q: %q", e.Command, e.Got)
	}
	return fmt.Sprintf("unexpected response to %q: expected %q, got %q", e.Command, e.Expected, e.Got)
}

func invalidConfiguration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// errorKind classifies err for metrics labels.
func errorKind(err error) string {
	var unexpected *UnexpectedResponseError

	switch {
	case errors.Is(err, ErrProtocolTimeout):
		return "timeout"
	case errors.Is(err, ErrUnsupportedCapability):
		return "unsupported"
	case errors.As(err, &unexpected):
		return "unexpected_response"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "io"
	}
}
