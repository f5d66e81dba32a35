package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Failures a source backend reports at the contract boundary. Absent
// posts and channels are nil results, never errors; everything below
// carries enough detail for the caller to pick a user-facing message
// or decide to retry.
var (
	ErrChannelPrivate  = errors.New("channel is private")
	ErrChannelInvalid  = errors.New("invalid channel")
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotChannel      = errors.New("entity is not a channel")
	ErrBadChannelName  = errors.New("channel username required")
)

// RateLimitedError reports an explicit backoff signal from the source.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, wait %d seconds", int(e.Wait.Seconds()))
}

// TransportError wraps timeouts, connection failures, unexpected HTTP
// statuses and selector breakage so they degrade uniformly.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FailureMessage maps a contract error to the message shown to the
// user, without leaking transport internals.
func FailureMessage(err error) string {
	var rl *RateLimitedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChannelPrivate):
		return "Channel is private"
	case errors.Is(err, ErrChannelInvalid):
		return "Invalid channel"
	case errors.Is(err, ErrChannelNotFound):
		return "Channel not found"
	case errors.Is(err, ErrNotChannel):
		return "Entity is not a channel"
	case errors.Is(err, ErrBadChannelName):
		return "channel_username required"
	case errors.As(err, &rl):
		return fmt.Sprintf("Rate limited. Wait %d seconds", int(rl.Wait.Seconds()))
	default:
		return "Channel is temporarily unavailable"
	}
}
