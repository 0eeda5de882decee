package video

import "errors"

// Errors returned by the acquisition pipeline. Check them with errors.Is.
var (
	// ErrConfiguration is returned before a session starts when a required
	// parameter is missing or invalid.
	ErrConfiguration = errors.New("imager: invalid configuration")

	// ErrTransientFrame marks a single frame that could not be acquired or
	// converted. It is logged and counted, never returned from a loop.
	ErrTransientFrame = errors.New("imager: frame skipped")

	// ErrResource is returned when the source or the container cannot be
	// opened, written or closed.
	ErrResource = errors.New("imager: resource failure")

	// ErrProtocolViolation indicates a programming fault in the use of the
	// queue or the loops.
	ErrProtocolViolation = errors.New("imager: protocol violation")

	// ErrAlreadyStarted is returned when a loop is run twice.
	ErrAlreadyStarted = errors.New("imager: already started")

	// ErrConsumerGone is returned to the producer once the writer stopped
	// reading from the queue.
	ErrConsumerGone = errors.New("imager: consumer gone")
)
