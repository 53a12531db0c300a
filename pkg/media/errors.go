package media

import "errors"

// Error taxonomy. Format packages wrap these so callers can classify
// failures with errors.Is regardless of which parser produced them.
var (
	// ErrEndOfStream is the normal terminal condition of a track read,
	// not a failure.
	ErrEndOfStream = errors.New("end of stream")

	// ErrMalformed marks structurally invalid input. Always fatal for the
	// current parse, never retried.
	ErrMalformed = errors.New("malformed input")

	// ErrUnsupported marks valid but unimplemented input variants. The
	// affected track or container is dropped, siblings stay usable.
	ErrUnsupported = errors.New("unsupported")

	// ErrShortRead means the underlying source returned fewer bytes than
	// requested. Never silently zero-filled.
	ErrShortRead = errors.New("short read")

	// ErrSizeUnknown is returned by Size on unsized sources.
	ErrSizeUnknown = errors.New("size unknown")

	ErrNotStarted     = errors.New("track not started")
	ErrAlreadyStarted = errors.New("track already started")
)
