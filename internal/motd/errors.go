package motd

import "errors"

var (
	// ErrContentTooLarge is returned when a content combination cannot be
	// framed within the era's length encoding.
	ErrContentTooLarge = errors.New("content too large for protocol framing")

	// ErrFieldOverflow is returned when a value does not fit its fixed-width
	// field, or the field lies outside the buffer.
	ErrFieldOverflow = errors.New("value does not fit field")

	// ErrFaviconLoad is returned when a favicon cannot be read or decoded.
	ErrFaviconLoad = errors.New("failed to load favicon")

	// ErrUnresolvedVersion is returned when a protocol has no era mapping.
	ErrUnresolvedVersion = errors.New("protocol version has no era")

	// ErrHolderDisposed is returned when a disposed holder is read.
	ErrHolderDisposed = errors.New("holder disposed")

	// ErrInvalidVersionRange is returned for malformed version range keys.
	ErrInvalidVersionRange = errors.New("invalid version range")
)
