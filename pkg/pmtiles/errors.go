package pmtiles

import "errors"

var (
	// ErrCorruptArchive is returned when the archive magic or structure is invalid.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrUnsupportedFormat is returned for any archive version other than 3.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrInvalidCoordinate is returned when a tile coordinate is outside its zoom level.
	ErrInvalidCoordinate = errors.New("invalid tile coordinate")

	// ErrDirectoryTooDeep is returned when leaf directory recursion exceeds the cap.
	ErrDirectoryTooDeep = errors.New("directory nesting too deep")

	// ErrRangeRequest is returned when a byte-range read fails.
	ErrRangeRequest = errors.New("range request failed")
)
