package downloader

import "errors"

var (
	// ErrNetworkFailure is returned when a tile fetch fails or times out.
	// Individual tile failures are retried up to the cap before an area is
	// affected.
	ErrNetworkFailure = errors.New("network failure")

	// errPaused stops a download cleanly when the area's pause flag is set.
	// The area keeps its current status and resumes later.
	errPaused = errors.New("area paused")
)
