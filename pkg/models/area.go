package models

import "time"

// DownloadStatus is the lifecycle state of an offline area.
type DownloadStatus string

const (
	StatusPending            DownloadStatus = "PENDING"
	StatusDownloadingBasemap DownloadStatus = "DOWNLOADING_BASEMAP"
	StatusDownloadingRouting DownloadStatus = "DOWNLOADING_ROUTING"
	StatusProcessing         DownloadStatus = "PROCESSING"
	StatusCompleted          DownloadStatus = "COMPLETED"
	StatusFailed             DownloadStatus = "FAILED"
)

// Terminal reports whether the status is an end state.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BoundingBox is a geographic rectangle in degrees.
type BoundingBox struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Area represents one user-requested offline region and its download lifecycle.
type Area struct {
	ID           string
	Name         string
	North        float64
	South        float64
	East         float64
	West         float64
	MinZoom      int
	MaxZoom      int
	DownloadDate time.Time
	FileSize     int64
	Status       DownloadStatus
	Paused       bool
}

// BoundingBox returns the area's bounds.
func (a *Area) BoundingBox() BoundingBox {
	return BoundingBox{North: a.North, South: a.South, East: a.East, West: a.West}
}

// Incomplete reports whether the area still has download work pending.
func (a *Area) Incomplete() bool {
	return !a.Status.Terminal()
}

// ShouldAutoResume reports whether the area qualifies for automatic resumption.
// Paused areas keep their state but are excluded until unpaused.
func (a *Area) ShouldAutoResume() bool {
	return a.Incomplete() && !a.Paused
}
