package models

// DownloadPhase names the stage a progress update refers to.
type DownloadPhase string

const (
	PhaseBasemap    DownloadPhase = "basemap"
	PhaseRouting    DownloadPhase = "routing"
	PhaseProcessing DownloadPhase = "processing"
)

// ProgressUpdate is pushed by the acquisition engine on every meaningful
// change. Completion and error updates are always delivered; consumers may
// coalesce ordinary increments but the engine never suppresses any.
type ProgressUpdate struct {
	AreaID    string
	AreaName  string
	Phase     DownloadPhase
	Progress  int
	Total     int
	Completed bool
	HasError  bool
}
