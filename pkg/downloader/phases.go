package downloader

import (
	"tilecellar/pkg/models"
	"tilecellar/pkg/tilemath"
	"tilecellar/pkg/tilestore"
)

// maxBasemapZoom caps the basemap download regardless of the area's
// requested max zoom. Routing tiles use the fixed global grid and are not
// affected.
const maxBasemapZoom = 14

// basemapZoomCap returns the effective upper zoom for an area's basemap phase.
func basemapZoomCap(area *models.Area) int {
	return min(area.MaxZoom, maxBasemapZoom)
}

// PhaseStatus describes how far each download phase has progressed,
// recomputed from stored tile counts. Status rows alone cannot describe a
// crash mid-phase, so resume decisions always start from these counts.
type PhaseStatus struct {
	BasemapCount int
	BasemapTotal int
	RoutingCount int
	RoutingTotal int
}

// BasemapComplete reports whether every expected basemap tile is stored.
func (p PhaseStatus) BasemapComplete() bool {
	return p.BasemapCount >= p.BasemapTotal
}

// RoutingComplete reports whether every expected routing tile is stored.
func (p PhaseStatus) RoutingComplete() bool {
	return p.RoutingCount >= p.RoutingTotal
}

// phaseStatus is the single source of truth for resume determination:
// stored counts compared against the analytically expected totals for the
// area's bounding box.
func phaseStatus(area *models.Area, store *tilestore.Store) (PhaseStatus, error) {
	bounds := area.BoundingBox()

	basemapCount, err := store.CountTiles(area.ID, models.KindBasemap)
	if err != nil {
		return PhaseStatus{}, err
	}
	routingCount, err := store.CountTiles(area.ID, models.KindRouting)
	if err != nil {
		return PhaseStatus{}, err
	}

	return PhaseStatus{
		BasemapCount: basemapCount,
		BasemapTotal: tilemath.CountTiles(bounds, area.MinZoom, basemapZoomCap(area)),
		RoutingCount: routingCount,
		RoutingTotal: len(tilemath.RoutingTilesForBounds(bounds)),
	}, nil
}

// resumePhase maps the area's last persisted status plus the recomputed
// phase status onto the phase a (re)started download should enter.
func resumePhase(area *models.Area, ps PhaseStatus) models.DownloadStatus {
	switch area.Status {
	case models.StatusPending:
		return models.StatusDownloadingBasemap
	case models.StatusDownloadingBasemap:
		if ps.BasemapComplete() {
			return models.StatusDownloadingRouting
		}
		return models.StatusDownloadingBasemap
	case models.StatusDownloadingRouting:
		if ps.RoutingComplete() {
			return models.StatusProcessing
		}
		return models.StatusDownloadingRouting
	case models.StatusProcessing:
		return models.StatusProcessing
	case models.StatusCompleted:
		return models.StatusCompleted
	case models.StatusFailed:
		return models.StatusDownloadingBasemap
	default:
		return models.StatusDownloadingBasemap
	}
}
