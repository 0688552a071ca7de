package downloader

import (
	"context"

	"tilecellar/pkg/models"
	"tilecellar/pkg/tilestore"
)

// processTiles feeds the stored tiles at the area's deepest basemap zoom to
// the configured processor in bounded batches. With no processor configured
// the phase is a no-op that still reports completion.
func (e *Engine) processTiles(ctx context.Context, area *models.Area) error {
	zoom := basemapZoomCap(area)

	total, err := e.store.CountTilesAtZoom(area.ID, zoom)
	if err != nil {
		return err
	}

	if e.processor == nil || total == 0 {
		e.report(models.ProgressUpdate{
			AreaID:   area.ID,
			AreaName: area.Name,
			Phase:    models.PhaseProcessing,
			Progress: total,
			Total:    total,
		})
		return nil
	}

	e.logger.Info().
		Str("area_id", area.ID).
		Int("zoom", zoom).
		Int("total", total).
		Msg("Starting processing phase")

	if err := e.processor.BeginTileProcessing(); err != nil {
		return err
	}

	processed := 0
	// No pause check here: the stream holds the store's read lock, and this
	// phase issues no network requests anyway. Cancellation still applies.
	err = e.store.TilesAtZoom(area.ID, zoom, processingBatchSize, func(batch []tilestore.TileBlob) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, blob := range batch {
			if err := e.processor.ProcessTile(blob.Data, blob.Coord.Zoom, blob.Coord.X, blob.Coord.Y); err != nil {
				// A single bad tile should not abort the whole area.
				e.logger.Warn().
					Err(err).
					Int("zoom", blob.Coord.Zoom).
					Int("x", blob.Coord.X).
					Int("y", blob.Coord.Y).
					Msg("Tile processing failed")
			}
			processed++
		}
		e.report(models.ProgressUpdate{
			AreaID:   area.ID,
			AreaName: area.Name,
			Phase:    models.PhaseProcessing,
			Progress: processed,
			Total:    total,
		})
		return nil
	})

	endErr := e.processor.EndTileProcessing()
	if err != nil {
		return err
	}
	return endErr
}
