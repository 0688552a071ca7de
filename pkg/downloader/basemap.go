package downloader

import (
	"context"
	"sync"

	"tilecellar/pkg/models"
	"tilecellar/pkg/tilemath"
	"tilecellar/pkg/tilestore"
)

type fetchResult struct {
	coord   models.TileCoord
	data    []byte
	skipped bool
	failed  bool
}

// downloadBasemap fetches every basemap tile the area's bounding box covers
// between MinZoom and the basemap zoom cap. Tiles already stored are skipped
// without a network request. Each batch is fetched concurrently and
// persisted in one transaction, so a crash loses at most one batch.
func (e *Engine) downloadBasemap(ctx context.Context, area *models.Area) (downloaded, failed int, err error) {
	bounds := area.BoundingBox()
	coords := tilemath.EnumerateTiles(bounds, area.MinZoom, basemapZoomCap(area))
	total := len(coords)

	stored, err := e.store.CountTiles(area.ID, models.KindBasemap)
	if err != nil {
		return 0, 0, err
	}
	completed := stored
	fileSize := area.FileSize

	e.logger.Info().
		Str("area_id", area.ID).
		Int("total", total).
		Int("stored", stored).
		Msg("Starting basemap phase")

	for start := 0; start < len(coords); start += basemapBatchSize {
		if err := ctx.Err(); err != nil {
			return downloaded, failed, err
		}
		if err := e.checkPaused(area.ID); err != nil {
			return downloaded, failed, err
		}

		batch := coords[start:min(start+basemapBatchSize, len(coords))]
		results, err := e.fetchBatch(ctx, area, batch)
		if err != nil {
			return downloaded, failed, err
		}

		blobs := make([]tilestore.TileBlob, 0, len(results))
		for _, r := range results {
			if r.data != nil {
				blobs = append(blobs, tilestore.TileBlob{Coord: r.coord, Data: r.data})
			}
		}
		if len(blobs) > 0 {
			if err := e.store.InsertTileBatch(blobs, area.ID); err != nil {
				return downloaded, failed, err
			}
		}

		for _, r := range results {
			switch {
			case r.skipped:
				// Already stored; progress reflects it but nothing was
				// downloaded this run.
			case r.failed:
				failed++
				continue
			default:
				downloaded++
				completed++
				fileSize += int64(len(r.data))
			}
			e.report(models.ProgressUpdate{
				AreaID:   area.ID,
				AreaName: area.Name,
				Phase:    models.PhaseBasemap,
				Progress: completed,
				Total:    total,
			})
		}

		if err := e.store.UpdateAreaFileSize(area.ID, fileSize); err != nil {
			return downloaded, failed, err
		}
		area.FileSize = fileSize
	}

	return downloaded, failed, nil
}

// fetchBatch resolves one batch: tiles already in the store are marked
// skipped, the rest are fetched concurrently. Persistence stays with the
// caller so the store sees one transaction per batch.
func (e *Engine) fetchBatch(ctx context.Context, area *models.Area, batch []models.TileCoord) ([]fetchResult, error) {
	results := make([]fetchResult, len(batch))

	var wg sync.WaitGroup
	for i, coord := range batch {
		results[i].coord = coord

		exists, err := e.store.HasTile(area.ID, coord)
		if err != nil {
			return nil, err
		}
		if exists {
			results[i].skipped = true
			continue
		}

		wg.Add(1)
		go func(i int, coord models.TileCoord) {
			defer wg.Done()
			data, failed := e.fetchWithRetry(ctx, area, coord)
			results[i].data = data
			results[i].failed = failed
		}(i, coord)
	}
	wg.Wait()

	return results, nil
}

// fetchWithRetry attempts one tile until it succeeds or its persisted
// attempt count reaches the cap. The count survives restarts, so a tile that
// exhausted its attempts in an earlier run is not retried again.
func (e *Engine) fetchWithRetry(ctx context.Context, area *models.Area, coord models.TileCoord) (data []byte, failed bool) {
	key := basemapTileKey(area.ID, coord)
	for {
		count, err := e.store.RetryCount(key)
		if err != nil {
			e.logger.Error().Err(err).Str("tile_key", key).Msg("Failed to read retry count")
			return nil, true
		}
		if count >= maxRetryCount {
			return nil, true
		}

		data, err := e.tiles.FetchTile(ctx, coord)
		if err == nil {
			return data, false
		}
		if ctx.Err() != nil {
			// Cancellation is not a tile failure.
			return nil, true
		}

		attempts, recordErr := e.store.RecordAttempt(key, area.ID)
		if recordErr != nil {
			e.logger.Error().Err(recordErr).Str("tile_key", key).Msg("Failed to record attempt")
			return nil, true
		}
		e.logger.Warn().
			Err(err).
			Str("tile_key", key).
			Int("attempts", attempts).
			Msg("Tile fetch failed")
		if attempts >= maxRetryCount {
			e.logger.Warn().Str("tile_key", key).Msg("Tile exhausted retry attempts, skipping")
			return nil, true
		}
	}
}
