package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"tilecellar/pkg/models"
	"tilecellar/pkg/tilemath"
)

// downloadRouting fetches the routing graph tiles covering the area's
// bounding box at all hierarchy levels. Routing tiles are files on disk, not
// blobs, so they are fetched one at a time; the database only holds
// references. A tile another area already fetched is recorded for this area
// without touching the network.
func (e *Engine) downloadRouting(ctx context.Context, area *models.Area) (downloaded, failed int, err error) {
	tiles := tilemath.RoutingTilesForBounds(area.BoundingBox())
	total := len(tiles)

	stored, err := e.store.CountTiles(area.ID, models.KindRouting)
	if err != nil {
		return 0, 0, err
	}
	completed := stored

	e.logger.Info().
		Str("area_id", area.ID).
		Int("total", total).
		Int("stored", stored).
		Msg("Starting routing phase")

	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return downloaded, failed, err
		}
		if err := e.checkPaused(area.ID); err != nil {
			return downloaded, failed, err
		}

		have, err := e.store.HasRoutingTile(area.ID, tile.HierarchyLevel, tile.TileIndex)
		if err != nil {
			return downloaded, failed, err
		}
		if have {
			e.report(models.ProgressUpdate{
				AreaID:   area.ID,
				AreaName: area.Name,
				Phase:    models.PhaseRouting,
				Progress: completed,
				Total:    total,
			})
			continue
		}

		relPath := tilemath.RoutingTilePath(tile.HierarchyLevel, tile.TileIndex)
		destPath := filepath.Join(e.routingDir, relPath)

		// Another area may have fetched the same grid tile already; reuse
		// its file and just record the reference.
		existingPath, err := e.store.RoutingTilePath(tile.HierarchyLevel, tile.TileIndex)
		if err != nil {
			return downloaded, failed, err
		}
		if existingPath != "" {
			destPath = existingPath
		} else if ok := e.fetchRoutingTile(ctx, area, tile, destPath); !ok {
			if ctx.Err() != nil {
				return downloaded, failed, ctx.Err()
			}
			failed++
			continue
		}

		if err := e.store.InsertRoutingTileRef(models.RoutingTileRef{
			HierarchyLevel: tile.HierarchyLevel,
			TileIndex:      tile.TileIndex,
			FilePath:       destPath,
			AreaID:         area.ID,
		}); err != nil {
			return downloaded, failed, err
		}

		downloaded++
		completed++
		e.report(models.ProgressUpdate{
			AreaID:   area.ID,
			AreaName: area.Name,
			Phase:    models.PhaseRouting,
			Progress: completed,
			Total:    total,
		})
	}

	return downloaded, failed, nil
}

// fetchRoutingTile downloads one routing tile with the same persistent
// retry accounting the basemap phase uses. Returns false when the tile
// exhausted its attempts.
func (e *Engine) fetchRoutingTile(ctx context.Context, area *models.Area, tile tilemath.RoutingTile, destPath string) bool {
	key := routingTileKey(area.ID, tile.HierarchyLevel, tile.TileIndex)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		e.logger.Error().Err(err).Str("path", destPath).Msg("Failed to create routing tile directory")
		return false
	}

	for {
		count, err := e.store.RetryCount(key)
		if err != nil {
			e.logger.Error().Err(err).Str("tile_key", key).Msg("Failed to read retry count")
			return false
		}
		if count >= maxRetryCount {
			return false
		}

		written, err := e.routingTiles.FetchRoutingTile(ctx, tile.HierarchyLevel, tile.TileIndex, destPath)
		if err == nil {
			e.logger.Debug().
				Str("tile_key", key).
				Int64("bytes", written).
				Msg("Routing tile fetched")
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		attempts, recordErr := e.store.RecordAttempt(key, area.ID)
		if recordErr != nil {
			e.logger.Error().Err(recordErr).Str("tile_key", key).Msg("Failed to record attempt")
			return false
		}
		e.logger.Warn().
			Err(fmt.Errorf("routing tile %d/%d: %w", tile.HierarchyLevel, tile.TileIndex, err)).
			Str("tile_key", key).
			Int("attempts", attempts).
			Msg("Routing tile fetch failed")
		if attempts >= maxRetryCount {
			e.logger.Warn().Str("tile_key", key).Msg("Routing tile exhausted retry attempts, skipping")
			return false
		}
	}
}
