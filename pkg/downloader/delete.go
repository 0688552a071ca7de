package downloader

import "os"

// DeleteArea removes an area, its exclusively-owned tiles, and any routing
// tile files no remaining area references. Tiles shared with another area
// stay untouched. File removal failures are logged, never fatal: the
// database rows are already gone and a leftover file is harmless.
func (e *Engine) DeleteArea(areaID string) error {
	orphaned, err := e.store.DeleteArea(areaID)
	if err != nil {
		return err
	}

	for _, path := range orphaned {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove orphaned routing tile")
		}
	}

	e.logger.Info().
		Str("area_id", areaID).
		Int("orphaned_files", len(orphaned)).
		Msg("Deleted offline area")
	return nil
}
