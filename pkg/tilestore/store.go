package tilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tilecellar/pkg/models"
	"tilecellar/pkg/tilemath"
)

// TileBlob pairs an XYZ tile coordinate with its payload for batch insertion.
type TileBlob struct {
	Coord models.TileCoord
	Data  []byte
}

// Store manages offline tiles, routing-tile references and area metadata in
// SQLite. Tile rows are kept in the TMS convention; every method accepts and
// returns XYZ coordinates and performs the conversion itself, so callers
// never convert.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (or creates) the offline tile database at the given path.
func NewStore(dbPath string) (*Store, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStorageFailure, err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrency
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrStorageFailure, err)
	}

	store := &Store{db: database}
	if err := store.initialize(); err != nil {
		_ = database.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrStorageFailure, err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata`).Scan(&count); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if count == 0 {
		for _, row := range metadataRows {
			if _, err := s.db.ExecContext(ctx, `INSERT INTO metadata (name, value) VALUES (?, ?)`, row[0], row[1]); err != nil {
				return fmt.Errorf("%w: %w", ErrStorageFailure, err)
			}
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertTile inserts or replaces one basemap tile for an area.
func (s *Store) UpsertTile(coord models.TileCoord, data []byte, areaID string) error {
	return s.InsertTileBatch([]TileBlob{{Coord: coord, Data: data}}, areaID)
}

// InsertTileBatch persists a batch of downloaded tiles in a single
// transaction: either every tile in the batch becomes visible or none does.
func (s *Store) InsertTileBatch(batch []TileBlob, areaID string) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data, area_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(zoom_level, tile_column, tile_row, area_id) DO UPDATE SET
		 tile_data = excluded.tile_data`,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, blob := range batch {
		tmsRow := tilemath.TMSRow(blob.Coord.Zoom, blob.Coord.Y)
		if _, err := stmt.ExecContext(ctx, blob.Coord.Zoom, blob.Coord.X, tmsRow, blob.Data, areaID); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// HasTile reports whether an area already owns the given basemap tile.
func (s *Store) HasTile(areaID string, coord models.TileCoord) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmsRow := tilemath.TMSRow(coord.Zoom, coord.Y)
	var exists bool
	err := s.db.QueryRowContext(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ? AND area_id = ?)`,
		coord.Zoom, coord.X, tmsRow, areaID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return exists, nil
}

// GetTile returns the stored bytes for an XYZ coordinate from any area, or
// nil when no area owns the tile.
func (s *Store) GetTile(zoom, x, y int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmsRow := tilemath.TMSRow(zoom, y)
	var data []byte
	err := s.db.QueryRowContext(context.Background(),
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ? LIMIT 1`,
		zoom, x, tmsRow,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return data, nil
}

// CountTiles returns the number of stored tiles of a kind owned by an area.
func (s *Store) CountTiles(areaID string, kind models.TileKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT COUNT(*) FROM tiles WHERE area_id = ?`
	if kind == models.KindRouting {
		query = `SELECT COUNT(*) FROM routing_tiles WHERE area_id = ?`
	}

	var count int
	if err := s.db.QueryRowContext(context.Background(), query, areaID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return count, nil
}

// InsertRoutingTileRef records a downloaded routing tile file for an area.
func (s *Store) InsertRoutingTileRef(ref models.RoutingTileRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO routing_tiles (hierarchy_level, tile_index, file_path, area_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(hierarchy_level, tile_index, area_id) DO UPDATE SET
		 file_path = excluded.file_path`,
		ref.HierarchyLevel, ref.TileIndex, ref.FilePath, ref.AreaID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// HasRoutingTile reports whether an area already holds a reference for the
// routing tile.
func (s *Store) HasRoutingTile(areaID string, hierarchyLevel, tileIndex int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	err := s.db.QueryRowContext(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM routing_tiles WHERE hierarchy_level = ? AND tile_index = ? AND area_id = ?)`,
		hierarchyLevel, tileIndex, areaID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return exists, nil
}

// RoutingTilePath returns the stored file path for a routing tile owned by
// any area, or empty string when none exists.
func (s *Store) RoutingTilePath(hierarchyLevel, tileIndex int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var path string
	err := s.db.QueryRowContext(context.Background(),
		`SELECT file_path FROM routing_tiles WHERE hierarchy_level = ? AND tile_index = ? LIMIT 1`,
		hierarchyLevel, tileIndex,
	).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return path, nil
}

// RecordAttempt increments and returns the retry counter for a tile key,
// creating the placeholder record on first failure.
func (s *Store) RecordAttempt(tileKey, areaID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tile_attempts (tile_key, area_id, retry_count, last_attempt)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(tile_key) DO UPDATE SET
		 retry_count = retry_count + 1,
		 last_attempt = excluded.last_attempt`,
		tileKey, areaID, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM tile_attempts WHERE tile_key = ?`, tileKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return count, nil
}

// RetryCount returns the recorded retry counter for a tile key, zero when no
// attempt record exists.
func (s *Store) RetryCount(tileKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT retry_count FROM tile_attempts WHERE tile_key = ?`, tileKey,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return count, nil
}

// ClearAttempts removes all attempt records for an area.
func (s *Store) ClearAttempts(areaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(context.Background(), `DELETE FROM tile_attempts WHERE area_id = ?`, areaID); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// InsertArea creates the metadata row for a new area.
func (s *Store) InsertArea(area *models.Area) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO areas (area_id, name, north, south, east, west, min_zoom, max_zoom, download_date, file_size, status, paused)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		area.ID, area.Name, area.North, area.South, area.East, area.West,
		area.MinZoom, area.MaxZoom, area.DownloadDate.UnixMilli(), area.FileSize,
		string(area.Status), boolToInt(area.Paused),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// GetArea retrieves an area by ID.
func (s *Store) GetArea(areaID string) (*models.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getAreaLocked(areaID)
}

func (s *Store) getAreaLocked(areaID string) (*models.Area, error) {
	area := &models.Area{}
	var (
		downloadDate int64
		status       string
		paused       int
	)
	err := s.db.QueryRowContext(context.Background(),
		`SELECT area_id, name, north, south, east, west, min_zoom, max_zoom, download_date, file_size, status, paused
		 FROM areas WHERE area_id = ?`,
		areaID,
	).Scan(&area.ID, &area.Name, &area.North, &area.South, &area.East, &area.West,
		&area.MinZoom, &area.MaxZoom, &downloadDate, &area.FileSize, &status, &paused)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAreaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	area.DownloadDate = time.UnixMilli(downloadDate)
	area.Status = models.DownloadStatus(status)
	area.Paused = paused != 0
	return area, nil
}

// ListAreas returns all area metadata rows, newest first.
func (s *Store) ListAreas() ([]models.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT area_id, name, north, south, east, west, min_zoom, max_zoom, download_date, file_size, status, paused
		 FROM areas ORDER BY download_date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer func() { _ = rows.Close() }()

	var areas []models.Area
	for rows.Next() {
		var (
			area         models.Area
			downloadDate int64
			status       string
			paused       int
		)
		err := rows.Scan(&area.ID, &area.Name, &area.North, &area.South, &area.East, &area.West,
			&area.MinZoom, &area.MaxZoom, &downloadDate, &area.FileSize, &status, &paused)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		area.DownloadDate = time.UnixMilli(downloadDate)
		area.Status = models.DownloadStatus(status)
		area.Paused = paused != 0
		areas = append(areas, area)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return areas, nil
}

// UpdateAreaStatus sets the lifecycle status of an area.
func (s *Store) UpdateAreaStatus(areaID string, status models.DownloadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(context.Background(),
		`UPDATE areas SET status = ? WHERE area_id = ?`, string(status), areaID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return s.requireRow(result)
}

// UpdateAreaFileSize records the cumulative downloaded size for an area.
func (s *Store) UpdateAreaFileSize(areaID string, fileSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(context.Background(),
		`UPDATE areas SET file_size = ? WHERE area_id = ?`, fileSize, areaID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return s.requireRow(result)
}

// SetAreaPaused flips the pause flag. A paused area keeps its state and is
// only excluded from automatic resumption.
func (s *Store) SetAreaPaused(areaID string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(context.Background(),
		`UPDATE areas SET paused = ? WHERE area_id = ?`, boolToInt(paused), areaID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return s.requireRow(result)
}

func (s *Store) requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if affected == 0 {
		return ErrAreaNotFound
	}
	return nil
}

// DeleteArea removes an area's metadata row and every row it owns, in one
// transaction. Each area holds its own copy of a shared tile, so deleting
// this area's rows cannot take a tile away from another area. The returned
// paths are the routing tile files whose last owning reference was removed;
// the caller is responsible for unlinking them.
func (s *Store) DeleteArea(areaID string) (orphanedFiles []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	// A routing file becomes an orphan when no other area references the
	// same grid cell. Collect those paths before the rows go.
	rows, err := tx.QueryContext(ctx,
		`SELECT file_path FROM routing_tiles AS rt
		 WHERE rt.area_id = ?
		   AND NOT EXISTS(
		     SELECT 1 FROM routing_tiles AS other
		     WHERE other.hierarchy_level = rt.hierarchy_level
		       AND other.tile_index = rt.tile_index
		       AND other.area_id != rt.area_id)`,
		areaID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		orphanedFiles = append(orphanedFiles, path)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	_ = rows.Close()

	for _, query := range []string{
		`DELETE FROM tiles WHERE area_id = ?`,
		`DELETE FROM routing_tiles WHERE area_id = ?`,
		`DELETE FROM tile_attempts WHERE area_id = ?`,
		`DELETE FROM areas WHERE area_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, areaID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return orphanedFiles, nil
}

// TilesAtZoom streams the stored tiles of an area at one zoom level to fn in
// batches, converting rows back to the XYZ convention. Used by the
// processing phase to avoid holding every blob in memory.
func (s *Store) TilesAtZoom(areaID string, zoom, batchSize int, fn func(batch []TileBlob) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT tile_column, tile_row, tile_data FROM tiles WHERE area_id = ? AND zoom_level = ?`,
		areaID, zoom)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer func() { _ = rows.Close() }()

	batch := make([]TileBlob, 0, batchSize)
	for rows.Next() {
		var (
			col, row int
			data     []byte
		)
		if err := rows.Scan(&col, &row, &data); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		batch = append(batch, TileBlob{
			Coord: models.TileCoord{Zoom: zoom, X: col, Y: tilemath.TMSRow(zoom, row)},
			Data:  data,
		})
		if len(batch) >= batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// CountTilesAtZoom returns the number of stored tiles for an area at a zoom
// level.
func (s *Store) CountTilesAtZoom(areaID string, zoom int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM tiles WHERE area_id = ? AND zoom_level = ?`, areaID, zoom,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
