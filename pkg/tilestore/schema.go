package tilestore

// Schema contains the SQL statements to create the offline tile database schema.
const Schema = `
-- Basemap tiles, MBTiles-style: rows are stored in the TMS convention.
CREATE TABLE IF NOT EXISTS tiles (
    zoom_level  INTEGER NOT NULL,
    tile_column INTEGER NOT NULL,
    tile_row    INTEGER NOT NULL,
    tile_data   BLOB NOT NULL,
    area_id     TEXT NOT NULL
);

-- Routing tiles live as files on disk; only the reference row is stored.
CREATE TABLE IF NOT EXISTS routing_tiles (
    hierarchy_level INTEGER NOT NULL,
    tile_index      INTEGER NOT NULL,
    file_path       TEXT NOT NULL,
    area_id         TEXT NOT NULL
);

-- Per-area metadata and download lifecycle state.
CREATE TABLE IF NOT EXISTS areas (
    area_id       TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    north         REAL NOT NULL,
    south         REAL NOT NULL,
    east          REAL NOT NULL,
    west          REAL NOT NULL,
    min_zoom      INTEGER NOT NULL,
    max_zoom      INTEGER NOT NULL,
    download_date INTEGER NOT NULL,
    file_size     INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    paused        INTEGER NOT NULL DEFAULT 0
);

-- Placeholder records for failed downloads, keyed per tile, carrying the
-- retry counter.
CREATE TABLE IF NOT EXISTS tile_attempts (
    tile_key     TEXT PRIMARY KEY,
    area_id      TEXT NOT NULL,
    retry_count  INTEGER NOT NULL DEFAULT 0,
    last_attempt INTEGER NOT NULL
);

-- MBTiles-style metadata rows.
CREATE TABLE IF NOT EXISTS metadata (
    name  TEXT,
    value TEXT
);

-- Uniqueness: at most one row per coordinate and area; re-insertion is an upsert.
CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row, area_id);
CREATE UNIQUE INDEX IF NOT EXISTS routing_tile_index ON routing_tiles (hierarchy_level, tile_index, area_id);
CREATE INDEX IF NOT EXISTS idx_tiles_area ON tiles (area_id);
CREATE INDEX IF NOT EXISTS idx_routing_tiles_area ON routing_tiles (area_id);
CREATE INDEX IF NOT EXISTS idx_attempts_area ON tile_attempts (area_id);
`

// metadataRows are written once when a new database is created.
var metadataRows = [][2]string{
	{"name", "Offline Map Areas"},
	{"type", "baselayer"},
	{"version", "1.0"},
	{"format", "pbf"},
	{"scheme", "tms"},
}
