package tilemath

import (
	"math"

	"tilecellar/pkg/models"
)

// TileRange is the inclusive rectangle of tile coordinates covering a
// bounding box at one zoom level.
type TileRange struct {
	MinX int
	MaxX int
	MinY int
	MaxY int
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// lonToX projects a longitude onto the fractional tile X axis.
func lonToX(lon float64, zoom int) float64 {
	return (lon + 180.0) / 360.0 * float64(int64(1)<<zoom)
}

// latToY projects a latitude onto the fractional tile Y axis using the
// Web-Mercator projection (ln(tan+sec) identity). Y grows southward.
func latToY(lat float64, zoom int) float64 {
	latRad := lat * math.Pi / 180.0
	n := float64(int64(1) << zoom)
	return (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n
}

// LonToTileX converts a longitude to a tile X coordinate at the given zoom.
func LonToTileX(lon float64, zoom int) int {
	return int(lonToX(lon, zoom))
}

// LatToTileY converts a latitude to a tile Y coordinate at the given zoom.
func LatToTileY(lat float64, zoom int) int {
	return int(latToY(lat, zoom))
}

// RangeForBounds computes the tile rectangle covering a bounding box at one
// zoom level. The outer edges use ceil-minus-one so a boundary that falls
// exactly on a grid line does not drag in the neighboring row or column: a
// box spanning exactly one grid cell yields exactly one tile.
func RangeForBounds(b models.BoundingBox, zoom int) TileRange {
	last := 1<<zoom - 1

	minX := int(math.Floor(lonToX(b.West, zoom)))
	maxX := int(math.Ceil(lonToX(b.East, zoom))) - 1
	minY := int(math.Floor(latToY(b.North, zoom)))
	maxY := int(math.Ceil(latToY(b.South, zoom))) - 1

	minX = min(max(minX, 0), last)
	minY = min(max(minY, 0), last)
	maxX = min(max(maxX, minX), last)
	maxY = min(max(maxY, minY), last)

	return TileRange{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
}

// CountTiles sums the tile-grid cells intersecting the bounding box over the
// zoom range, inclusive on both ends.
func CountTiles(b models.BoundingBox, minZoom, maxZoom int) int {
	total := 0
	for zoom := minZoom; zoom <= maxZoom; zoom++ {
		total += RangeForBounds(b, zoom).Count()
	}
	return total
}

// EnumerateTiles materializes every tile coordinate for the bounding box
// across the zoom range, coarsest zoom first.
func EnumerateTiles(b models.BoundingBox, minZoom, maxZoom int) []models.TileCoord {
	var coords []models.TileCoord
	for zoom := minZoom; zoom <= maxZoom; zoom++ {
		r := RangeForBounds(b, zoom)
		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				coords = append(coords, models.TileCoord{Zoom: zoom, X: x, Y: y})
			}
		}
	}
	return coords
}

// TMSRow converts an XYZ row to a TMS row (Y=0 at bottom) at the given zoom.
// The same formula converts back, so TMSRow is its own inverse.
func TMSRow(zoom, y int) int {
	return (1 << zoom) - 1 - y
}
