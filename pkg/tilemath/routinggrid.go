package tilemath

import (
	"fmt"
	"path/filepath"

	"tilecellar/pkg/models"
)

// The routing tile grid is unrelated to zoom: three fixed global hierarchy
// levels, each covering the world with square tiles of a fixed angular size.
var levelTileSize = [3]float64{4.0, 1.0, 0.25}

// HierarchyLevels is the number of routing hierarchy levels.
const HierarchyLevels = len(levelTileSize)

// RoutingTile addresses one routing tile within the fixed global grid.
type RoutingTile struct {
	HierarchyLevel int
	TileIndex      int
}

// RoutingTileIndex computes the tile index for a position at a hierarchy
// level. Tiles are numbered row-major from the south-west corner of the
// world.
func RoutingTileIndex(hierarchyLevel int, lat, lon float64) (int, error) {
	if hierarchyLevel < 0 || hierarchyLevel >= HierarchyLevels {
		return 0, fmt.Errorf("hierarchy level out of range: %d", hierarchyLevel)
	}
	if lat < -90 || lat > 90 {
		return 0, fmt.Errorf("latitude out of range: %f", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, fmt.Errorf("longitude out of range: %f", lon)
	}

	size := levelTileSize[hierarchyLevel]
	totalColumns := int(360 / size)
	col := int((lon + 180) / size)
	row := int((lat + 90) / size)
	return row*totalColumns + col, nil
}

// RoutingTileLatLon returns the latitude and longitude of a tile's
// south-west corner.
func RoutingTileLatLon(hierarchyLevel, tileIndex int) (lat, lon float64) {
	size := levelTileSize[hierarchyLevel]
	totalColumns := int(360 / size)
	lat = float64(tileIndex/totalColumns)*size - 90
	lon = float64(tileIndex%totalColumns)*size - 180
	return lat, lon
}

// RoutingTilesForBounds returns every routing tile intersecting the bounding
// box, across all three hierarchy levels.
func RoutingTilesForBounds(b models.BoundingBox) []RoutingTile {
	left := b.West + 180
	right := b.East + 180
	bottom := b.South + 90
	top := b.North + 90

	var tiles []RoutingTile
	for level, size := range levelTileSize {
		totalColumns := int(360 / size)
		for x := int(left / size); x <= int(right/size); x++ {
			for y := int(bottom / size); y <= int(top/size); y++ {
				tiles = append(tiles, RoutingTile{
					HierarchyLevel: level,
					TileIndex:      y*totalColumns + x,
				})
			}
		}
	}
	return tiles
}

// RoutingTilePath returns the sharded relative path for a routing tile file.
// Levels 0 and 1 use {level}/{index/1000}/{index%1000}.gph; level 2 adds a
// second grouping component to bound directory fan-out.
func RoutingTilePath(hierarchyLevel, tileIndex int) string {
	if hierarchyLevel == 2 {
		group1 := tileIndex / 1000000
		group2 := (tileIndex / 1000) % 1000
		id := tileIndex % 1000
		return filepath.Join(
			fmt.Sprintf("%d", hierarchyLevel),
			fmt.Sprintf("%03d", group1),
			fmt.Sprintf("%03d", group2),
			fmt.Sprintf("%03d.gph", id),
		)
	}

	group := tileIndex / 1000
	id := tileIndex % 1000
	return filepath.Join(
		fmt.Sprintf("%d", hierarchyLevel),
		fmt.Sprintf("%03d", group),
		fmt.Sprintf("%03d.gph", id),
	)
}

// RoutingTileURL builds the remote URL for a routing tile. Remote layouts
// use forward slashes regardless of the local separator.
func RoutingTileURL(baseURL string, hierarchyLevel, tileIndex int) string {
	return baseURL + "/" + filepath.ToSlash(RoutingTilePath(hierarchyLevel, tileIndex))
}
