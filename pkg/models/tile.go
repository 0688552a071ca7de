package models

// TileKind distinguishes the two tile populations an area owns.
type TileKind string

const (
	KindBasemap TileKind = "BASEMAP"
	KindRouting TileKind = "ROUTING"
)

// TileCoord identifies a map tile in the XYZ convention (Y=0 at top).
type TileCoord struct {
	Zoom int
	X    int
	Y    int
}

// RoutingTileRef is a reference row for a routing tile stored as a file
// on disk. The store holds the reference, not the blob.
type RoutingTileRef struct {
	HierarchyLevel int
	TileIndex      int
	FilePath       string
	AreaID         string
}
