package pmtiles

import "fmt"

// maxTileZoom is the highest zoom whose tile IDs fit safely in the archive's
// 64-bit ID space.
const maxTileZoom = 26

// zoomOffset returns the cumulative tile count of all zoom levels coarser
// than z, which is (4^z - 1) / 3.
func zoomOffset(z int) uint64 {
	return ((uint64(1) << (2 * z)) - 1) / 3
}

// TileID converts (z, x, y) to the archive's monotonically-ordered 64-bit
// tile identifier: the Hilbert curve position within the zoom level, offset
// by the tile count of all coarser levels.
func TileID(z, x, y int) (uint64, error) {
	if z < 0 || z > maxTileZoom {
		return 0, fmt.Errorf("%w: zoom %d exceeds limit %d", ErrInvalidCoordinate, z, maxTileZoom)
	}
	if x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return 0, fmt.Errorf("%w: %d/%d/%d outside zoom level bounds", ErrInvalidCoordinate, z, x, y)
	}

	acc := zoomOffset(z)
	tx, ty := x, y
	for s := 1 << z >> 1; s > 0; s >>= 1 {
		rx := tx & s
		ry := ty & s
		acc += uint64((3*rx)^ry) * uint64(s)
		tx, ty = hilbertRotate(s, tx, ty, rx, ry)
	}
	return acc, nil
}

// TileIDToZXY inverts TileID, recovering (z, x, y) from an archive tile ID.
func TileIDToZXY(id uint64) (z, x, y int, err error) {
	for z = 0; z <= maxTileZoom; z++ {
		if z == maxTileZoom || id < zoomOffset(z+1) {
			break
		}
	}
	if id >= zoomOffset(z+1) && z == maxTileZoom {
		return 0, 0, 0, fmt.Errorf("%w: tile id %d beyond zoom %d", ErrInvalidCoordinate, id, maxTileZoom)
	}

	d := id - zoomOffset(z)
	n := 1 << z
	for s := 1; s < n; s <<= 1 {
		rx := int(1 & (d / 2))
		ry := int(1 & (d ^ uint64(rx)))
		x, y = hilbertRotateInverse(s, x, y, rx, ry)
		x += s * rx
		y += s * ry
		d /= 4
	}
	return z, x, y, nil
}

// hilbertRotate applies the per-step quadrant rotation of the forward curve.
// rx and ry are the masked coordinate bits (0 or s).
func hilbertRotate(s, x, y, rx, ry int) (int, int) {
	if ry == 0 {
		if rx != 0 {
			return s - 1 - y, s - 1 - x
		}
		return y, x
	}
	return x, y
}

// hilbertRotateInverse undoes the rotation for the decoding direction, where
// rx and ry are single bits.
func hilbertRotateInverse(s, x, y, rx, ry int) (int, int) {
	if ry == 0 {
		if rx == 1 {
			x = s - 1 - x
			y = s - 1 - y
		}
		return y, x
	}
	return x, y
}
