package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"tilecellar/pkg/log"
	"tilecellar/pkg/models"
	"tilecellar/pkg/tilemath"
)

// tileOrigin tags which fallback source produced a tile, so the response
// encoding decision never has to re-query a source after the fact.
type tileOrigin int

const (
	originNone tileOrigin = iota
	originArchive
	originStore
	originNetwork
)

var layerContentTypes = map[string]string{
	LayerTerrain:   "image/png",
	LayerLandcover: "application/x-protobuf",
	LayerBasemap:   "application/x-protobuf",
}

var layerExtensions = map[string]string{
	LayerTerrain:   ".png",
	LayerLandcover: ".pbf",
	LayerBasemap:   ".pbf",
}

func (ts *TileServer) serveLayer(layer string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		z, x, y, ok := parseTileParams(ctx, layerExtensions[layer])
		if !ok {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "invalid tile coordinates",
			})
		}

		data, origin, err := ts.lookupTile(ctx.Request().Context(), layer, z, x, y)
		if err != nil {
			log.Error().Err(err).Str("layer", layer).
				Int("z", z).Int("x", x).Int("y", y).
				Msg("Tile lookup failed")
		}

		switch origin {
		case originArchive:
			if ts.archiveTilesGzipped(ctx.Request().Context(), layer) {
				ctx.Response().Header().Set(echo.HeaderContentEncoding, "gzip")
			}
			return ctx.Blob(http.StatusOK, layerContentTypes[layer], data)
		case originStore, originNetwork:
			return ctx.Blob(http.StatusOK, layerContentTypes[layer], data)
		}

		// Exhausted basemap lookups return a retryable status rather than
		// 404: renderer caches treat 404 as permanent absence and would
		// never ask again, which is wrong for a sparse offline cache.
		if layer == LayerBasemap {
			return ctx.NoContent(http.StatusBadGateway)
		}
		return ctx.NoContent(http.StatusNotFound)
	}
}

// lookupTile tries the fallback chain for one tile: bundled archive, then
// offline store, then (basemap only, online only) the network. Coordinates
// arrive in the renderer's XYZ convention; the archive is addressed by TMS
// rows, the store converts internally.
func (ts *TileServer) lookupTile(ctx context.Context, layer string, z, x, y int) ([]byte, tileOrigin, error) {
	if archive := ts.archives[layer]; archive != nil {
		data, err := archive.GetTile(ctx, z, x, tilemath.TMSRow(z, y))
		if err != nil {
			log.Warn().Err(err).Str("layer", layer).Msg("Archive tile read failed")
		} else if data != nil {
			return data, originArchive, nil
		}
	}

	// Only basemap tiles are ever downloaded into the offline store;
	// terrain and landcover exist solely in the bundled archives.
	if layer == LayerBasemap {
		data, err := ts.store.GetTile(z, x, y)
		if err != nil {
			return nil, originNone, err
		}
		if data != nil {
			return data, originStore, nil
		}

		if ts.fetcher != nil && !ts.offlineMode {
			data, err := ts.fetcher.FetchTile(ctx, models.TileCoord{Zoom: z, X: x, Y: y})
			if err != nil {
				log.Debug().Err(err).Int("z", z).Int("x", x).Int("y", y).Msg("Network tile fetch failed")
				return nil, originNone, nil
			}
			return data, originNetwork, nil
		}
	}

	return nil, originNone, nil
}

// archiveTilesGzipped reports whether the layer's archive stores its tiles
// gzip-compressed. Header reads are cached by the reader, so this is cheap.
func (ts *TileServer) archiveTilesGzipped(ctx context.Context, layer string) bool {
	archive := ts.archives[layer]
	if archive == nil {
		return false
	}
	h, err := archive.Header(ctx)
	if err != nil {
		return false
	}
	return h.TileGzipped()
}

// parseTileParams extracts and validates (z, x, y) from the request path.
// The y segment carries the layer's file extension.
func parseTileParams(ctx echo.Context, ext string) (z, x, y int, ok bool) {
	z, err := strconv.Atoi(ctx.Param("z"))
	if err != nil {
		return 0, 0, 0, false
	}
	x, err = strconv.Atoi(ctx.Param("x"))
	if err != nil {
		return 0, 0, 0, false
	}

	yParam, found := strings.CutSuffix(ctx.Param("y"), ext)
	if !found {
		return 0, 0, 0, false
	}
	y, err = strconv.Atoi(yParam)
	if err != nil {
		return 0, 0, 0, false
	}

	if z < 0 || z > 30 {
		return 0, 0, 0, false
	}
	max := 1 << z
	if x < 0 || x >= max || y < 0 || y >= max {
		return 0, 0, 0, false
	}
	return z, x, y, true
}
