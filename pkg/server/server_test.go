package server

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"tilecellar/pkg/models"
	"tilecellar/pkg/pmtiles"
	"tilecellar/pkg/tilemath"
	"tilecellar/pkg/tilestore"
)

// fakeFetcher is a canned network tile source.
type fakeFetcher struct {
	data  []byte
	calls int
}

func (f *fakeFetcher) FetchTile(_ context.Context, _ models.TileCoord) ([]byte, error) {
	f.calls++
	return f.data, nil
}

func appendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// writeArchive builds a single-tile v3 archive on disk: header, one-entry
// root directory, tile payload.
func writeArchive(t *testing.T, dir string, tileID uint64, payload []byte) string {
	t.Helper()

	rootDir := appendVarint(nil, 1)           // entry count
	rootDir = appendVarint(rootDir, tileID)   // delta from zero
	rootDir = appendVarint(rootDir, 1)        // run length
	rootDir = appendVarint(rootDir, uint64(len(payload)))
	rootDir = appendVarint(rootDir, 1) // offset 0, stored off by one

	header := make([]byte, 127)
	copy(header, "PMTiles")
	header[7] = 3

	le := binary.LittleEndian
	le.PutUint64(header[8:], 127)                         // root directory offset
	le.PutUint64(header[16:], uint64(len(rootDir)))       // root directory length
	le.PutUint64(header[56:], 127+uint64(len(rootDir)))   // tile data offset
	le.PutUint64(header[64:], uint64(len(payload)))       // tile data length
	header[97] = pmtiles.CompressionNone                  // directories
	header[98] = pmtiles.CompressionGzip                  // tile payloads
	header[100] = 0                                       // min zoom
	header[101] = 14                                      // max zoom

	data := append(header, rootDir...)
	data = append(data, payload...)

	path := filepath.Join(dir, "layer.pmtiles")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TileServerTestSuite tests the delivery fallback chain and its response
// semantics.
type TileServerTestSuite struct {
	suite.Suite
	tempDir string
	store   *tilestore.Store
}

func (s *TileServerTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	var err error
	s.store, err = tilestore.NewStore(filepath.Join(s.tempDir, "tiles.db"))
	s.Require().NoError(err)
}

func (s *TileServerTestSuite) TearDownTest() {
	s.store.Close()
}

func (s *TileServerTestSuite) newServer(cfg Config) *TileServer {
	cfg.Store = s.store
	ts, err := NewTileServer(cfg)
	s.Require().NoError(err)
	ts.setupRoutes()
	return ts
}

func (s *TileServerTestSuite) get(ts *TileServer, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

// archiveWithTile builds an archive holding one basemap tile addressed by
// XYZ coordinates, stored at the TMS-converted row as the lookup expects.
func (s *TileServerTestSuite) archiveWithTile(z, x, y int, payload []byte) *pmtiles.Reader {
	id, err := pmtiles.TileID(z, x, tilemath.TMSRow(z, y))
	s.Require().NoError(err)
	path := writeArchive(s.T(), s.tempDir, id, payload)
	r, err := pmtiles.NewFileReader(path)
	s.Require().NoError(err)
	return r
}

// TestArchiveHitSetsGzipMarker tests that bundled-archive hits pass the
// at-rest bytes through with a gzip content-encoding marker.
func (s *TileServerTestSuite) TestArchiveHitSetsGzipMarker() {
	payload := []byte("compressed-at-rest")
	ts := s.newServer(Config{Basemap: s.archiveWithTile(5, 3, 2, payload)})

	rec := s.get(ts, "/basemap/5/3/2.pbf")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("gzip", rec.Header().Get("Content-Encoding"))
	s.Equal(payload, rec.Body.Bytes())
}

// TestStoreHitHasNoGzipMarker tests the archive-miss, store-hit path: the
// stored bytes come back verbatim with no encoding marker.
func (s *TileServerTestSuite) TestStoreHitHasNoGzipMarker() {
	stored := []byte("offline tile bytes")
	coord := models.TileCoord{Zoom: 5, X: 3, Y: 2}
	s.Require().NoError(s.store.UpsertTile(coord, stored, "area-1"))

	// Archive contains a different tile, so (5,3,2) misses it.
	ts := s.newServer(Config{Basemap: s.archiveWithTile(5, 9, 9, []byte("other"))})

	rec := s.get(ts, "/basemap/5/3/2.pbf")
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Header().Get("Content-Encoding"))
	s.Equal(stored, rec.Body.Bytes())
}

// TestBasemapExhaustionIsRetryable tests that a full miss on the basemap
// layer returns an empty non-404 status, so renderer caches retry later.
func (s *TileServerTestSuite) TestBasemapExhaustionIsRetryable() {
	ts := s.newServer(Config{})

	rec := s.get(ts, "/basemap/5/3/2.pbf")
	s.Equal(http.StatusBadGateway, rec.Code)
	s.Empty(rec.Body.Bytes())
}

// TestTerrainMissReturns404 tests that non-basemap layers miss with a plain
// not-found.
func (s *TileServerTestSuite) TestTerrainMissReturns404() {
	ts := s.newServer(Config{})

	rec := s.get(ts, "/terrain/5/3/2.png")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Empty(rec.Body.Bytes())
}

// TestNetworkFallback tests that the basemap layer falls through to the
// network fetcher when archives and store miss.
func (s *TileServerTestSuite) TestNetworkFallback() {
	fetcher := &fakeFetcher{data: []byte("fresh from network")}
	ts := s.newServer(Config{Fetcher: fetcher})

	rec := s.get(ts, "/basemap/5/3/2.pbf")
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Header().Get("Content-Encoding"))
	s.Equal(fetcher.data, rec.Body.Bytes())
	s.Equal(1, fetcher.calls)
}

// TestOfflineModeSkipsNetwork tests that offline mode never touches the
// fetcher even when configured.
func (s *TileServerTestSuite) TestOfflineModeSkipsNetwork() {
	fetcher := &fakeFetcher{data: []byte("should not be served")}
	ts := s.newServer(Config{Fetcher: fetcher, OfflineMode: true})

	rec := s.get(ts, "/basemap/5/3/2.pbf")
	s.Equal(http.StatusBadGateway, rec.Code)
	s.Zero(fetcher.calls)
}

// TestTerrainNeverUsesNetwork tests that only the basemap layer has a
// network fallback.
func (s *TileServerTestSuite) TestTerrainNeverUsesNetwork() {
	fetcher := &fakeFetcher{data: []byte("terrain is bundled only")}
	ts := s.newServer(Config{Fetcher: fetcher})

	rec := s.get(ts, "/terrain/5/3/2.png")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Zero(fetcher.calls)
}

// TestMalformedCoordinates tests the 400 responses for unparseable or
// out-of-range paths.
func (s *TileServerTestSuite) TestMalformedCoordinates() {
	ts := s.newServer(Config{})

	paths := []string{
		"/basemap/a/0/0.pbf",
		"/basemap/5/x/0.pbf",
		"/basemap/5/0/zero.pbf",
		"/basemap/5/0/0.png",  // wrong extension for the layer
		"/basemap/5/32/0.pbf", // x out of range for zoom 5
		"/basemap/5/0/32.pbf", // y out of range for zoom 5
		"/basemap/-1/0/0.pbf",
		"/terrain/5/0/0.pbf", // terrain serves png
	}
	for _, p := range paths {
		rec := s.get(ts, p)
		s.Equal(http.StatusBadRequest, rec.Code, "path %s", p)
	}
}

// TestTileServerTestSuite runs the tile server test suite.
func TestTileServerTestSuite(t *testing.T) {
	suite.Run(t, new(TileServerTestSuite))
}
