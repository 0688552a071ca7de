package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"tilecellar/pkg/models"
)

// FetcherTestSuite tests the HTTP tile sources.
type FetcherTestSuite struct {
	suite.Suite
}

// TestFetchTileSubstitutesTemplate tests placeholder substitution and the
// happy path.
func (s *FetcherTestSuite) TestFetchTileSubstitutesTemplate() {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("tile bytes"))
	}))
	defer srv.Close()

	source := NewHTTPTileSource(srv.URL + "/tiles/{z}/{x}/{y}.pbf")
	data, err := source.FetchTile(context.Background(), models.TileCoord{Zoom: 12, X: 2138, Y: 1447})
	s.Require().NoError(err)
	s.Equal([]byte("tile bytes"), data)
	s.Equal("/tiles/12/2138/1447.pbf", gotPath)
}

// TestFetchTileNon200 tests that server errors surface as network failures.
func (s *FetcherTestSuite) TestFetchTileNon200() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source := NewHTTPTileSource(srv.URL + "/{z}/{x}/{y}")
	_, err := source.FetchTile(context.Background(), models.TileCoord{Zoom: 1, X: 0, Y: 0})
	s.ErrorIs(err, ErrNetworkFailure)
}

// TestFetchRoutingTileWritesFile tests streaming a routing tile to disk via
// the sharded URL layout.
func (s *FetcherTestSuite) TestFetchRoutingTileWritesFile() {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("graph data"))
	}))
	defer srv.Close()

	dest := filepath.Join(s.T().TempDir(), "345.gph")
	source := NewHTTPRoutingTileSource(srv.URL + "/routing/")
	written, err := source.FetchRoutingTile(context.Background(), 1, 12345, dest)
	s.Require().NoError(err)
	s.Equal(int64(len("graph data")), written)
	s.Equal("/routing/1/012/345.gph", gotPath)

	content, err := os.ReadFile(dest)
	s.Require().NoError(err)
	s.Equal([]byte("graph data"), content)
}

// TestFetchRoutingTileFailureRemovesPartialFile tests that a failed fetch
// leaves no file behind.
func (s *FetcherTestSuite) TestFetchRoutingTileFailureRemovesPartialFile() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // refuse connections entirely

	dest := filepath.Join(s.T().TempDir(), "000.gph")
	source := NewHTTPRoutingTileSource(srv.URL)
	_, err := source.FetchRoutingTile(context.Background(), 0, 0, dest)
	s.ErrorIs(err, ErrNetworkFailure)
	s.NoFileExists(dest)
}

// TestFetcherTestSuite runs the fetcher test suite.
func TestFetcherTestSuite(t *testing.T) {
	suite.Run(t, new(FetcherTestSuite))
}
