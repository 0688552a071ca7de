package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tilecellar/pkg/log"
	"tilecellar/pkg/models"
	"tilecellar/pkg/pmtiles"
	"tilecellar/pkg/tilestore"
)

const shutdownTimeout = 10

// Layer names as they appear in request paths.
const (
	LayerTerrain   = "terrain"
	LayerLandcover = "landcover"
	LayerBasemap   = "basemap"
)

// TileFetcher fetches a basemap tile from the network. Satisfied by
// downloader.HTTPTileSource.
type TileFetcher interface {
	FetchTile(ctx context.Context, coord models.TileCoord) ([]byte, error)
}

// Config wires the tile server to its archives, store and network fallback.
// Any archive may be nil; a nil Fetcher or OfflineMode disables the network
// fallback for the basemap layer.
type Config struct {
	Store       *tilestore.Store
	Terrain     *pmtiles.Reader
	Landcover   *pmtiles.Reader
	Basemap     *pmtiles.Reader
	Fetcher     TileFetcher
	OfflineMode bool
}

// TileServer answers renderer tile requests, falling back from bundled
// archives through the offline store to the network.
type TileServer struct {
	echo        *echo.Echo
	store       *tilestore.Store
	archives    map[string]*pmtiles.Reader
	fetcher     TileFetcher
	offlineMode bool
}

// NewTileServer creates a tile server from the given configuration.
func NewTileServer(cfg Config) (*TileServer, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}

	archives := make(map[string]*pmtiles.Reader)
	if cfg.Terrain != nil {
		archives[LayerTerrain] = cfg.Terrain
	}
	if cfg.Landcover != nil {
		archives[LayerLandcover] = cfg.Landcover
	}
	if cfg.Basemap != nil {
		archives[LayerBasemap] = cfg.Basemap
	}

	return &TileServer{
		echo:        echo.New(),
		store:       cfg.Store,
		archives:    archives,
		fetcher:     cfg.Fetcher,
		offlineMode: cfg.OfflineMode,
	}, nil
}

// Start runs the server until SIGINT or SIGTERM, then shuts down gracefully.
func (ts *TileServer) Start(addr string) error {
	ts.setupRoutes()

	go func() {
		log.Info().
			Str("addr", addr).
			Int("archives", len(ts.archives)).
			Bool("offline_mode", ts.offlineMode).
			Msg("Starting tile server")

		if err := ts.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return ts.Shutdown()
}

// Shutdown stops the HTTP listener and closes the bundled archives.
func (ts *TileServer) Shutdown() error {
	log.Info().Msg("Shutting down tile server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout*time.Second)
	defer cancel()

	if err := ts.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	for layer, archive := range ts.archives {
		if err := archive.Close(); err != nil {
			log.Warn().Err(err).Str("layer", layer).Msg("Failed to close archive")
		}
	}

	log.Info().Msg("Tile server stopped")
	return nil
}

func (ts *TileServer) setupRoutes() {
	ts.echo.HideBanner = true
	ts.echo.HidePort = true
	ts.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))

	// No global gzip middleware: archive tiles are already compressed at
	// rest and the handlers mark the encoding themselves.
	ts.echo.Use(middleware.Recover())

	ts.echo.GET("/terrain/:z/:x/:y", ts.serveLayer(LayerTerrain))
	ts.echo.GET("/landcover/:z/:x/:y", ts.serveLayer(LayerLandcover))
	ts.echo.GET("/basemap/:z/:x/:y", ts.serveLayer(LayerBasemap))
}
