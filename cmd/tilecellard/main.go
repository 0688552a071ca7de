package main

import (
	"flag"
	"os"
	"strings"

	"tilecellar/pkg/downloader"
	"tilecellar/pkg/log"
	"tilecellar/pkg/pmtiles"
	"tilecellar/pkg/server"
	"tilecellar/pkg/tilestore"
)

func main() {
	// Initialize logger first
	_ = log.Logger

	dbPath := flag.String("db", "build/tiles.db", "Tile database path")
	terrainPath := flag.String("terrain", "", "Terrain archive path or URL")
	landcoverPath := flag.String("landcover", "", "Landcover archive path or URL")
	basemapPath := flag.String("basemap", "", "Basemap archive path or URL")
	tileURL := flag.String("tile-url", "", "Basemap tile URL template with {z}/{x}/{y} placeholders")
	addr := flag.String("addr", ":8080", "Listen address")
	offline := flag.Bool("offline", false, "Disable all network tile fetching")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	store, err := tilestore.NewStore(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("Failed to open tile store")
	}
	defer store.Close()

	cfg := server.Config{
		Store:       store,
		Terrain:     openArchive(*terrainPath, "terrain"),
		Landcover:   openArchive(*landcoverPath, "landcover"),
		Basemap:     openArchive(*basemapPath, "basemap"),
		OfflineMode: *offline,
	}
	if *tileURL != "" {
		cfg.Fetcher = downloader.NewHTTPTileSource(*tileURL)
	}

	ts, err := server.NewTileServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create tile server")
	}

	if err := ts.Start(*addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	os.Exit(0)
}

// openArchive opens a bundled archive by local path or URL. An empty path
// disables the layer.
func openArchive(path, layer string) *pmtiles.Reader {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return pmtiles.NewHTTPReader(path)
	}
	r, err := pmtiles.NewFileReader(path)
	if err != nil {
		log.Fatal().Err(err).Str("layer", layer).Str("path", path).Msg("Failed to open archive")
	}
	return r
}
