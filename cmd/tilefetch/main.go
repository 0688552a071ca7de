package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"tilecellar/pkg/downloader"
	"tilecellar/pkg/log"
	"tilecellar/pkg/models"
	"tilecellar/pkg/tilestore"
)

func main() {
	// Initialize logger first
	_ = log.Logger

	dbPath := flag.String("db", "build/tiles.db", "Tile database path")
	routingDir := flag.String("routing-dir", "build/routing", "Routing tile directory")
	tileURL := flag.String("tile-url", "", "Basemap tile URL template with {z}/{x}/{y} placeholders")
	routingURL := flag.String("routing-url", "", "Routing tile base URL")
	name := flag.String("name", "", "Area name for a new download")
	bbox := flag.String("bbox", "", "Bounding box as west,south,east,north")
	minZoom := flag.Int("min-zoom", 0, "Minimum basemap zoom")
	maxZoom := flag.Int("max-zoom", 14, "Maximum basemap zoom")
	resume := flag.Bool("resume", false, "Resume all incomplete areas instead of starting a new one")
	deleteID := flag.String("delete", "", "Delete the area with this ID and exit")
	list := flag.Bool("list", false, "List stored areas and exit")
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

	if *list {
		listAreas(store)
		return
	}

	if *tileURL == "" || *routingURL == "" {
		log.Fatal().Msg("Both -tile-url and -routing-url are required")
	}

	engine, err := downloader.NewEngine(downloader.Config{
		Store:          store,
		Tiles:          downloader.NewHTTPTileSource(*tileURL),
		RoutingTiles:   downloader.NewHTTPRoutingTileSource(*routingURL),
		RoutingTileDir: *routingDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create download engine")
	}

	if *deleteID != "" {
		if err := engine.DeleteArea(*deleteID); err != nil {
			log.Fatal().Err(err).Str("area_id", *deleteID).Msg("Failed to delete area")
		}
		engine.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportProgress(engine)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *resume:
		err = engine.ResumeIncomplete(ctx)
	default:
		if *name == "" || *bbox == "" {
			log.Fatal().Msg("A new download needs -name and -bbox (or use -resume)")
		}
		bounds, parseErr := parseBBox(*bbox)
		if parseErr != nil {
			log.Fatal().Err(parseErr).Str("bbox", *bbox).Msg("Invalid bounding box")
		}
		req := downloader.AreaRequest{
			ID:      uuid.NewString(),
			Name:    *name,
			Bounds:  bounds,
			MinZoom: *minZoom,
			MaxZoom: *maxZoom,
		}
		log.Info().Str("area_id", req.ID).Str("name", req.Name).Msg("Starting download")
		err = engine.Download(ctx, req)
	}

	engine.Close()
	wg.Wait()

	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Download failed")
	}
	os.Exit(0)
}

// reportProgress drains the engine's progress channel until it closes.
func reportProgress(engine *downloader.Engine) {
	for u := range engine.Events() {
		switch {
		case u.Completed && u.HasError:
			log.Error().Str("area", u.AreaName).Msg("Download failed")
		case u.Completed:
			log.Info().Str("area", u.AreaName).Msg("Download completed")
		default:
			log.Info().
				Str("area", u.AreaName).
				Str("phase", string(u.Phase)).
				Int("progress", u.Progress).
				Int("total", u.Total).
				Msg("Progress")
		}
	}
}

func listAreas(store *tilestore.Store) {
	areas, err := store.ListAreas()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list areas")
	}
	for _, a := range areas {
		log.Info().
			Str("area_id", a.ID).
			Str("name", a.Name).
			Str("status", string(a.Status)).
			Bool("paused", a.Paused).
			Int64("bytes", a.FileSize).
			Msg("Area")
	}
}

// parseBBox parses "west,south,east,north" in degrees.
func parseBBox(s string) (models.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.BoundingBox{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.BoundingBox{}, fmt.Errorf("value %q: %w", p, err)
		}
		vals[i] = v
	}
	b := models.BoundingBox{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}
	if b.South >= b.North || b.West >= b.East {
		return models.BoundingBox{}, fmt.Errorf("degenerate box %q", s)
	}
	return b, nil
}
