package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tilecellar/pkg/log"
	"tilecellar/pkg/models"
	"tilecellar/pkg/tilestore"
)

const (
	// basemapBatchSize is both the batch commit size and the bound on
	// concurrent in-flight fetches.
	basemapBatchSize = 10

	// maxRetryCount caps download attempts per tile; once reached the tile
	// is skipped for the rest of the run and counted as failed.
	maxRetryCount = 3

	// processingBatchSize bounds how many tile blobs the processing phase
	// holds in memory at once.
	processingBatchSize = 20

	defaultEventBuffer = 64
)

// TileProcessor receives downloaded tile bytes during the processing phase.
// Implementations are external (search indexing, geocoding).
type TileProcessor interface {
	BeginTileProcessing() error
	ProcessTile(data []byte, zoom, x, y int) error
	EndTileProcessing() error
}

// AreaRequest describes the offline region a download should cover.
type AreaRequest struct {
	ID      string
	Name    string
	Bounds  models.BoundingBox
	MinZoom int
	MaxZoom int
}

// Config wires an Engine to its store, tile sources and optional sinks.
type Config struct {
	Store          *tilestore.Store
	Tiles          TileSource
	RoutingTiles   RoutingTileSource
	Processor      TileProcessor
	RoutingTileDir string
	EventBuffer    int
}

// Engine orchestrates phased, resumable tile downloads for offline areas.
// One Engine is constructed per download session and owns its progress
// channel; Close releases it. Progress consumers must drain Events while a
// download runs.
type Engine struct {
	store        *tilestore.Store
	tiles        TileSource
	routingTiles RoutingTileSource
	processor    TileProcessor
	routingDir   string
	events       chan models.ProgressUpdate
	logger       zerolog.Logger
}

// NewEngine creates a download engine from the given configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("downloader: store is required")
	}
	if cfg.Tiles == nil {
		return nil, errors.New("downloader: tile source is required")
	}
	if cfg.RoutingTiles == nil {
		return nil, errors.New("downloader: routing tile source is required")
	}
	if cfg.RoutingTileDir == "" {
		return nil, errors.New("downloader: routing tile directory is required")
	}

	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Engine{
		store:        cfg.Store,
		tiles:        cfg.Tiles,
		routingTiles: cfg.RoutingTiles,
		processor:    cfg.Processor,
		routingDir:   cfg.RoutingTileDir,
		events:       make(chan models.ProgressUpdate, buffer),
		logger:       log.With("downloader"),
	}, nil
}

// Events returns the progress channel. Completion and error updates are
// always delivered; ordinary increments may be coalesced by the consumer but
// the engine never suppresses any.
func (e *Engine) Events() <-chan models.ProgressUpdate {
	return e.events
}

// Close ends the progress stream. Call only after all downloads finished.
func (e *Engine) Close() {
	close(e.events)
}

func (e *Engine) report(u models.ProgressUpdate) {
	e.events <- u
}

// Download ensures every tile the requested area needs exists in the store,
// resuming from wherever a prior attempt stopped. A paused area or a
// canceled context stops cleanly without marking the area failed; any other
// error marks it FAILED and reports the error.
func (e *Engine) Download(ctx context.Context, req AreaRequest) error {
	area, err := e.store.GetArea(req.ID)
	switch {
	case errors.Is(err, tilestore.ErrAreaNotFound):
		area = &models.Area{
			ID:           req.ID,
			Name:         req.Name,
			North:        req.Bounds.North,
			South:        req.Bounds.South,
			East:         req.Bounds.East,
			West:         req.Bounds.West,
			MinZoom:      req.MinZoom,
			MaxZoom:      req.MaxZoom,
			DownloadDate: time.Now(),
			Status:       models.StatusPending,
		}
		if err := e.store.InsertArea(area); err != nil {
			return err
		}
		e.logger.Info().Str("area_id", area.ID).Str("name", area.Name).Msg("Created offline area")
	case err != nil:
		return err
	default:
		e.logger.Info().
			Str("area_id", area.ID).
			Str("status", string(area.Status)).
			Msg("Area already exists, resuming")
	}

	return e.runArea(ctx, area)
}

// ResumeIncomplete restarts the download of every incomplete, unpaused area.
// Intended for session startup after a crash or restart.
func (e *Engine) ResumeIncomplete(ctx context.Context) error {
	areas, err := e.store.ListAreas()
	if err != nil {
		return err
	}
	for i := range areas {
		area := &areas[i]
		if !area.ShouldAutoResume() {
			continue
		}
		e.logger.Info().Str("area_id", area.ID).Str("status", string(area.Status)).Msg("Resuming incomplete area")
		if err := e.runArea(ctx, area); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Pause excludes an in-progress area from further work. The current batch
// may still complete; no new requests are issued after it.
func (e *Engine) Pause(areaID string) error {
	return e.store.SetAreaPaused(areaID, true)
}

// Unpause clears the pause flag so the area qualifies for resumption again.
func (e *Engine) Unpause(areaID string) error {
	return e.store.SetAreaPaused(areaID, false)
}

func (e *Engine) runArea(ctx context.Context, area *models.Area) error {
	err := e.run(ctx, area)
	switch {
	case errors.Is(err, errPaused):
		e.logger.Info().Str("area_id", area.ID).Msg("Download paused")
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Cancellation is not failure; the area resumes from its counts.
		return err
	case err != nil:
		e.logger.Error().Err(err).Str("area_id", area.ID).Msg("Download failed")
		if statusErr := e.store.UpdateAreaStatus(area.ID, models.StatusFailed); statusErr != nil {
			e.logger.Error().Err(statusErr).Str("area_id", area.ID).Msg("Failed to mark area FAILED")
		}
		e.report(models.ProgressUpdate{
			AreaID:    area.ID,
			AreaName:  area.Name,
			Completed: true,
			HasError:  true,
		})
		return err
	}
	return nil
}

func (e *Engine) run(ctx context.Context, area *models.Area) error {
	ps, err := phaseStatus(area, e.store)
	if err != nil {
		return err
	}
	phase := resumePhase(area, ps)
	e.logger.Info().
		Str("area_id", area.ID).
		Str("phase", string(phase)).
		Int("basemap", ps.BasemapCount).
		Int("basemap_total", ps.BasemapTotal).
		Int("routing", ps.RoutingCount).
		Int("routing_total", ps.RoutingTotal).
		Msg("Determined resume phase")

	if phase == models.StatusCompleted {
		return nil
	}

	if phase == models.StatusDownloadingBasemap {
		if err := e.setStatus(area, models.StatusDownloadingBasemap); err != nil {
			return err
		}
		downloaded, failed, err := e.downloadBasemap(ctx, area)
		if err != nil {
			return err
		}
		e.logger.Info().
			Str("area_id", area.ID).
			Int("downloaded", downloaded).
			Int("failed", failed).
			Msg("Basemap phase complete")
		phase = models.StatusDownloadingRouting
	}

	if phase == models.StatusDownloadingRouting {
		if err := e.setStatus(area, models.StatusDownloadingRouting); err != nil {
			return err
		}
		downloaded, failed, err := e.downloadRouting(ctx, area)
		if err != nil {
			return err
		}
		e.logger.Info().
			Str("area_id", area.ID).
			Int("downloaded", downloaded).
			Int("failed", failed).
			Msg("Routing phase complete")
		phase = models.StatusProcessing
	}

	if phase == models.StatusProcessing {
		if err := e.setStatus(area, models.StatusProcessing); err != nil {
			return err
		}
		if err := e.processTiles(ctx, area); err != nil {
			return err
		}
	}

	if err := e.setStatus(area, models.StatusCompleted); err != nil {
		return err
	}
	e.report(models.ProgressUpdate{
		AreaID:    area.ID,
		AreaName:  area.Name,
		Completed: true,
	})
	e.logger.Info().Str("area_id", area.ID).Msg("Area download completed")
	return nil
}

func (e *Engine) setStatus(area *models.Area, status models.DownloadStatus) error {
	if err := e.store.UpdateAreaStatus(area.ID, status); err != nil {
		return err
	}
	area.Status = status
	return nil
}

// checkPaused consults the stored pause flag between units of work.
func (e *Engine) checkPaused(areaID string) error {
	area, err := e.store.GetArea(areaID)
	if err != nil {
		return err
	}
	if area.Paused {
		return errPaused
	}
	return nil
}

func basemapTileKey(areaID string, coord models.TileCoord) string {
	return fmt.Sprintf("basemap_%s_%d_%d_%d", areaID, coord.Zoom, coord.X, coord.Y)
}

func routingTileKey(areaID string, hierarchyLevel, tileIndex int) string {
	return fmt.Sprintf("routing_%s_%d_%d", areaID, hierarchyLevel, tileIndex)
}
