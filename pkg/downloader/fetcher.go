package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tilecellar/pkg/models"
	"tilecellar/pkg/tilemath"
)

const fetchTimeout = 15 * time.Second

// TileSource fetches raw basemap tile bytes for a coordinate.
type TileSource interface {
	FetchTile(ctx context.Context, coord models.TileCoord) ([]byte, error)
}

// RoutingTileSource fetches one routing tile, streaming it to destPath, and
// returns the number of bytes written.
type RoutingTileSource interface {
	FetchRoutingTile(ctx context.Context, hierarchyLevel, tileIndex int, destPath string) (int64, error)
}

func newFetchClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 1
	client.HTTPClient.Timeout = fetchTimeout
	return client
}

// HTTPTileSource fetches basemap tiles from a URL template with {z}, {x} and
// {y} placeholders.
type HTTPTileSource struct {
	template string
	client   *retryablehttp.Client
}

// NewHTTPTileSource creates a tile source for the given URL template.
func NewHTTPTileSource(template string) *HTTPTileSource {
	return &HTTPTileSource{template: template, client: newFetchClient()}
}

// FetchTile downloads one tile, returning an error for any non-200 status.
func (s *HTTPTileSource) FetchTile(ctx context.Context, coord models.TileCoord) ([]byte, error) {
	url := strings.NewReplacer(
		"{z}", strconv.Itoa(coord.Zoom),
		"{x}", strconv.Itoa(coord.X),
		"{y}", strconv.Itoa(coord.Y),
	).Replace(s.template)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrNetworkFailure, resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	return data, nil
}

// HTTPRoutingTileSource fetches routing tiles from a base URL using the
// sharded path scheme.
type HTTPRoutingTileSource struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPRoutingTileSource creates a routing tile source for the given base URL.
func NewHTTPRoutingTileSource(baseURL string) *HTTPRoutingTileSource {
	return &HTTPRoutingTileSource{baseURL: strings.TrimSuffix(baseURL, "/"), client: newFetchClient()}
}

// FetchRoutingTile streams one routing tile to destPath. The file is written
// incrementally so large tiles never sit in memory whole.
func (s *HTTPRoutingTileSource) FetchRoutingTile(ctx context.Context, hierarchyLevel, tileIndex int, destPath string) (int64, error) {
	url := tilemath.RoutingTileURL(s.baseURL, hierarchyLevel, tileIndex)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: HTTP %d for %s", ErrNetworkFailure, resp.StatusCode, url)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	return written, nil
}
