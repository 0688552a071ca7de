package pmtiles

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"

	"tilecellar/pkg/log"
	"tilecellar/pkg/models"
)

const (
	headerSize        = 127
	maxDirectoryDepth = 4
	maxCachedDirs     = 100

	rangeRequestTimeout = 30 * time.Second
)

// Internal and tile compression codes from the archive header.
const (
	CompressionUnknown = 0
	CompressionNone    = 1
	CompressionGzip    = 2
)

var headerMagic = []byte("PMTiles")

// Header is the decoded fixed-size archive prefix.
type Header struct {
	RootDirectoryOffset   uint64
	RootDirectoryLength   uint64
	MetadataOffset        uint64
	MetadataLength        uint64
	LeafDirectoriesOffset uint64
	LeafDirectoriesLength uint64
	TileDataOffset        uint64
	TileDataLength        uint64
	NumAddressedTiles     uint64
	NumTileEntries        uint64
	NumTileContents       uint64
	Clustered             bool
	InternalCompression   int
	TileCompression       int
	TileType              int
	MinZoom               int
	MaxZoom               int
	Bounds                models.BoundingBox
	CenterZoom            int
	CenterLon             float64
	CenterLat             float64
}

// TileGzipped reports whether tile payloads are stored gzip-compressed.
// Callers serving tiles over HTTP can pass the bytes through and mark the
// encoding instead of recompressing.
func (h *Header) TileGzipped() bool {
	return h.TileCompression == CompressionGzip
}

// rangeSource reads an arbitrary byte range from the archive.
type rangeSource interface {
	ReadRange(ctx context.Context, offset, length uint64) ([]byte, error)
	Close() error
}

// Reader decodes a PMTiles v3 archive addressed by local path or HTTP base
// URL. The header is read lazily on the first query, so the first call pays
// the I/O cost. Safe for concurrent use.
type Reader struct {
	source rangeSource

	mu     sync.Mutex
	header *Header

	cacheMu    sync.Mutex
	dirCache   map[string][]DirectoryEntry
	cacheOrder []string
}

// NewFileReader opens an archive backed by a local file.
func NewFileReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRangeRequest, err)
	}
	return newReader(&fileSource{f: f}), nil
}

// NewHTTPReader opens an archive addressed by URL, reading it with HTTP
// byte-range requests.
func NewHTTPReader(url string) *Reader {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.HTTPClient.Timeout = rangeRequestTimeout
	return newReader(&httpSource{url: url, client: client})
}

func newReader(source rangeSource) *Reader {
	return &Reader{
		source:   source,
		dirCache: make(map[string][]DirectoryEntry),
	}
}

// Close releases the underlying file or HTTP resources. The directory cache
// is discarded with the reader.
func (r *Reader) Close() error {
	return r.source.Close()
}

// Header returns the decoded archive header, reading it on first use.
func (r *Reader) Header(ctx context.Context) (*Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.header != nil {
		return r.header, nil
	}

	data, err := r.source.ReadRange(ctx, 0, headerSize)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	r.header = h
	return h, nil
}

// Bounds returns the archive's bounding box.
func (r *Reader) Bounds(ctx context.Context) (models.BoundingBox, error) {
	h, err := r.Header(ctx)
	if err != nil {
		return models.BoundingBox{}, err
	}
	return h.Bounds, nil
}

// ZoomRange returns the archive's minimum and maximum zoom levels.
func (r *Reader) ZoomRange(ctx context.Context) (minZoom, maxZoom int, err error) {
	h, err := r.Header(ctx)
	if err != nil {
		return 0, 0, err
	}
	return h.MinZoom, h.MaxZoom, nil
}

// GetTile returns the at-rest bytes for tile (z, x, y), or nil when the
// archive does not contain the tile. Tile payloads stay in the archive's
// tile compression (see Header.TileGzipped); only directories are
// decompressed. Absence is not an error: requests outside the zoom range or
// falling in a directory gap return (nil, nil).
func (r *Reader) GetTile(ctx context.Context, z, x, y int) ([]byte, error) {
	h, err := r.Header(ctx)
	if err != nil {
		return nil, err
	}

	if z < h.MinZoom || z > h.MaxZoom {
		return nil, nil
	}

	tileID, err := TileID(z, x, y)
	if err != nil {
		return nil, err
	}

	offset, length, found, err := r.resolveTile(ctx, h, tileID, h.RootDirectoryOffset, h.RootDirectoryLength, 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	return r.source.ReadRange(ctx, offset, length)
}

// resolveTile walks the directory hierarchy for tileID, returning the
// absolute byte range of the tile data.
func (r *Reader) resolveTile(ctx context.Context, h *Header, tileID, dirOffset, dirLength uint64, depth int) (offset, length uint64, found bool, err error) {
	if depth > maxDirectoryDepth {
		return 0, 0, false, fmt.Errorf("%w: depth %d", ErrDirectoryTooDeep, depth)
	}

	entries, err := r.directory(ctx, h, dirOffset, dirLength)
	if err != nil {
		return 0, 0, false, err
	}

	entry, ok := searchDirectory(entries, tileID)
	if !ok {
		return 0, 0, false, nil
	}

	if entry.RunLength == 0 {
		// Pointer to a leaf directory, offset relative to the leaf base.
		return r.resolveTile(ctx, h, tileID, h.LeafDirectoriesOffset+entry.Offset, entry.Length, depth+1)
	}
	if tileID-entry.TileID < entry.RunLength {
		return h.TileDataOffset + entry.Offset, entry.Length, true, nil
	}
	return 0, 0, false, nil
}

// directory returns the decoded entry list for a byte range, consulting the
// bounded cache first. Eviction is insertion-order: the oldest key goes when
// the cache is full. A racing decode may do duplicate work but cannot
// corrupt the cache.
func (r *Reader) directory(ctx context.Context, h *Header, offset, length uint64) ([]DirectoryEntry, error) {
	key := fmt.Sprintf("%d|%d", offset, length)

	r.cacheMu.Lock()
	if entries, ok := r.dirCache[key]; ok {
		r.cacheMu.Unlock()
		return entries, nil
	}
	r.cacheMu.Unlock()

	raw, err := r.source.ReadRange(ctx, offset, length)
	if err != nil {
		return nil, err
	}
	entries, err := decodeDirectory(decompress(raw, h.InternalCompression))
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	if _, ok := r.dirCache[key]; !ok {
		if len(r.cacheOrder) >= maxCachedDirs {
			oldest := r.cacheOrder[0]
			r.cacheOrder = r.cacheOrder[1:]
			delete(r.dirCache, oldest)
		}
		r.dirCache[key] = entries
		r.cacheOrder = append(r.cacheOrder, key)
	}
	r.cacheMu.Unlock()

	return entries, nil
}

// parseHeader decodes the 127-byte little-endian archive prefix.
func parseHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorruptArchive, len(data))
	}
	if !bytes.Equal(data[0:7], headerMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptArchive)
	}
	if version := data[7]; version != 3 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, version)
	}

	le := binary.LittleEndian
	h := &Header{
		RootDirectoryOffset:   le.Uint64(data[8:]),
		RootDirectoryLength:   le.Uint64(data[16:]),
		MetadataOffset:        le.Uint64(data[24:]),
		MetadataLength:        le.Uint64(data[32:]),
		LeafDirectoriesOffset: le.Uint64(data[40:]),
		LeafDirectoriesLength: le.Uint64(data[48:]),
		TileDataOffset:        le.Uint64(data[56:]),
		TileDataLength:        le.Uint64(data[64:]),
		NumAddressedTiles:     le.Uint64(data[72:]),
		NumTileEntries:        le.Uint64(data[80:]),
		NumTileContents:       le.Uint64(data[88:]),
		Clustered:             data[96] == 1,
		InternalCompression:   int(data[97]),
		TileCompression:       int(data[98]),
		TileType:              int(data[99]),
		MinZoom:               int(data[100]),
		MaxZoom:               int(data[101]),
	}

	// Positions are int32 degrees scaled by 1e7.
	h.Bounds = models.BoundingBox{
		West:  float64(int32(le.Uint32(data[102:]))) / 1e7,
		South: float64(int32(le.Uint32(data[106:]))) / 1e7,
		East:  float64(int32(le.Uint32(data[110:]))) / 1e7,
		North: float64(int32(le.Uint32(data[114:]))) / 1e7,
	}
	h.CenterZoom = int(data[118])
	h.CenterLon = float64(int32(le.Uint32(data[119:]))) / 1e7
	h.CenterLat = float64(int32(le.Uint32(data[123:]))) / 1e7

	return h, nil
}

// decompress applies the archive's internal codec to a directory payload.
// Only gzip and none are supported; unrecognized codecs pass the data
// through unchanged with a warning.
func decompress(data []byte, compression int) []byte {
	switch compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open gzip stream, passing data through")
			return data
		}
		defer func() { _ = zr.Close() }()
		out, err := io.ReadAll(zr)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to decompress gzip data, passing data through")
			return data
		}
		return out
	case CompressionNone:
		return data
	default:
		log.Warn().Int("compression", compression).Msg("Unsupported compression code, passing data through")
		return data
	}
}

// fileSource reads ranges from a local archive file. ReadAt is safe for
// concurrent callers.
type fileSource struct {
	f *os.File
}

func (s *fileSource) ReadRange(_ context.Context, offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := s.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("%w: read %d+%d: %w", ErrRangeRequest, offset, length, err)
	}
	return buf, nil
}

func (s *fileSource) Close() error {
	return s.f.Close()
}

// httpSource reads ranges with HTTP Range requests against a remote archive.
type httpSource struct {
	url    string
	client *retryablehttp.Client
}

func (s *httpSource) ReadRange(ctx context.Context, offset, length uint64) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRangeRequest, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRangeRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d for %d+%d", ErrRangeRequest, resp.StatusCode, offset, length)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRangeRequest, err)
	}
	if uint64(len(data)) != length {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrRangeRequest, length, len(data))
	}
	return data, nil
}

func (s *httpSource) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}
