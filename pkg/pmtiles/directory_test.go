package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// encodeDirectory serializes entries in the archive's directory layout, the
// inverse of decodeDirectory. Entries must be sorted by TileID.
func encodeDirectory(entries []DirectoryEntry) []byte {
	data := appendVarint(nil, uint64(len(entries)))

	var lastID uint64
	for _, e := range entries {
		data = appendVarint(data, e.TileID-lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		data = appendVarint(data, e.RunLength)
	}
	for _, e := range entries {
		data = appendVarint(data, e.Length)
	}

	var nextByte uint64
	for i, e := range entries {
		if i > 0 && e.Offset == nextByte {
			data = appendVarint(data, 0)
		} else {
			data = appendVarint(data, e.Offset+1)
		}
		nextByte = e.Offset + e.Length
	}
	return data
}

// DirectoryTestSuite tests the directory codec and binary search.
type DirectoryTestSuite struct {
	suite.Suite
}

// TestVarintRoundTrip tests that encoding and decoding representative values
// reproduces both the value and the byte sequence.
func (s *DirectoryTestSuite) TestVarintRoundTrip() {
	values := []uint64{0, 1, 127, 128, 300, 16383, 16384, 1 << 32, 1<<64 - 1}
	for _, v := range values {
		encoded := appendVarint(nil, v)
		got, pos, err := readVarint(encoded, 0)
		s.Require().NoError(err)
		s.Equal(v, got)
		s.Equal(len(encoded), pos)

		// Re-encoding the decoded value reproduces the bytes.
		s.Equal(encoded, appendVarint(nil, got))
	}
}

// TestVarintTruncated tests that a missing terminator byte is an error.
func (s *DirectoryTestSuite) TestVarintTruncated() {
	_, _, err := readVarint([]byte{0x80, 0x80}, 0)
	s.ErrorIs(err, ErrCorruptArchive)
}

// TestVarintOverflow tests that values wider than 64 bits are rejected.
func (s *DirectoryTestSuite) TestVarintOverflow() {
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, _, err := readVarint(data, 0)
	s.ErrorIs(err, ErrCorruptArchive)
}

// TestDirectoryRoundTrip tests that serialized directories decode to the
// original entries and re-encode to the identical bytes.
func (s *DirectoryTestSuite) TestDirectoryRoundTrip() {
	entries := []DirectoryEntry{
		{TileID: 5, RunLength: 1, Offset: 0, Length: 100},
		{TileID: 6, RunLength: 3, Offset: 100, Length: 50},   // contiguous
		{TileID: 42, RunLength: 1, Offset: 1000, Length: 64}, // gap in the data section
		{TileID: 43, RunLength: 0, Offset: 0, Length: 256},   // leaf pointer
	}

	encoded := encodeDirectory(entries)
	decoded, err := decodeDirectory(encoded)
	s.Require().NoError(err)
	s.Equal(entries, decoded)

	s.Equal(encoded, encodeDirectory(decoded))
}

// TestDirectoryEmpty tests decoding a directory with zero entries.
func (s *DirectoryTestSuite) TestDirectoryEmpty() {
	decoded, err := decodeDirectory(encodeDirectory(nil))
	s.Require().NoError(err)
	s.Empty(decoded)
}

// TestDirectoryTruncated tests that a directory cut short mid-array errors.
func (s *DirectoryTestSuite) TestDirectoryTruncated() {
	entries := []DirectoryEntry{
		{TileID: 1, RunLength: 1, Offset: 0, Length: 10},
		{TileID: 2, RunLength: 1, Offset: 10, Length: 10},
	}
	encoded := encodeDirectory(entries)
	_, err := decodeDirectory(encoded[:len(encoded)-3])
	s.ErrorIs(err, ErrCorruptArchive)
}

// TestDirectoryBogusCount tests that an absurd entry count is rejected
// before any allocation.
func (s *DirectoryTestSuite) TestDirectoryBogusCount() {
	data := appendVarint(nil, 1<<40)
	_, err := decodeDirectory(data)
	s.ErrorIs(err, ErrCorruptArchive)
}

// TestSearchExactAndRuns tests that the search lands on the run-covering
// entry for IDs inside a run and on the preceding entry inside gaps.
func (s *DirectoryTestSuite) TestSearchExactAndRuns() {
	entries := []DirectoryEntry{
		{TileID: 10, RunLength: 5, Offset: 0, Length: 100},
		{TileID: 30, RunLength: 1, Offset: 100, Length: 50},
	}

	// Exact hit.
	e, ok := searchDirectory(entries, 10)
	s.True(ok)
	s.Equal(uint64(10), e.TileID)

	// Strictly inside the run: search still resolves to the run's entry.
	for id := uint64(11); id <= 14; id++ {
		e, ok = searchDirectory(entries, id)
		s.True(ok)
		s.Equal(uint64(10), e.TileID)
	}

	// In the gap between runs the preceding entry is returned; run-length
	// arithmetic at the caller decides the tile is absent.
	e, ok = searchDirectory(entries, 20)
	s.True(ok)
	s.Equal(uint64(10), e.TileID)
	s.GreaterOrEqual(uint64(20)-e.TileID, e.RunLength)
}

// TestSearchBeforeFirstEntry tests that IDs smaller than every entry report
// absence.
func (s *DirectoryTestSuite) TestSearchBeforeFirstEntry() {
	entries := []DirectoryEntry{
		{TileID: 10, RunLength: 5},
	}
	_, ok := searchDirectory(entries, 9)
	s.False(ok)

	_, ok = searchDirectory(nil, 0)
	s.False(ok)
}

// TestDirectoryTestSuite runs the directory test suite.
func TestDirectoryTestSuite(t *testing.T) {
	suite.Run(t, new(DirectoryTestSuite))
}
