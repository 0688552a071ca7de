package pmtiles

import "fmt"

// DirectoryEntry is one decoded entry of a root or leaf directory, sorted by
// TileID. RunLength zero marks a pointer to a nested leaf directory;
// RunLength >= 1 marks a literal tile spanning that many consecutive IDs.
type DirectoryEntry struct {
	TileID    uint64
	Offset    uint64
	Length    uint64
	RunLength uint64
}

// readVarint decodes a little-endian base-128 varint starting at pos,
// returning the value and the position after it.
func readVarint(data []byte, pos int) (uint64, int, error) {
	var value uint64
	var shift uint
	for pos < len(data) {
		b := data[pos]
		pos++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, pos, nil
		}
		shift += 7
		if shift > 63 {
			return 0, pos, fmt.Errorf("%w: varint overflow", ErrCorruptArchive)
		}
	}
	return 0, pos, fmt.Errorf("%w: truncated varint", ErrCorruptArchive)
}

// appendVarint encodes a value as a little-endian base-128 varint.
func appendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// decodeDirectory parses the serialized directory layout: a varint entry
// count followed by four parallel varint arrays — delta-encoded tile IDs,
// run lengths, lengths, and offsets. A zero offset after the first entry
// means contiguous with the previous entry's span.
func decodeDirectory(data []byte) ([]DirectoryEntry, error) {
	numEntries, pos, err := readVarint(data, 0)
	if err != nil {
		return nil, err
	}
	if numEntries > uint64(len(data)) {
		return nil, fmt.Errorf("%w: directory entry count %d exceeds payload", ErrCorruptArchive, numEntries)
	}

	entries := make([]DirectoryEntry, numEntries)

	var lastID uint64
	for i := range entries {
		var delta uint64
		delta, pos, err = readVarint(data, pos)
		if err != nil {
			return nil, err
		}
		lastID += delta
		entries[i].TileID = lastID
	}

	for i := range entries {
		entries[i].RunLength, pos, err = readVarint(data, pos)
		if err != nil {
			return nil, err
		}
	}

	for i := range entries {
		entries[i].Length, pos, err = readVarint(data, pos)
		if err != nil {
			return nil, err
		}
	}

	var nextByte uint64
	for i := range entries {
		var v uint64
		v, pos, err = readVarint(data, pos)
		if err != nil {
			return nil, err
		}
		if v == 0 && i > 0 {
			entries[i].Offset = nextByte
		} else {
			entries[i].Offset = v - 1
		}
		nextByte = entries[i].Offset + entries[i].Length
	}

	return entries, nil
}

// searchDirectory finds the entry responsible for tileID: the exact match,
// or the greatest entry with TileID <= tileID. The second return is false
// when every entry is greater than the target.
func searchDirectory(entries []DirectoryEntry, tileID uint64) (DirectoryEntry, bool) {
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case entries[mid].TileID < tileID:
			lo = mid + 1
		case entries[mid].TileID > tileID:
			hi = mid - 1
		default:
			return entries[mid], true
		}
	}
	if hi >= 0 {
		return entries[hi], true
	}
	return DirectoryEntry{}, false
}
