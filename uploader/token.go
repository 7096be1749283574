package uploader

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// TokenSize is the size of a resume token in bytes.
const TokenSize = 4

// EncodeToken encodes a chunk count as a resume token: the count as a
// 4-byte little-endian signed integer.
func EncodeToken(count int32) []byte {
	token := make([]byte, TokenSize)
	binary.LittleEndian.PutUint32(token, uint32(count))
	return token
}

// DecodeToken decodes a resume token back into a chunk count. Nil tokens,
// tokens shorter than [TokenSize] and negative counts all decode to zero:
// an unusable token restarts the upload from the first chunk.
func DecodeToken(token []byte) int32 {
	if len(token) < TokenSize {
		return 0
	}
	count := int32(binary.LittleEndian.Uint32(token))
	if count < 0 {
		return 0
	}
	return count
}

// BlockID derives the backing-store block ID for a chunk index: the base64
// form of the index's 4-byte little-endian encoding. IDs depend on the
// index alone, so the full ordered ID list can be regenerated from a chunk
// count without retaining per-chunk state.
func BlockID(index int32) string {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(index))
	return base64.StdEncoding.EncodeToString(buf)
}

// ParseBlockID recovers the chunk index from a block ID produced by
// [BlockID].
func ParseBlockID(id string) (int32, error) {
	buf, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return 0, fmt.Errorf("uploader: malformed block ID %q: %w", id, err)
	}
	if len(buf) != 4 {
		return 0, fmt.Errorf("uploader: malformed block ID %q: %d bytes, want 4", id, len(buf))
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// BlockIDs regenerates the ordered block ID list for the first count
// chunks, ready to be passed to a store's CommitBlockList.
func BlockIDs(count int32) []string {
	ids := make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		ids = append(ids, BlockID(i))
	}
	return ids
}
