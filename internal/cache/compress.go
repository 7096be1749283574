package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how cached blocks are framed in memory or on disk.
// Compression stretches the cache capacity at the cost of a decompression
// on every hit; LZ4 favors speed, ZSTD favors ratio.
type Codec uint8

const (
	// CodecNone stores blocks uncompressed.
	CodecNone Codec = iota
	// CodecLZ4 applies LZ4 block compression (fast, moderate ratio).
	CodecLZ4
	// CodecZSTD applies ZSTD block compression (slower, better ratio).
	CodecZSTD
)

// Frame format: [RawSize uint32][StoredSize uint32][Data...], little
// endian. StoredSize == 0 means Data is raw; compression that does not pay
// for itself (ratio above 0.9) falls back to the raw form.
const frameHeaderSize = 8

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Encode frames data for storage. The returned frame is freshly allocated,
// so caches never retain the caller's buffer.
func (c Codec) Encode(data []byte) ([]byte, error) {
	var compressed []byte
	var err error

	switch c {
	case CodecNone:
	case CodecLZ4:
		compressed, err = encodeLZ4(data)
	case CodecZSTD:
		compressed, err = encodeZSTD(data)
	default:
		return nil, fmt.Errorf("cache: unknown codec %d", c)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		frame := make([]byte, frameHeaderSize+len(data))
		binary.LittleEndian.PutUint32(frame[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(frame[4:], 0) // 0 = raw
		copy(frame[frameHeaderSize:], data)
		return frame, nil
	}

	frame := make([]byte, frameHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(compressed)))
	copy(frame[frameHeaderSize:], compressed)
	return frame, nil
}

// Decode recovers the raw block from a frame produced by [Codec.Encode].
func (c Codec) Decode(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, errors.New("cache: frame too small for header")
	}

	rawSize := binary.LittleEndian.Uint32(frame[0:])
	storedSize := binary.LittleEndian.Uint32(frame[4:])

	if storedSize == 0 {
		if uint32(len(frame)) < frameHeaderSize+rawSize {
			return nil, errors.New("cache: truncated raw frame")
		}
		return frame[frameHeaderSize : frameHeaderSize+rawSize], nil
	}

	if uint32(len(frame)) < frameHeaderSize+storedSize {
		return nil, errors.New("cache: truncated compressed frame")
	}
	stored := frame[frameHeaderSize : frameHeaderSize+storedSize]
	out := make([]byte, rawSize)

	switch c {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawSize {
			return nil, errors.New("cache: decompressed size mismatch")
		}
		return out, nil

	case CodecZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(stored, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != rawSize {
			return nil, errors.New("cache: decompressed size mismatch")
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("cache: frame is compressed but codec is %d", c)
	}
}

func encodeLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return compressed[:n], nil
}

func encodeZSTD(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil), nil
}
