// Package segment persists index snapshots as a single file: a fixed 64-byte
// little-endian header followed by an optionally zstd-compressed JSON payload.
// Files are replaced atomically and loaded in one read.
package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/klauspost/compress/zstd"
)

const (
	MagicBytes    uint32 = 0x52534958 // "RSIX"
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
)

const (
	flagStemming uint32 = 1 << iota
	flagZstd
)

// Compression selects how the payload is stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Header is the fixed-size file prefix.
type Header struct {
	Magic            uint32
	Version          uint32
	Flags            uint32
	DocCount         uint32
	TermCount        uint32
	Checksum         uint32
	CreatedAt        int64
	Generation       uint64
	PayloadSize      uint64
	AverageDocLength float64
	RawSize          uint64
}

func (h Header) Stemming() bool { return h.Flags&flagStemming != 0 }

func (h Header) Compressed() bool { return h.Flags&flagZstd != 0 }

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.Flags)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint32(b[16:20], h.TermCount)
	binary.LittleEndian.PutUint32(b[20:24], h.Checksum)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], h.Generation)
	binary.LittleEndian.PutUint64(b[40:48], h.PayloadSize)
	binary.LittleEndian.PutUint64(b[48:56], math.Float64bits(h.AverageDocLength))
	binary.LittleEndian.PutUint64(b[56:64], h.RawSize)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("file too short for header: %d bytes", len(b))
	}
	h := Header{
		Magic:            binary.LittleEndian.Uint32(b[0:4]),
		Version:          binary.LittleEndian.Uint32(b[4:8]),
		Flags:            binary.LittleEndian.Uint32(b[8:12]),
		DocCount:         binary.LittleEndian.Uint32(b[12:16]),
		TermCount:        binary.LittleEndian.Uint32(b[16:20]),
		Checksum:         binary.LittleEndian.Uint32(b[20:24]),
		CreatedAt:        int64(binary.LittleEndian.Uint64(b[24:32])),
		Generation:       binary.LittleEndian.Uint64(b[32:40]),
		PayloadSize:      binary.LittleEndian.Uint64(b[40:48]),
		AverageDocLength: math.Float64frombits(binary.LittleEndian.Uint64(b[48:56])),
		RawSize:          binary.LittleEndian.Uint64(b[56:64]),
	}
	if h.Magic != MagicBytes {
		return Header{}, fmt.Errorf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("unsupported format version %d", h.Version)
	}
	return h, nil
}

// payload is the JSON body of an index file.
type payload struct {
	Terms                 map[string]index.PostingList `json:"terms"`
	Documents             map[string]index.DocMeta     `json:"documents"`
	DocumentCount         int                          `json:"document_count"`
	AverageDocumentLength float64                      `json:"average_document_length"`
}

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("segment: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("segment: zstd decoder initialization failed: " + err.Error())
	}
}
