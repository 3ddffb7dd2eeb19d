package cachestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/edgecache/codec"
)

// entryMagic marks a serialized cache entry (EdgeCache Entry, format 1).
const entryMagic = "ECE1"

// Entry is one cached response. Seq is assigned by the store on Put and backs
// the partition's insertion order; callers leave it zero.
type Entry struct {
	Status     int
	Header     http.Header
	Body       []byte
	InsertedAt time.Time
	Seq        uint64
}

// entryMeta is the codec-encoded portion of the wire format. The key is
// stored with the entry so a partition index can be rebuilt by scanning.
type entryMeta struct {
	Key        string      `json:"key"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	InsertedAt time.Time   `json:"inserted_at"`
	Seq        uint64      `json:"seq"`
}

// Entry wire format:
//
//	[4]byte  magic "ECE1"
//	[1]byte  codec name length
//	[n]byte  codec name
//	[1]byte  compression type
//	[4]byte  meta length (little endian)
//	[m]byte  codec-encoded entryMeta
//	[...]    body (raw for CompressionNone, compressed block otherwise)
//
// Blobs are self-describing: decode selects the codec by the stored name, so
// changing the store's default codec never breaks existing entries.
func encodeEntry(key Key, e *Entry, cdc codec.Codec, compression CompressionType) ([]byte, error) {
	name := cdc.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("codec name too long: %q", name)
	}

	meta, err := cdc.Marshal(entryMeta{
		Key:        string(key),
		Status:     e.Status,
		Header:     e.Header,
		InsertedAt: e.InsertedAt,
		Seq:        e.Seq,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal entry meta: %w", err)
	}

	body, err := compressBlock(e.Body, compression)
	if err != nil {
		return nil, fmt.Errorf("compress entry body: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + len(name) + 1 + 4 + len(meta) + len(body))
	buf.WriteString(entryMagic)
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	buf.WriteByte(byte(compression))

	var metaLen [4]byte
	binary.LittleEndian.PutUint32(metaLen[:], uint32(len(meta)))
	buf.Write(metaLen[:])
	buf.Write(meta)
	buf.Write(body)

	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Key, *Entry, error) {
	if len(data) < 4+1 {
		return "", nil, fmt.Errorf("entry blob too small: %d bytes", len(data))
	}
	if string(data[:4]) != entryMagic {
		return "", nil, fmt.Errorf("bad entry magic: %q", data[:4])
	}

	nameLen := int(data[4])
	off := 5
	if len(data) < off+nameLen+1+4 {
		return "", nil, fmt.Errorf("entry blob truncated in header")
	}
	name := string(data[off : off+nameLen])
	off += nameLen

	cdc, ok := codec.ByName(name)
	if !ok {
		return "", nil, fmt.Errorf("unknown entry codec: %q", name)
	}

	compression := CompressionType(data[off])
	off++

	metaLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if len(data) < off+metaLen {
		return "", nil, fmt.Errorf("entry blob truncated in meta")
	}

	var meta entryMeta
	if err := cdc.Unmarshal(data[off:off+metaLen], &meta); err != nil {
		return "", nil, fmt.Errorf("unmarshal entry meta: %w", err)
	}
	off += metaLen

	body, err := decompressBlock(data[off:], compression)
	if err != nil {
		return "", nil, fmt.Errorf("decompress entry body: %w", err)
	}
	// Own the bytes; decompressBlock may alias the input for raw blocks.
	owned := make([]byte, len(body))
	copy(owned, body)

	return Key(meta.Key), &Entry{
		Status:     meta.Status,
		Header:     meta.Header,
		Body:       owned,
		InsertedAt: meta.InsertedAt,
		Seq:        meta.Seq,
	}, nil
}
