package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/edgecache/blobstore"
	"github.com/hupe1980/edgecache/codec"
	"github.com/hupe1980/edgecache/internal/hash"
)

var (
	// ErrEntryNotFound is returned when a key has no entry in the partition.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrStorage is the sentinel wrapped by all backend read/write failures.
	ErrStorage = errors.New("storage failure")
)

// Key is the canonical request identity an entry is stored under
// (method + absolute URL).
type Key string

// indexBlobName is the per-partition index blob. It holds the insertion-
// ordered key list and the next sequence number.
const indexBlobName = ".index"

// Store is a partitioned cache of response entries over a blob backend.
// All methods are safe for concurrent use.
type Store struct {
	backend     blobstore.Backend
	cdc         codec.Codec
	compression CompressionType
	logger      *slog.Logger

	mu    sync.Mutex
	parts map[string]*Partition
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec for newly written entries and indexes.
// Existing blobs are self-describing and unaffected.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.cdc = c
		}
	}
}

// WithCompression sets the compression for newly written entry bodies.
func WithCompression(t CompressionType) Option {
	return func(s *Store) {
		s.compression = t
	}
}

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store over the given backend.
// Defaults: codec.Default, ZSTD body compression.
func New(backend blobstore.Backend, opts ...Option) *Store {
	s := &Store{
		backend:     backend,
		cdc:         codec.Default,
		compression: CompressionZSTD,
		parts:       make(map[string]*Partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Partition is an open cache partition. Handles stay valid until the
// partition is deleted; using a handle after DeletePartition is a caller
// coordination error.
type Partition struct {
	name string

	mu      sync.RWMutex
	keys    []Key // ascending Seq = insertion order
	seqs    map[Key]uint64
	nextSeq uint64

	// present over-approximates membership by 32-bit key hash. Deletes leave
	// it untouched; false positives fall through to the backend.
	present *roaring.Bitmap
}

// Name returns the partition name.
func (p *Partition) Name() string {
	return p.name
}

// Len returns the number of entries.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.keys)
}

// persisted form of the partition index
type indexFile struct {
	Keys    []indexKey `json:"keys"`
	NextSeq uint64     `json:"next_seq"`
}

type indexKey struct {
	Key string `json:"key"`
	Seq uint64 `json:"seq"`
}

const indexMagic = "ECI1"

func entryBlobName(partition string, key Key) string {
	sum := sha256.Sum256([]byte(key))
	return partition + "/" + hex.EncodeToString(sum[:])
}

// Open opens a partition, creating it if it does not exist. The index blob is
// loaded when present, rebuilt by scanning entry blobs when missing or
// corrupt, and written back so the partition exists durably even while empty.
func (s *Store) Open(ctx context.Context, name string) (*Partition, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid partition name: %q", name)
	}

	s.mu.Lock()
	if p, ok := s.parts[name]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have opened it meanwhile; first one wins.
	if existing, ok := s.parts[name]; ok {
		return existing, nil
	}
	s.parts[name] = p
	return p, nil
}

func (s *Store) load(ctx context.Context, name string) (*Partition, error) {
	p := &Partition{
		name:    name,
		seqs:    make(map[Key]uint64),
		present: roaring.New(),
	}

	data, err := s.backend.Get(ctx, name+"/"+indexBlobName)
	switch {
	case err == nil:
		if decodeErr := s.decodeIndex(data, p); decodeErr == nil {
			return p, nil
		} else if s.logger != nil {
			s.logger.Warn("partition index corrupt, rebuilding", "partition", name, "error", decodeErr)
		}
	case errors.Is(err, blobstore.ErrNotFound):
		// fresh or index lost; rebuild below
	default:
		return nil, fmt.Errorf("%w: load index of %s: %w", ErrStorage, name, err)
	}

	if err := s.rebuild(ctx, p); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := s.writeIndexLocked(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) decodeIndex(data []byte, p *Partition) error {
	if len(data) < 4+1 {
		return fmt.Errorf("index blob too small: %d bytes", len(data))
	}
	if string(data[:4]) != indexMagic {
		return fmt.Errorf("bad index magic: %q", data[:4])
	}
	nameLen := int(data[4])
	if len(data) < 5+nameLen {
		return errors.New("index blob truncated")
	}
	cdc, ok := codec.ByName(string(data[5 : 5+nameLen]))
	if !ok {
		return fmt.Errorf("unknown index codec: %q", data[5:5+nameLen])
	}

	var idx indexFile
	if err := cdc.Unmarshal(data[5+nameLen:], &idx); err != nil {
		return fmt.Errorf("unmarshal index: %w", err)
	}

	p.keys = make([]Key, 0, len(idx.Keys))
	for _, k := range idx.Keys {
		key := Key(k.Key)
		p.keys = append(p.keys, key)
		p.seqs[key] = k.Seq
		p.present.Add(hash.CRC32C([]byte(key)))
	}
	p.nextSeq = idx.NextSeq
	return nil
}

// rebuild reconstructs the index by scanning and decoding every entry blob.
// Undecodable blobs are skipped; recovery favors serving what survives.
func (s *Store) rebuild(ctx context.Context, p *Partition) error {
	names, err := s.backend.List(ctx, p.name+"/")
	if err != nil {
		return fmt.Errorf("%w: scan %s: %w", ErrStorage, p.name, err)
	}

	type rec struct {
		key Key
		seq uint64
	}
	var recs []rec

	for _, blobName := range names {
		if strings.HasSuffix(blobName, "/"+indexBlobName) {
			continue
		}
		data, err := s.backend.Get(ctx, blobName)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unreadable entry blob", "blob", blobName, "error", err)
			}
			continue
		}
		key, entry, err := decodeEntry(data)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping undecodable entry blob", "blob", blobName, "error", err)
			}
			continue
		}
		recs = append(recs, rec{key: key, seq: entry.Seq})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	for _, r := range recs {
		p.keys = append(p.keys, r.key)
		p.seqs[r.key] = r.seq
		p.present.Add(hash.CRC32C([]byte(r.key)))
		if r.seq >= p.nextSeq {
			p.nextSeq = r.seq + 1
		}
	}
	return nil
}

func (s *Store) writeIndexLocked(ctx context.Context, p *Partition) error {
	idx := indexFile{
		Keys:    make([]indexKey, 0, len(p.keys)),
		NextSeq: p.nextSeq,
	}
	for _, key := range p.keys {
		idx.Keys = append(idx.Keys, indexKey{Key: string(key), Seq: p.seqs[key]})
	}

	payload, err := s.cdc.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal index of %s: %w", p.name, err)
	}

	name := s.cdc.Name()
	blob := make([]byte, 0, 4+1+len(name)+len(payload))
	blob = append(blob, indexMagic...)
	blob = append(blob, byte(len(name)))
	blob = append(blob, name...)
	blob = append(blob, payload...)

	if err := s.backend.Put(ctx, p.name+"/"+indexBlobName, blob); err != nil {
		return fmt.Errorf("%w: write index of %s: %w", ErrStorage, p.name, err)
	}
	return nil
}

// Get returns the entry for key, or ErrEntryNotFound.
func (s *Store) Get(ctx context.Context, p *Partition, key Key) (*Entry, error) {
	p.mu.RLock()
	mayContain := p.present.Contains(hash.CRC32C([]byte(key)))
	p.mu.RUnlock()
	if !mayContain {
		return nil, ErrEntryNotFound
	}

	data, err := s.backend.Get(ctx, entryBlobName(p.name, key))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", ErrStorage, key, err)
	}

	storedKey, entry, err := decodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", ErrStorage, key, err)
	}
	if storedKey != key {
		// 32-bit filter collision with a different key's blob name would need
		// a full SHA-256 collision; treat any mismatch as a miss.
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// Put stores the entry under key, replacing any previous entry. The store
// assigns Seq and stamps InsertedAt when zero; replaced keys move to the back
// of the insertion order. On error the previous entry stays intact.
func (s *Store) Put(ctx context.Context, p *Partition, key Key, e *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := *e
	stored.Seq = p.nextSeq
	if stored.InsertedAt.IsZero() {
		stored.InsertedAt = time.Now().UTC()
	}

	data, err := encodeEntry(key, &stored, s.cdc, s.compression)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := s.backend.Put(ctx, entryBlobName(p.name, key), data); err != nil {
		return fmt.Errorf("%w: put %q: %w", ErrStorage, key, err)
	}

	p.nextSeq++
	if _, exists := p.seqs[key]; exists {
		p.removeKeyLocked(key)
	}
	p.keys = append(p.keys, key)
	p.seqs[key] = stored.Seq
	p.present.Add(hash.CRC32C([]byte(key)))

	return s.writeIndexLocked(ctx, p)
}

// Delete removes the entry for key. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, p *Partition, key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seqs[key]; !ok {
		return nil
	}

	if err := s.backend.Delete(ctx, entryBlobName(p.name, key)); err != nil {
		return fmt.Errorf("%w: delete %q: %w", ErrStorage, key, err)
	}

	p.removeKeyLocked(key)
	return s.writeIndexLocked(ctx, p)
}

func (p *Partition) removeKeyLocked(key Key) {
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	delete(p.seqs, key)
}

// Keys returns all keys in insertion order.
func (s *Store) Keys(ctx context.Context, p *Partition) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Key, len(p.keys))
	copy(out, p.keys)
	return out, nil
}

// EnforceBound evicts oldest-inserted entries until the partition holds at
// most maxItems. It returns the number of entries evicted.
func (s *Store) EnforceBound(ctx context.Context, p *Partition, maxItems int) (int, error) {
	if maxItems < 0 {
		maxItems = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for len(p.keys) > maxItems {
		key := p.keys[0]
		if err := s.backend.Delete(ctx, entryBlobName(p.name, key)); err != nil {
			if evicted > 0 {
				_ = s.writeIndexLocked(ctx, p)
			}
			return evicted, fmt.Errorf("%w: evict %q: %w", ErrStorage, key, err)
		}
		p.removeKeyLocked(key)
		evicted++
	}

	if evicted > 0 {
		if s.logger != nil {
			s.logger.Debug("evicted entries", "partition", p.name, "evicted", evicted, "bound", maxItems)
		}
		return evicted, s.writeIndexLocked(ctx, p)
	}
	return 0, nil
}

// DeletePartition removes a partition and every blob in it. Open handles to
// the partition become invalid.
func (s *Store) DeletePartition(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.parts, name)
	s.mu.Unlock()

	if err := blobstore.DeleteAll(ctx, s.backend, name+"/"); err != nil {
		return fmt.Errorf("%w: delete partition %s: %w", ErrStorage, name, err)
	}
	return nil
}

// Partitions lists every partition that exists in storage, sorted.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	names, err := s.backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: list partitions: %w", ErrStorage, err)
	}

	set := make(map[string]struct{})
	for _, n := range names {
		if i := strings.IndexByte(n, '/'); i > 0 {
			set[n[:i]] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
