// Partition: one on-disk shard of a table, holding every row that
// shares a given tuple of index-field values.
//
// Mutation (Insert/Update/Remove) and durable flush (writeToFile) are
// guarded independently: mu serializes in-memory access to data, while
// writing is a single-flight latch around the disk write itself,
// matching the teacher's write_lock-as-latch-not-queue contract (spec §5)
// — a concurrent writeToFile call while one is already in flight returns
// immediately without clearing the dirty bit, and is caught by the next
// save cycle.
package partdb

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// partitionFile is the on-disk JSON shape of a Partition, per spec §6.
type partitionFile struct {
	PartitionName    string              `json:"partition_name"`
	PartitionIndices Document            `json:"partition_indices"`
	Data             map[string]Document `json:"data"`
	StorageLocation  string              `json:"storage_location"`
	PrimaryKey       string              `json:"primary_key"`
	LastUpdateDt     *string             `json:"last_update_dt"`
}

// Partition owns the rows of one table shard.
type Partition struct {
	root *os.Root

	mu               sync.Mutex
	partitionName    string
	partitionIndices Document
	primaryKey       string
	data             map[string]Document // pkKey(primary key value) -> row
	order            []string            // pkKey values in insertion order, for deterministic scans
	lastUpdateDt     time.Time
	isDirty          bool

	writing atomic.Bool // single-flight write latch (spec §5)

	doCompression   bool
	storageLocation string // directory, relative to the database root
	cfg             Config
}

// newPartition constructs a partition for the given canonical name and
// index tuple. The partition starts dirty so that a freshly inserted
// row is guaranteed to be flushed even if nothing else marks it so.
func newPartition(root *os.Root, storageLocation, partitionName string, partitionIndices Document, primaryKey string, doCompression bool, cfg Config) *Partition {
	return &Partition{
		root:             root,
		partitionName:    partitionName,
		partitionIndices: partitionIndices,
		primaryKey:       primaryKey,
		data:             make(map[string]Document),
		doCompression:    doCompression,
		storageLocation:  storageLocation,
		cfg:              cfg,
		isDirty:          true,
	}
}

func (p *Partition) fileExtension() string {
	if p.doCompression {
		return ".txt"
	}
	return ".json"
}

func (p *Partition) filePath() string {
	return p.storageLocation + "/" + p.partitionName + p.fileExtension()
}

// Rows returns a snapshot slice of every row currently in the
// partition, in insertion order (spec §4.3: find's deterministic order
// is partition name ascending, then insertion order within a partition).
func (p *Partition) Rows() []Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Document, 0, len(p.order))
	for _, key := range p.order {
		if row, ok := p.data[key]; ok {
			out = append(out, row)
		}
	}
	return out
}

// Get returns the row for pkValue, if present.
func (p *Partition) Get(pkValue any) (Document, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.data[pkKey(pkValue)]
	return row, ok
}

// Insert adds rows to the partition. Every row must already carry its
// primary key and must satisfy the partition's index tuple (the
// caller, Table, is responsible for routing correctly — Insert only
// enforces the primary-key invariants, per spec §4.2).
func (p *Partition) Insert(rows []Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, row := range rows {
		pk, ok := Get(row, p.primaryKey)
		if !ok {
			return ErrMissingPrimaryKey
		}
		key := pkKey(pk)
		if _, exists := p.data[key]; exists {
			return fmt.Errorf("%w: %v", ErrDuplicatePrimaryKey, pk)
		}
		p.data[key] = row
		p.order = append(p.order, key)
	}
	p.isDirty = true
	p.lastUpdateDt = now()
	return nil
}

// Update replaces the row identified by its own primary key, stripping
// each field in fieldsToDrop first (dot-path aware).
func (p *Partition) Update(row Document, fieldsToDrop []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pk, ok := Get(row, p.primaryKey)
	if !ok {
		return ErrMissingPrimaryKey
	}
	key := pkKey(pk)
	if _, exists := p.data[key]; !exists {
		return fmt.Errorf("%w: %v", ErrUnknownPrimaryKey, pk)
	}
	for _, f := range fieldsToDrop {
		DeleteField(row, f)
	}
	p.data[key] = row
	p.isDirty = true
	p.lastUpdateDt = now()
	return nil
}

// Remove deletes the row for pkValue, marking the partition dirty. A
// missing key is a no-op (Table decides whether that's an error).
func (p *Partition) Remove(pkValue any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pkKey(pkValue)
	if _, ok := p.data[key]; !ok {
		return
	}
	delete(p.data, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.isDirty = true
	p.lastUpdateDt = now()
}

// Len reports the number of rows currently in the partition.
func (p *Partition) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// writeToFile flushes the partition to disk if dirty, coalescing
// concurrent callers into at most one outstanding write (spec §5).
func (p *Partition) writeToFile() error {
	if !p.writing.CompareAndSwap(false, true) {
		return nil
	}
	defer p.writing.Store(false)

	p.mu.Lock()
	if !p.isDirty {
		p.mu.Unlock()
		return nil
	}
	p.isDirty = false
	snapshot := partitionFile{
		PartitionName:    p.partitionName,
		PartitionIndices: p.partitionIndices,
		Data:             make(map[string]Document, len(p.data)),
		StorageLocation:  p.storageLocation,
		PrimaryKey:       p.primaryKey,
	}
	for k, v := range p.data {
		snapshot.Data[k] = v
	}
	if !p.lastUpdateDt.IsZero() {
		s := p.lastUpdateDt.UTC().Format(time.RFC3339Nano)
		snapshot.LastUpdateDt = &s
	}
	path := p.filePath()
	compress := p.doCompression
	p.mu.Unlock()

	buf, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		p.markDirtyAfterFailedWrite()
		return fmt.Errorf("partdb: marshal partition %s: %w", p.partitionName, err)
	}

	if compress {
		err = writeFileAtomicGzipRoot(p.root, path, buf)
	} else {
		err = writeFileAtomicRoot(p.root, path, buf)
	}
	if err != nil {
		p.markDirtyAfterFailedWrite()
		return fmt.Errorf("partdb: write partition %s: %w", p.partitionName, err)
	}
	return nil
}

func (p *Partition) markDirtyAfterFailedWrite() {
	p.mu.Lock()
	p.isDirty = true
	p.mu.Unlock()
}

// readFromFile loads the partition's content from disk. A missing file
// leaves the partition empty — this is the cold-start case, not an
// error.
func (p *Partition) readFromFile() error {
	path := p.filePath()
	var (
		buf []byte
		err error
	)
	if p.doCompression {
		buf, err = readFileGzipRoot(p.root, path, p.cfg.MaxPartitionSize)
	} else {
		buf, err = readFileRoot(p.root, path, p.cfg.MaxPartitionSize)
	}
	if err != nil {
		return fmt.Errorf("partdb: read partition %s: %w", p.partitionName, err)
	}
	if buf == nil {
		return nil
	}

	var pf partitionFile
	if err := json.Unmarshal(buf, &pf); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptPartition, p.partitionName, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.partitionName = pf.PartitionName
	p.partitionIndices = pf.PartitionIndices
	p.storageLocation = pf.StorageLocation
	p.primaryKey = pf.PrimaryKey
	if pf.Data == nil {
		p.data = make(map[string]Document)
		p.order = nil
	} else {
		p.data = pf.Data
		p.order = make([]string, 0, len(pf.Data))
		for k := range pf.Data {
			p.order = append(p.order, k)
		}
		sort.Strings(p.order)
	}
	if pf.LastUpdateDt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *pf.LastUpdateDt); err == nil {
			p.lastUpdateDt = t
		}
	}
	p.isDirty = false
	return nil
}

// deleteFile clears in-memory data and removes the partition's file.
// A missing file is not an error.
func (p *Partition) deleteFile() error {
	p.mu.Lock()
	p.data = make(map[string]Document)
	p.order = nil
	path := p.filePath()
	p.mu.Unlock()
	return removeIfExistsRoot(p.root, path)
}

func now() time.Time {
	return time.Now()
}
