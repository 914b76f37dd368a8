// Table: partition routing, query normalization, partition pruning,
// and the CRUD surface an embedding application drives directly.
package partdb

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// tableCatalog is the on-disk JSON shape of a Table's catalog file, per spec §6.
type tableCatalog struct {
	TableName        string                     `json:"table_name"`
	Indices          []string                   `json:"indices"`
	PrimaryKey       string                     `json:"primary_key"`
	PartitionNames   []string                   `json:"partition_names"`
	OutputFilePath   string                     `json:"output_file_path"`
	StorageLocation  string                     `json:"storage_location"`
	TableConnections map[string]TableConnection `json:"table_connections"`
	DoCompression    bool                       `json:"do_compression"`
}

// Table owns a set of partitions and the routing/query logic over them.
type Table struct {
	root *os.Root
	cfg  Config

	tableName       string
	primaryKey      string
	indices         []string
	deleteKeyList   []string
	doCompression   bool
	storageLocation string // relative to the database root: dbname/table_name
	outputFilePath  string // relative to the database root: dbname/table_name/_table_name.json

	mu                    sync.RWMutex
	partitionsByName      map[string]*Partition
	partitionNameByPK     map[string]string // pkKey(primary key value) -> partition name
	tableConnections      map[string]TableConnection
}

func newTable(root *os.Root, dbStorageLocation, name string, indices []string, primaryKey string, deleteKeyList []string, doCompression bool, cfg Config) *Table {
	storageLocation := dbStorageLocation + "/" + name
	return &Table{
		root:              root,
		cfg:               cfg,
		tableName:         name,
		primaryKey:        primaryKey,
		indices:           append([]string(nil), indices...),
		deleteKeyList:     append([]string(nil), deleteKeyList...),
		doCompression:     doCompression,
		storageLocation:   storageLocation,
		outputFilePath:    storageLocation + "/_" + name + ".json",
		partitionsByName:  make(map[string]*Partition),
		partitionNameByPK: make(map[string]string),
		tableConnections:  make(map[string]TableConnection),
	}
}

// Name returns the table's name.
func (t *Table) Name() string { return t.tableName }

// PrimaryKey returns the table's primary key field name.
func (t *Table) PrimaryKey() string { return t.primaryKey }

// Connections returns a copy of the table's declared connections.
func (t *Table) Connections() map[string]TableConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]TableConnection, len(t.tableConnections))
	for k, v := range t.tableConnections {
		out[k] = v
	}
	return out
}

// GetAllForeignKeys returns every join_key this table's connections declare.
func (t *Table) GetAllForeignKeys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.tableConnections))
	for _, c := range t.tableConnections {
		out = append(out, c.JoinKey)
	}
	return out
}

// GetForeignKeysAndPrimaryKey returns the distinct set of this table's
// primary key plus every connection's join_key — the fields the join
// engine needs both an IndexBy and a GroupBy over.
func (t *Table) GetForeignKeysAndPrimaryKey() []string {
	seen := map[string]bool{t.primaryKey: true}
	out := []string{t.primaryKey}
	for _, fk := range t.GetAllForeignKeys() {
		if !seen[fk] {
			seen[fk] = true
			out = append(out, fk)
		}
	}
	return out
}

// partitionIndicesFor builds the index-field -> value tuple for row,
// in the table's declared index order.
func (t *Table) partitionIndicesFor(row Document) Document {
	indices := make(Document, len(t.indices))
	for _, f := range t.indices {
		v, _ := Get(row, f)
		indices[f] = v
	}
	return indices
}

// canonicalPartitionName derives partition_name from the table's
// ordered index list and the index-value tuple, per spec §4.2:
// idx1_val1_idx2_val2..., or "default" when there are no indices.
func (t *Table) canonicalPartitionName(indices Document) string {
	if len(t.indices) == 0 {
		return "default"
	}
	parts := make([]string, 0, len(t.indices)*2)
	for _, f := range t.indices {
		parts = append(parts, f, fmt.Sprint(indices[f]))
	}
	name := strings.Join(parts, "_")
	if t.cfg.DisambiguatePartitionNames {
		// Hash a quoted field/value encoding rather than name itself, so
		// tuples that join to the same name still get different hashes.
		var canonical strings.Builder
		for _, f := range t.indices {
			fmt.Fprintf(&canonical, "%q=%q;", f, fmt.Sprint(indices[f]))
		}
		name += "_" + PartitionNameHash(canonical.String(), t.cfg.HashAlgorithm)
	}
	return name
}

// partitionFor returns the partition for the given index tuple,
// creating it lazily (spec §4.3 step 3). Caller must hold t.mu.
func (t *Table) partitionFor(indices Document) *Partition {
	name := t.canonicalPartitionName(indices)
	p, ok := t.partitionsByName[name]
	if !ok {
		p = newPartition(t.root, t.storageLocation, name, indices, t.primaryKey, t.doCompression, t.cfg)
		t.partitionsByName[name] = p
	}
	return p
}

// cleanseBeforeAlter returns a shallow-copied sequence of rows with
// every delete_key_list field removed, so downstream writes never
// touch the caller's original documents. Because the copy is shallow,
// a dotted delete key reaching into a nested map still mutates that
// nested map in place — this matches the original implementation's
// behavior and is only a concern for callers who both share nested
// sub-documents across rows and list a nested field in delete_key_list.
func (t *Table) cleanseBeforeAlter(rows []Document) []Document {
	out := make([]Document, len(rows))
	for i, row := range rows {
		cp := make(Document, len(row))
		for k, v := range row {
			cp[k] = v
		}
		for _, dk := range t.deleteKeyList {
			DeleteField(cp, dk)
		}
		out[i] = cp
	}
	return out
}

// Insert adds rows to the table, routing each to its partition by the
// table's declared index values. Rows are inserted in slice order; a
// row that fails (missing or duplicate primary key) aborts the batch,
// but rows already inserted earlier in the same call remain inserted
// (spec §8 B4) — this is not transactional.
func (t *Table) Insert(rows ...Document) error {
	cleansed := t.cleanseBeforeAlter(rows)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range cleansed {
		if err := t.insertOneLocked(row); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) insertOneLocked(row Document) error {
	pk, ok := Get(row, t.primaryKey)
	if !ok {
		return ErrMissingPrimaryKey
	}
	indices := t.partitionIndicesFor(row)
	partition := t.partitionFor(indices)
	if err := partition.Insert([]Document{row}); err != nil {
		return err
	}
	t.partitionNameByPK[pkKey(pk)] = partition.partitionName
	return nil
}

// Update moves each row to the partition matching its current index
// values. The row must already exist (identified by its primary key);
// its old partition entry is removed before the new one is inserted,
// so a row is never visible in two partitions at once. If the insert
// into the new partition fails, the row is not re-added to the old
// one — it is removed, not duplicated (spec §4.3).
func (t *Table) Update(rows ...Document) error {
	cleansed := t.cleanseBeforeAlter(rows)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range cleansed {
		pk, ok := Get(row, t.primaryKey)
		if !ok {
			return ErrMissingPrimaryKey
		}
		key := pkKey(pk)
		oldName, exists := t.partitionNameByPK[key]
		if !exists {
			return fmt.Errorf("%w: %v", ErrUnknownPrimaryKey, pk)
		}
		if oldPartition, ok := t.partitionsByName[oldName]; ok {
			oldPartition.Remove(pk)
		}
		delete(t.partitionNameByPK, key)

		if err := t.insertOneLocked(row); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes rows matching query. With no query, it is equivalent
// to Clear.
func (t *Table) Delete(query map[string]any) error {
	if len(query) == 0 {
		return t.Clear()
	}

	results, err := t.Find(query)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range results.Rows() {
		pk, ok := Get(row, t.primaryKey)
		if !ok {
			continue
		}
		key := pkKey(pk)
		name, ok := t.partitionNameByPK[key]
		if !ok {
			continue
		}
		if p, ok := t.partitionsByName[name]; ok {
			p.Remove(pk)
		}
		delete(t.partitionNameByPK, key)
	}
	return nil
}

// Clear deletes every partition's file and empties the table.
func (t *Table) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.partitionsByName {
		if err := p.deleteFile(); err != nil {
			return err
		}
	}
	t.partitionsByName = make(map[string]*Partition)
	t.partitionNameByPK = make(map[string]string)
	return nil
}

// sortedPartitions returns every partition, sorted by name for deterministic scans.
func (t *Table) sortedPartitions() []*Partition {
	names := make([]string, 0, len(t.partitionsByName))
	for n := range t.partitionsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Partition, len(names))
	for i, n := range names {
		out[i] = t.partitionsByName[n]
	}
	return out
}

// Find executes query and returns the matching rows, in deterministic
// order (partition name ascending, then insertion order within a
// partition). A nil or empty query returns every row.
func (t *Table) Find(query map[string]any) (Results, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(query) == 0 {
		var rows []Document
		for _, p := range t.sortedPartitions() {
			rows = append(rows, p.Rows()...)
		}
		return NewResults(rows), nil
	}

	normalized, err := normalizeQuery(query)
	if err != nil {
		return Results{}, err
	}

	candidates := t.sortedPartitions()

	if fq, ok := normalized[t.primaryKey]; ok {
		candidates, err = t.primaryKeyPartitionFilter(candidates, fq)
		if err != nil {
			return Results{}, err
		}
		// Unlike an index field, a partition's presence in candidates only
		// means it holds at least one targeted key, not that every row in
		// it matches — a partition can hold many distinct primary-key
		// values (e.g. when indices is empty, every row shares one
		// partition). So the primary-key clause stays in normalized and is
		// still applied during the row scan below.
	}

	for _, idxField := range t.indices {
		fq, ok := normalized[idxField]
		if !ok {
			continue
		}
		candidates, err = t.indexPartitionFilter(candidates, idxField, fq)
		if err != nil {
			return Results{}, err
		}
		delete(normalized, idxField)
	}

	var rows []Document
	for _, p := range candidates {
		rows = append(rows, p.Rows()...)
	}

	for field, fq := range normalized {
		rows, err = filterRows(rows, field, fq)
		if err != nil {
			return Results{}, err
		}
	}

	return NewResults(rows), nil
}

// FindOne returns the first matching row, or (nil, false) if none match.
func (t *Table) FindOne(query map[string]any) (Document, bool, error) {
	results, err := t.Find(query)
	if err != nil {
		return nil, false, err
	}
	if results.Len() == 0 {
		return nil, false, nil
	}
	return results.At(0), true, nil
}

// primaryKeyPartitionFilter prunes to the partitions that can hold the
// targeted primary key values. Only $eq and $in on the primary key
// support direct lookup via partitionNameByPK; every other operator
// degrades to no pruning. Either way this is an optimization only: the
// primary-key clause is never removed from the query, since a
// surviving partition can still hold rows whose key wasn't targeted —
// the row scan in Find applies it afterward regardless.
func (t *Table) primaryKeyPartitionFilter(candidates []*Partition, fq FieldQuery) ([]*Partition, error) {
	var pkValues []any
	for _, cond := range fq {
		switch cond.Op {
		case OpEq:
			pkValues = append(pkValues, cond.Value)
		case OpIn:
			seq, _ := cond.Value.([]any)
			pkValues = append(pkValues, seq...)
		default:
			// Cannot prune by this operator; keep the full candidate set.
			return candidates, nil
		}
	}

	names := make(map[string]bool)
	for _, v := range pkValues {
		if name, ok := t.partitionNameByPK[pkKey(v)]; ok {
			names[name] = true
		}
	}

	out := make([]*Partition, 0, len(names))
	for _, p := range candidates {
		if names[p.partitionName] {
			out = append(out, p)
		}
	}
	return out, nil
}

// indexPartitionFilter drops any candidate partition whose value for
// indexField fails the clause, using the partition's fixed index value
// rather than scanning its rows. This is the core of the planner: a
// query naming an index field touches only the partitions that can
// possibly match (spec §4.3).
func (t *Table) indexPartitionFilter(candidates []*Partition, indexField string, fq FieldQuery) ([]*Partition, error) {
	out := make([]*Partition, 0, len(candidates))
	for _, p := range candidates {
		v := p.partitionIndices[indexField]
		ok, err := meetsFieldQuery(v, fq)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// filterRows applies a residual (non-partition) field clause across rows.
func filterRows(rows []Document, field string, fq FieldQuery) ([]Document, error) {
	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		v, _ := Get(row, field)
		ok, err := meetsFieldQuery(v, fq)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// outputToFile flushes every partition then writes the table catalog.
// Partitions are awaited before the catalog is written so that a crash
// mid-save can never leave a catalog referencing a partition that was
// never made durable (spec §5).
func (t *Table) outputToFile() error {
	t.mu.RLock()
	partitions := t.sortedPartitions()
	catalog := tableCatalog{
		TableName:        t.tableName,
		Indices:          t.indices,
		PrimaryKey:       t.primaryKey,
		PartitionNames:   partitionNames(partitions),
		OutputFilePath:   t.outputFilePath,
		StorageLocation:  t.storageLocation,
		TableConnections: t.tableConnections,
		DoCompression:    t.doCompression,
	}
	t.mu.RUnlock()

	if err := flushPartitions(partitions); err != nil {
		return err
	}

	buf, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("partdb: marshal table catalog %s: %w", t.tableName, err)
	}
	return writeFileAtomicRoot(t.root, t.outputFilePath, buf)
}

func partitionNames(partitions []*Partition) []string {
	out := make([]string, len(partitions))
	for i, p := range partitions {
		out[i] = p.partitionName
	}
	return out
}

// flushPartitions writes every partition concurrently and returns the
// first error encountered, if any, after all writes complete.
func flushPartitions(partitions []*Partition) error {
	errs := make([]error, len(partitions))
	var wg sync.WaitGroup
	wg.Add(len(partitions))
	for i, p := range partitions {
		go func(i int, p *Partition) {
			defer wg.Done()
			errs[i] = p.writeToFile()
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// readFromFile loads the table catalog and every partition it names. A
// missing catalog is not an error — it means the table has no
// persisted state yet.
func (t *Table) readFromFile() error {
	buf, err := readFileRoot(t.root, t.outputFilePath, t.cfg.MaxPartitionSize)
	if err != nil {
		return fmt.Errorf("partdb: read table catalog %s: %w", t.tableName, err)
	}
	if buf == nil {
		return nil
	}

	var catalog tableCatalog
	if err := json.Unmarshal(buf, &catalog); err != nil {
		return fmt.Errorf("partdb: corrupt table catalog %s: %w", t.tableName, err)
	}

	t.mu.Lock()
	t.indices = catalog.Indices
	t.primaryKey = catalog.PrimaryKey
	t.storageLocation = catalog.StorageLocation
	t.doCompression = catalog.DoCompression
	if catalog.TableConnections != nil {
		t.tableConnections = catalog.TableConnections
	}
	partitions := make([]*Partition, 0, len(catalog.PartitionNames))
	for _, name := range catalog.PartitionNames {
		p := newPartition(t.root, t.storageLocation, name, Document{}, t.primaryKey, t.doCompression, t.cfg)
		t.partitionsByName[name] = p
		partitions = append(partitions, p)
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(partitions))
	wg.Add(len(partitions))
	for i, p := range partitions {
		go func(i int, p *Partition) {
			defer wg.Done()
			errs[i] = p.readFromFile()
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range partitions {
		for key := range p.data {
			t.partitionNameByPK[key] = p.partitionName
		}
	}
	return nil
}
