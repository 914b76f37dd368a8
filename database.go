// Database: the registry of tables, their declared connections, and
// the catalog that lets a whole database round-trip through disk.
package partdb

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
)

// databaseCatalog is the on-disk JSON shape of a Database's catalog file.
type databaseCatalog struct {
	DbName          string         `json:"dbname"`
	Tables          []tableSummary `json:"tables"`
	OutputFilePath  string         `json:"output_file_path"`
	StorageLocation string         `json:"storage_location"`
	DoCompression   bool           `json:"do_compression"`
}

// tableSummary is the database catalog's per-table entry: just enough
// to recreate the table via AddTable before it loads its own catalog.
type tableSummary struct {
	TableName  string   `json:"table_name"`
	Indices    []string `json:"indices"`
	PrimaryKey string   `json:"primary_key"`
}

// Database is the top-level handle applications open: a named
// collection of Tables sharing one sandboxed directory tree.
type Database struct {
	root *os.Root
	cfg  Config

	dbname          string
	folderPath      string
	doCompression   bool
	storageLocation string
	outputFilePath  string

	mu     sync.RWMutex
	tables map[string]*Table
}

// Open opens (or prepares to create) a database rooted at folderPath.
// The directory is sandboxed via os.Root: no table or partition file
// this Database touches can ever resolve outside folderPath.
func Open(folderPath, dbname string, doCompression bool, cfg Config) (*Database, error) {
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		return nil, fmt.Errorf("partdb: create database directory %s: %w", folderPath, err)
	}
	root, err := os.OpenRoot(folderPath)
	if err != nil {
		return nil, fmt.Errorf("partdb: open database root %s: %w", folderPath, err)
	}
	db := &Database{
		root:            root,
		cfg:             cfg.withDefaults(),
		dbname:          dbname,
		folderPath:      folderPath,
		doCompression:   doCompression,
		storageLocation: dbname,
		outputFilePath:  dbname + "/_" + dbname + ".json",
		tables:          make(map[string]*Table),
	}
	return db, nil
}

// Name returns the database's name.
func (db *Database) Name() string { return db.dbname }

// AddTable registers a new table, or returns the existing one if name
// is already registered (idempotent, matching spec §4.4's create-or-get
// contract).
func (db *Database) AddTable(name string, indices []string, primaryKey string, deleteKeyList []string) (*Table, error) {
	if name == "" {
		return nil, ErrMissingTableName
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.tables[name]; ok {
		return existing, nil
	}
	t := newTable(db.root, db.storageLocation, name, indices, primaryKey, deleteKeyList, db.doCompression, db.cfg)
	db.tables[name] = t
	return t, nil
}

// Table returns a registered table by name.
func (db *Database) Table(name string) (*Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// TableNames returns every registered table name, sorted.
func (db *Database) TableNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for n := range db.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddConnection declares a join-key edge from one table to another,
// and — unless oneWay is set — its inverse edge back, so the join
// engine can traverse in either direction from a connected table.
func (db *Database) AddConnection(fromTable, toTable, joinKey string, joinType JoinType, oneWay bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	from, ok := db.tables[fromTable]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, fromTable)
	}
	to, ok := db.tables[toTable]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, toTable)
	}

	from.mu.Lock()
	from.tableConnections[toTable] = TableConnection{JoinKey: joinKey, JoinType: joinType}
	from.mu.Unlock()

	if !oneWay {
		to.mu.Lock()
		to.tableConnections[fromTable] = TableConnection{JoinKey: joinKey, JoinType: joinType.inverse()}
		to.mu.Unlock()
	}

	log.Printf("partdb: connected %s -> %s on %s (%s)", fromTable, toTable, joinKey, joinType)
	return nil
}

// SaveDatabase flushes every table (and, transitively, every
// partition) and then writes the database catalog. The catalog is
// written last so that a crash mid-save never leaves a catalog
// pointing at tables whose data was never made durable — the same
// durability ordering Table.outputToFile applies one level down
// (spec §5). This differs from the original implementation, which
// wrote its top-level catalog first; we deliberately reorder it here.
func (db *Database) SaveDatabase() error {
	db.mu.RLock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	tables := make([]*Table, len(names))
	for i, name := range names {
		tables[i] = db.tables[name]
	}
	db.mu.RUnlock()

	errs := make([]error, len(tables))
	var wg sync.WaitGroup
	wg.Add(len(tables))
	for i, t := range tables {
		go func(i int, t *Table) {
			defer wg.Done()
			errs[i] = t.outputToFile()
		}(i, t)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	summaries := make([]tableSummary, len(tables))
	for i, t := range tables {
		t.mu.RLock()
		summaries[i] = tableSummary{
			TableName:  t.tableName,
			Indices:    t.indices,
			PrimaryKey: t.primaryKey,
		}
		t.mu.RUnlock()
	}

	catalog := databaseCatalog{
		DbName:          db.dbname,
		Tables:          summaries,
		OutputFilePath:  db.outputFilePath,
		StorageLocation: db.storageLocation,
		DoCompression:   db.doCompression,
	}
	buf, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("partdb: marshal database catalog %s: %w", db.dbname, err)
	}
	return writeFileAtomicRoot(db.root, db.outputFilePath, buf)
}

// ReadFromFile loads the database catalog and every table it names. A
// missing catalog is not an error: it means this is a brand-new
// database with no persisted state yet.
func (db *Database) ReadFromFile() error {
	buf, err := readFileRoot(db.root, db.outputFilePath, db.cfg.MaxPartitionSize)
	if err != nil {
		return fmt.Errorf("partdb: read database catalog %s: %w", db.dbname, err)
	}
	if buf == nil {
		return nil
	}

	var catalog databaseCatalog
	if err := json.Unmarshal(buf, &catalog); err != nil {
		return fmt.Errorf("partdb: corrupt database catalog %s: %w", db.dbname, err)
	}

	db.mu.Lock()
	db.storageLocation = catalog.StorageLocation
	db.doCompression = catalog.DoCompression
	tables := make([]*Table, 0, len(catalog.Tables))
	for _, summary := range catalog.Tables {
		t, ok := db.tables[summary.TableName]
		if !ok {
			t = newTable(db.root, db.storageLocation, summary.TableName, summary.Indices, summary.PrimaryKey, nil, db.doCompression, db.cfg)
			db.tables[summary.TableName] = t
		}
		tables = append(tables, t)
	}
	db.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(tables))
	wg.Add(len(tables))
	for i, t := range tables {
		go func(i int, t *Table) {
			defer wg.Done()
			errs[i] = t.readFromFile()
		}(i, t)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
