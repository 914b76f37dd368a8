// Table tests: partition routing, query planning/pruning, and
// move-aware updates.
package partdb

import (
	"os"
	"testing"
)

func openTestTable(t *testing.T, indices []string, primaryKey string) *Table {
	t.Helper()
	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	t.Cleanup(func() { root.Close() })
	return newTable(root, "testdb", "customers", indices, primaryKey, nil, false, Config{}.withDefaults())
}

func TestTableInsertRoutesByIndices(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")

	if err := table.Insert(
		Document{"id": 1, "country": "US"},
		Document{"id": 2, "country": "CA"},
	); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if len(table.partitionsByName) != 2 {
		t.Errorf("table has %d partitions, want 2 (one per country)", len(table.partitionsByName))
	}
}

func TestTableInsertMissingPrimaryKey(t *testing.T) {
	table := openTestTable(t, nil, "id")

	if err := table.Insert(Document{"country": "US"}); err == nil {
		t.Fatal("Insert accepted a row with no primary key")
	}
}

func TestTableFindNoQueryReturnsEverything(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")
	table.Insert(
		Document{"id": 1, "country": "US"},
		Document{"id": 2, "country": "CA"},
	)

	results, err := table.Find(nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 2 {
		t.Errorf("Find(nil).Len() = %d, want 2", results.Len())
	}
}

func TestTableFindPrunesByIndexField(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")
	table.Insert(
		Document{"id": 1, "country": "US"},
		Document{"id": 2, "country": "CA"},
		Document{"id": 3, "country": "US"},
	)

	results, err := table.Find(Q{"country": "US"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 2 {
		t.Errorf("Find(country=US).Len() = %d, want 2", results.Len())
	}
	for _, row := range results.Rows() {
		if row["country"] != "US" {
			t.Errorf("Find(country=US) returned a row with country=%v", row["country"])
		}
	}
}

func TestTableFindByPrimaryKeyEq(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")
	table.Insert(
		Document{"id": 1, "country": "US"},
		Document{"id": 2, "country": "CA"},
	)

	row, ok, err := table.FindOne(Q{"id": 2})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !ok || row["country"] != "CA" {
		t.Errorf("FindOne(id=2) = (%v, %v), want country=CA", row, ok)
	}
}

func TestTableFindByPrimaryKeyIn(t *testing.T) {
	table := openTestTable(t, nil, "id")
	table.Insert(Document{"id": 1}, Document{"id": 2}, Document{"id": 3})

	results, err := table.Find(Q{"id": In(1, 3)})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 2 {
		t.Errorf("Find(id in [1,3]).Len() = %d, want 2", results.Len())
	}
}

func TestTableFindResidualFieldFilter(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")
	table.Insert(
		Document{"id": 1, "country": "US", "age": 30},
		Document{"id": 2, "country": "US", "age": 17},
	)

	results, err := table.Find(Q{"country": "US", "age": Gte(18)})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 1 || results.At(0)["id"] != 1 {
		t.Errorf("Find(country=US, age>=18) = %v, want only id=1", results.Rows())
	}
}

func TestTableUpdateMovesPartitionOnIndexChange(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")
	table.Insert(Document{"id": 1, "country": "US"})

	if err := table.Update(Document{"id": 1, "country": "CA"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	results, err := table.Find(Q{"country": "US"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 0 {
		t.Errorf("row still found under old partition after Update moved it")
	}

	results, err = table.Find(Q{"country": "CA"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 1 {
		t.Errorf("Find(country=CA).Len() = %d after Update, want 1", results.Len())
	}
}

func TestTableUpdateUnknownPrimaryKey(t *testing.T) {
	table := openTestTable(t, nil, "id")

	if err := table.Update(Document{"id": 999}); err == nil {
		t.Fatal("Update accepted an unknown primary key")
	}
}

func TestTableDeleteByQuery(t *testing.T) {
	table := openTestTable(t, []string{"country"}, "id")
	table.Insert(
		Document{"id": 1, "country": "US"},
		Document{"id": 2, "country": "CA"},
	)

	if err := table.Delete(Q{"country": "US"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, _ := table.Find(nil)
	if results.Len() != 1 || results.At(0)["id"] != 2 {
		t.Errorf("Delete(country=US) left %v, want only id=2", results.Rows())
	}
}

func TestTableDeleteNoQueryClearsTable(t *testing.T) {
	table := openTestTable(t, nil, "id")
	table.Insert(Document{"id": 1}, Document{"id": 2})

	if err := table.Delete(nil); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, _ := table.Find(nil)
	if results.Len() != 0 {
		t.Errorf("Delete(nil) left %d rows, want 0", results.Len())
	}
}

func TestTableCleanseBeforeAlterStripsDeleteKeys(t *testing.T) {
	table := newTable(nil, "testdb", "customers", nil, "id", []string{"internal_note"}, false, Config{}.withDefaults())
	rows := table.cleanseBeforeAlter([]Document{{"id": 1, "internal_note": "secret"}})

	if _, ok := rows[0]["internal_note"]; ok {
		t.Error("cleanseBeforeAlter left a delete_key_list field in place")
	}
}

func TestTableOutputAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	t.Cleanup(func() { root.Close() })

	table := newTable(root, "testdb", "customers", []string{"country"}, "id", nil, false, Config{}.withDefaults())
	table.Insert(Document{"id": 1, "country": "US"}, Document{"id": 2, "country": "CA"})

	if err := table.outputToFile(); err != nil {
		t.Fatalf("outputToFile: %v", err)
	}

	reloaded := newTable(root, "testdb", "customers", nil, "", nil, false, Config{}.withDefaults())
	if err := reloaded.readFromFile(); err != nil {
		t.Fatalf("readFromFile: %v", err)
	}

	results, err := reloaded.Find(nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if results.Len() != 2 {
		t.Errorf("reloaded table has %d rows, want 2", results.Len())
	}
}
