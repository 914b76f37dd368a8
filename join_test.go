// Join tests: root selection, push-down, and child nesting, including
// the two documented divergences from the original implementation:
// push-down is actually threaded into the recursive query, and an
// ambiguous or cyclic root raises ErrAmbiguousJoinRoot instead of
// silently guessing.
package partdb

import "testing"

// newJoinTestDB builds a customers/order database with a many_to_one
// connection from order to customers on "customer_id" — the same
// field name doubles as customers' primary key and order's foreign
// key, which is what lets join_key-based push-down and nesting work
// without a separate foreign-key-to-primary-key mapping. The table is
// named "order" (singular) rather than "orders" so the nested field
// key Join produces, "<table>s", lands on the expected "orders"
// without colliding with a table that is already plural.
func newJoinTestDB(t *testing.T) *Database {
	t.Helper()
	db := openTestDatabase(t)

	customers, err := db.AddTable("customers", nil, "customer_id", nil)
	if err != nil {
		t.Fatalf("AddTable(customers): %v", err)
	}
	orders, err := db.AddTable("order", nil, "order_id", nil)
	if err != nil {
		t.Fatalf("AddTable(order): %v", err)
	}

	if err := customers.Insert(
		Document{"customer_id": 1, "name": "Ada"},
		Document{"customer_id": 2, "name": "Grace"},
	); err != nil {
		t.Fatalf("Insert customers: %v", err)
	}
	if err := orders.Insert(
		Document{"order_id": 100, "customer_id": 1, "item": "Book"},
		Document{"order_id": 101, "customer_id": 1, "item": "Pen"},
		Document{"order_id": 102, "customer_id": 2, "item": "Mug"},
	); err != nil {
		t.Fatalf("Insert orders: %v", err)
	}

	if err := db.AddConnection("order", "customers", "customer_id", ManyToOne, false); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	return db
}

func TestJoinOneToManyNestsPlural(t *testing.T) {
	db := newJoinTestDB(t)

	results, err := Join(db, "customers", []string{"order"}, nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if results.Len() != 2 {
		t.Fatalf("Join returned %d customers, want 2", results.Len())
	}

	byID := IndexBy(results.Rows(), "customer_id")
	ada := byID[1]
	orders, ok := ada["orders"].([]Document)
	if !ok {
		t.Fatalf("customer 1's orders field is %T, want []Document", ada["orders"])
	}
	if len(orders) != 2 {
		t.Errorf("customer 1 has %d nested orders, want 2", len(orders))
	}

	grace := byID[2]
	graceOrders, ok := grace["orders"].([]Document)
	if !ok || len(graceOrders) != 1 {
		t.Errorf("customer 2's nested orders = %v, want a single-element list", grace["orders"])
	}
}

func TestJoinManyToOneNestsSingular(t *testing.T) {
	db := newJoinTestDB(t)

	results, err := Join(db, "order", []string{"customers"}, nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if results.Len() != 3 {
		t.Fatalf("Join returned %d orders, want 3", results.Len())
	}

	byID := IndexBy(results.Rows(), "order_id")
	order100 := byID[100]
	customer, ok := order100["customers"].(Document)
	if !ok {
		t.Fatalf("order 100's customers field is %T, want a Document", order100["customers"])
	}
	if customer["name"] != "Ada" {
		t.Errorf("order 100's nested customer = %v, want name=Ada", customer)
	}
}

func TestJoinPushesDownParentKeysToChildQuery(t *testing.T) {
	db := newJoinTestDB(t)

	// The nested result alone looks the same with or without push-down,
	// since orders are only attached to the customer whose id they carry.
	// So besides the nesting, this test checks the composed child query
	// directly: Join writes it back into the caller's queryAddons map.
	addons := map[string]map[string]any{
		"order": {"item": "Mug"},
	}
	results, err := Join(db, "customers", []string{"order"}, addons)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	pushed, ok := addons["order"]["customer_id"].(map[string]any)
	if !ok {
		t.Fatalf("order query after Join = %v, want a customer_id $in clause", addons["order"])
	}
	if ids, _ := pushed["$in"].([]any); len(ids) != 2 || addons["order"]["item"] != "Mug" {
		t.Errorf("order query after Join = %v, want item=Mug and customer_id $in [1 2]", addons["order"])
	}

	byID := IndexBy(results.Rows(), "customer_id")
	ada := byID[1]
	if orders, ok := ada["orders"].([]Document); ok && len(orders) != 0 {
		t.Errorf("customer 1 has nested orders %v despite the Mug-only addon, want none", orders)
	}
	grace := byID[2]
	orders, ok := grace["orders"].([]Document)
	if !ok || len(orders) != 1 || orders[0]["item"] != "Mug" {
		t.Errorf("customer 2's nested orders = %v, want a single Mug order", grace["orders"])
	}
}

func TestJoinUnknownBaseTable(t *testing.T) {
	db := newJoinTestDB(t)

	if _, err := Join(db, "ghost", nil, nil); err == nil {
		t.Fatal("Join accepted an unregistered base table")
	}
}

func TestHighestParentAmbiguousCycle(t *testing.T) {
	db := openTestDatabase(t)
	db.AddTable("a", nil, "id", nil)
	db.AddTable("b", nil, "id", nil)

	// Each direction declares the other as its many_to_one parent,
	// so neither table is parentless within the requested set.
	if err := db.AddConnection("a", "b", "a_id", ManyToOne, true); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := db.AddConnection("b", "a", "a_id", ManyToOne, true); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	if _, err := highestParent(db, []string{"a", "b"}, nil); err == nil {
		t.Fatal("highestParent resolved a cycle instead of returning ErrAmbiguousJoinRoot")
	}
}

func TestHighestParentTieBrokenByQueryAddon(t *testing.T) {
	db := openTestDatabase(t)
	db.AddTable("a", nil, "id", nil)
	db.AddTable("b", nil, "id", nil)
	// No connections at all: both a and b are parentless.

	root, err := highestParent(db, []string{"a", "b"}, map[string]map[string]any{"b": {"id": 1}})
	if err != nil {
		t.Fatalf("highestParent: %v", err)
	}
	if root != "b" {
		t.Errorf("highestParent = %q, want b (the table with a query addon)", root)
	}
}

func TestHighestParentTieBrokenByAnyQueryAddon(t *testing.T) {
	db := openTestDatabase(t)
	db.AddTable("a", nil, "id", nil)
	db.AddTable("b", nil, "id", nil)
	// Both a and b are parentless and both carry a query addon: spec.md
	// says to prefer any member that appears in query_addons, not to
	// fail just because more than one does.

	root, err := highestParent(db, []string{"a", "b"}, map[string]map[string]any{
		"a": {"id": 1},
		"b": {"id": 2},
	})
	if err != nil {
		t.Fatalf("highestParent: %v", err)
	}
	if root != "a" && root != "b" {
		t.Errorf("highestParent = %q, want a or b", root)
	}
}

func TestHighestParentAmbiguousWithoutTiebreak(t *testing.T) {
	db := openTestDatabase(t)
	db.AddTable("a", nil, "id", nil)
	db.AddTable("b", nil, "id", nil)

	if _, err := highestParent(db, []string{"a", "b"}, nil); err == nil {
		t.Fatal("highestParent resolved two parentless tables with no addon to break the tie")
	}
}
