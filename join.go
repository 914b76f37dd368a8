// Join: declarative cross-table traversal over a Database's declared
// connections, with per-parent predicate push-down so a child table
// is only ever queried for the rows its parent actually needs.
package partdb

import (
	"fmt"
	"sort"
)

// tableJoinState holds one table's rows for the duration of a single
// Join call, plus the indexes/groups needed to nest it under — or
// attach children to — its neighbors in the traversal.
type tableJoinState struct {
	rows         []Document
	indexByField map[string]map[any]Document
	groupByField map[string]map[any][]Document
}

// highestParent picks the root of the join traversal: the table among
// tableNames that is not the "many" side of a many_to_one connection
// to another requested table. If more than one candidate qualifies,
// any candidate the caller supplied a query addon for breaks the tie;
// if none of them have one, or every table has a parent within the
// requested set (a cycle), ErrAmbiguousJoinRoot is returned rather
// than silently guessing, unlike the original implementation this was
// distilled from.
func highestParent(db *Database, tableNames []string, queryAddons map[string]map[string]any) (string, error) {
	requested := make(map[string]bool, len(tableNames))
	for _, n := range tableNames {
		requested[n] = true
	}

	withoutParent := make(map[string]bool, len(requested))
	for n := range requested {
		withoutParent[n] = true
	}

	for _, name := range tableNames {
		table, ok := db.Table(name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownTable, name)
		}
		for connectedName, conn := range table.Connections() {
			if conn.JoinType == ManyToOne && requested[connectedName] {
				delete(withoutParent, name)
			}
		}
	}

	switch len(withoutParent) {
	case 0:
		return "", fmt.Errorf("%w: every requested table has a parent within the set", ErrAmbiguousJoinRoot)
	case 1:
		for n := range withoutParent {
			return n, nil
		}
	}

	var withAddons []string
	for n := range withoutParent {
		if _, ok := queryAddons[n]; ok {
			withAddons = append(withAddons, n)
		}
	}
	if len(withAddons) == 0 {
		candidates := make([]string, 0, len(withoutParent))
		for n := range withoutParent {
			candidates = append(candidates, n)
		}
		sort.Strings(candidates)
		return "", fmt.Errorf("%w: candidates %v", ErrAmbiguousJoinRoot, candidates)
	}
	sort.Strings(withAddons)
	return withAddons[0], nil
}

// joinForTable runs the query for tableName, then recurses into every
// declared connection still present in needed, pushing the parent's
// distinct join-key values down into the child's query as an $in
// clause before recursing — so the child table is only ever asked for
// rows the parent can actually use. The recursive call receives that
// pushed-down query (queryAddons is mutated in place for the rest of
// this traversal), unlike the original implementation, which computed
// the push-down query and then discarded it.
func joinForTable(db *Database, tableName string, needed map[string]bool, queryAddons map[string]map[string]any, tracker map[string]*tableJoinState) ([]Document, error) {
	delete(needed, tableName)

	table, ok := db.Table(tableName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}

	results, err := table.Find(queryAddons[tableName])
	if err != nil {
		return nil, err
	}
	rows := results.Rows()

	state := &tableJoinState{
		indexByField: make(map[string]map[any]Document),
		groupByField: make(map[string]map[any][]Document),
	}
	for _, field := range table.GetForeignKeysAndPrimaryKey() {
		state.indexByField[field] = IndexBy(rows, field)
		state.groupByField[field] = GroupBy(rows, field)
	}
	tracker[tableName] = state

	connections := table.Connections()
	connectedNames := make([]string, 0, len(connections))
	for name := range connections {
		connectedNames = append(connectedNames, name)
	}
	sort.Strings(connectedNames)

	for _, connectedName := range connectedNames {
		if !needed[connectedName] {
			continue
		}
		conn := connections[connectedName]
		joinKey := conn.JoinKey

		var parentJoinIDs []any
		for _, row := range rows {
			if v, ok := Get(row, joinKey); ok {
				parentJoinIDs = append(parentJoinIDs, v)
			}
		}
		parentJoinIDs = Distinct(parentJoinIDs)

		childQuery := make(map[string]any)
		for k, v := range queryAddons[connectedName] {
			childQuery[k] = v
		}
		childQuery[joinKey] = map[string]any{"$in": parentJoinIDs}
		queryAddons[connectedName] = childQuery

		if _, err := joinForTable(db, connectedName, needed, queryAddons, tracker); err != nil {
			return nil, err
		}

		childState := tracker[connectedName]
		var storeKey string
		if conn.JoinType == ManyToOne {
			storeKey = connectedName
			NestChildren(rows, childState.indexByField[joinKey], joinKey, storeKey)
		} else {
			storeKey = connectedName + "s"
			NestChildren(rows, childState.groupByField[joinKey], joinKey, storeKey)
		}
	}

	state.rows = rows
	return rows, nil
}

// Join runs a declarative cross-table join rooted at the traversal's
// true parent table, nesting each connected table's rows under its
// parent (many_to_one as a singular object at "<table>"; one_to_many
// and one_to_one both as a list at "<table>s").
// includeTableNames lists every other table that participates;
// queryAddons supplies an optional per-table filter applied before any
// push-down or nesting. If the traversal's computed root differs from
// baseTable (baseTable itself has a parent among the requested
// tables), the join is run again rooted at baseTable so the caller
// always gets results shaped from the table they asked for.
func Join(db *Database, baseTable string, includeTableNames []string, queryAddons map[string]map[string]any) (Results, error) {
	if _, ok := db.Table(baseTable); !ok {
		return Results{}, fmt.Errorf("%w: %s", ErrUnknownTable, baseTable)
	}

	needed := map[string]bool{baseTable: true}
	for _, n := range includeTableNames {
		needed[n] = true
	}
	names := make([]string, 0, len(needed))
	for n := range needed {
		names = append(names, n)
	}

	if queryAddons == nil {
		queryAddons = make(map[string]map[string]any)
	}

	root, err := highestParent(db, names, queryAddons)
	if err != nil {
		return Results{}, err
	}

	rows, err := joinForTable(db, root, cloneSet(needed), queryAddons, make(map[string]*tableJoinState))
	if err != nil {
		return Results{}, err
	}

	if root != baseTable {
		rows, err = joinForTable(db, baseTable, cloneSet(needed), queryAddons, make(map[string]*tableJoinState))
		if err != nil {
			return Results{}, err
		}
	}

	return NewResults(rows), nil
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
