// Package partdb is an embedded, partitioned, document-oriented data
// store with declarative cross-table joins.
//
// A Database owns a set of Tables. Each Table routes rows across
// Partitions by the values of its declared index fields, so that a
// query naming an index field prunes to the partitions that can
// possibly hold a match before falling back to a row scan. Tables
// declare Connections to one another (one_to_one, one_to_many,
// many_to_one); the Join function walks those connections and nests
// child rows under their parents.
//
// The store is file-backed: every Database lives under
// folder_path/dbname, with one JSON (or gzip'd JSON) file per
// partition, a catalog file per table, and a catalog file for the
// database itself. It has no external engine dependency and no SQL
// surface — queries are clause maps, e.g.
//
//	table.Find(Q{"country": "US", "age": Gte(21)})
//
// A single Database directory must not be written concurrently by
// more than one process; within a process all exported methods are
// safe for concurrent use.
package partdb
