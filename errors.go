package partdb

import "errors"

// Sentinel errors returned by database operations.
var (
	// ErrMissingTableName is returned when AddTable is called with an empty name.
	ErrMissingTableName = errors.New("partdb: table name is required")

	// ErrUnknownTable is returned when a connection or join references a table that was never added.
	ErrUnknownTable = errors.New("partdb: unknown table")

	// ErrAmbiguousJoinRoot is returned when a join's requested table set has more
	// than one table without a many_to_one edge to another requested table, and
	// none of them carry a query addon to break the tie.
	ErrAmbiguousJoinRoot = errors.New("partdb: ambiguous join root")

	// ErrMissingPrimaryKey is returned when an inserted row lacks its primary key field.
	ErrMissingPrimaryKey = errors.New("partdb: row is missing its primary key")

	// ErrDuplicatePrimaryKey is returned when an inserted row collides with an existing one in its partition.
	ErrDuplicatePrimaryKey = errors.New("partdb: duplicate primary key")

	// ErrUnknownPrimaryKey is returned when an update names a row that doesn't exist.
	ErrUnknownPrimaryKey = errors.New("partdb: unknown primary key")

	// ErrUnsupportedQueryOperator is returned when a clause uses an unrecognized $operator.
	ErrUnsupportedQueryOperator = errors.New("partdb: unsupported query operator")

	// ErrCorruptPartition is returned when a partition file fails to parse.
	ErrCorruptPartition = errors.New("partdb: corrupt partition file")

	// ErrInvalidBetween is returned when a $between clause's argument is not a 2-element sequence.
	ErrInvalidBetween = errors.New("partdb: $between requires a 2-element sequence")

	// ErrInvalidIn is returned when an $in/$nin clause's argument is not a sequence.
	ErrInvalidIn = errors.New("partdb: $in/$nin requires a sequence")

	// ErrNotComparable is returned when an ordering operator ($gt/$gte/$lt/$lte/$between) is applied
	// to values that cannot be ordered against one another.
	ErrNotComparable = errors.New("partdb: values are not comparable")

	// ErrFileTooLarge is returned when an on-disk file exceeds Config.MaxPartitionSize.
	ErrFileTooLarge = errors.New("partdb: file exceeds configured size limit")
)
