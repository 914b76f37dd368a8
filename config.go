package partdb

// Hash algorithm constants, reused from the same three-way choice the
// corpus's on-disk stores offer for document identifiers. Here they back
// PartitionNameHash instead of a record ID.
const (
	AlgXXHash3 = 1 // Default, fastest.
	AlgFNV1a   = 2 // No external dependencies.
	AlgBlake2b = 3 // Best distribution.
)

// Config holds database-wide configuration options. A zero Config is
// valid; Open fills in documented defaults for any zero field.
type Config struct {
	// HashAlgorithm selects the algorithm used by PartitionNameHash when
	// DisambiguatePartitionNames is set. One of AlgXXHash3, AlgFNV1a,
	// AlgBlake2b. Defaults to AlgXXHash3.
	HashAlgorithm int

	// DisambiguatePartitionNames appends a short hash of the canonical
	// index-value tuple to every partition name. Off by default, which
	// keeps partition names in the documented idx1_val1_idx2_val2 form;
	// turn this on when index values might collide after stringification
	// (see PartitionNameHash).
	DisambiguatePartitionNames bool

	// ReadBuffer defaults to 64KB. No read path consults it: partition
	// and catalog files are read whole, bounded only by MaxPartitionSize.
	ReadBuffer int

	// MaxPartitionSize bounds the size of a single partition file that
	// will be read back. Defaults to 64MB.
	MaxPartitionSize int
}

func (c Config) withDefaults() Config {
	if c.HashAlgorithm == 0 {
		c.HashAlgorithm = AlgXXHash3
	}
	if c.ReadBuffer == 0 {
		c.ReadBuffer = 64 * 1024
	}
	if c.MaxPartitionSize == 0 {
		c.MaxPartitionSize = 64 * 1024 * 1024
	}
	return c
}
