// Partition name disambiguation.
//
// partition_name is documented (spec §4.2) as a pure function of the
// partition's index-value tuple: idx1_val1_idx2_val2... joined with
// underscores. Two distinct tuples can stringify to the same name —
// {"a": "b_c"} and {"a_b": "c"} both produce "a_b_c". PartitionNameHash
// appends a short hash of the canonical tuple so that collision is
// detectable instead of silently merging two partitions on disk.
package partdb

import (
	"fmt"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// PartitionNameHash returns an 8 hex character disambiguator for a
// canonical partition-index string using the configured algorithm.
func PartitionNameHash(canonical string, alg int) string {
	switch alg {
	case AlgFNV1a:
		h := fnv.New32a()
		h.Write([]byte(canonical))
		return fmt.Sprintf("%08x", h.Sum32())
	case AlgBlake2b:
		h, _ := blake2b.New(4, nil) // 4 bytes = 32 bits
		h.Write([]byte(canonical))
		return fmt.Sprintf("%08x", h.Sum(nil))
	case AlgXXHash3:
		fallthrough
	default:
		h := xxh3.HashString(canonical)
		return fmt.Sprintf("%08x", uint32(h))
	}
}
