// Dot-path document access, set-like helpers, and cycle-safe deep
// copy/equality over the JSON-like value graph documents are built from.
package partdb

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Document is an arbitrary mapping from string key to value. Values may
// be nested Documents, []any sequences, or scalars (string, float64,
// int, bool, nil). Decoded JSON naturally fits this shape.
type Document map[string]any

// Get resolves a dot-delimited path against doc. It returns (nil, false)
// if any segment is missing or an intermediate value is not a Document.
func Get(doc Document, path string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		m, ok := asDocument(cur)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// GetOr is Get with a default value substituted for absence.
func GetOr(doc Document, path string, def any) any {
	if v, ok := Get(doc, path); ok {
		return v
	}
	return def
}

// Set writes v at the dot-delimited path in doc, creating intermediate
// Documents as needed. The final segment is overwritten unconditionally.
func Set(doc Document, path string, v any) {
	segments := strings.Split(path, ".")
	cur := doc
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = v
			return
		}
		next, ok := asDocument(cur[seg])
		if !ok {
			next = Document{}
			cur[seg] = next
		}
		cur = next
	}
}

// asDocument normalizes the two shapes a nested value can arrive in:
// a Document (our own type) or a map[string]any (e.g. straight off
// encoding/json.Unmarshal into `any`).
func asDocument(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return Document(m), true
	default:
		return nil, false
	}
}

// Distinct returns vals with order-preserving deduplication by deep
// equality. Suitable for the small id lists join push-down produces.
func Distinct(vals []any) []any {
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		dup := false
		for _, seen := range out {
			if deepEqual(v, seen, nil) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// IndexBy builds a mapping from the value at field to the row holding
// it. Callers must only use this on fields known unique per row — the
// last writer wins on collision, silently.
func IndexBy(rows []Document, field string) map[any]Document {
	out := make(map[any]Document, len(rows))
	for _, row := range rows {
		if v, ok := Get(row, field); ok {
			out[v] = row
		}
	}
	return out
}

// GroupBy builds a mapping from the value at field to the ordered list
// of rows sharing that value.
func GroupBy(rows []Document, field string) map[any][]Document {
	out := make(map[any][]Document)
	for _, row := range rows {
		if v, ok := Get(row, field); ok {
			out[v] = append(out[v], row)
		}
	}
	return out
}

// NestChildren attaches child data under each parent at storeKey, keyed
// by the parent's value at joinKey. The join engine passes either a
// map[any]Document (singular nesting) or a map[any][]Document (plural
// nesting); the value type is not checked, whatever it holds is stored.
func NestChildren[T any](parents []Document, childByKey map[any]T, joinKey, storeKey string) {
	for _, parent := range parents {
		v, ok := Get(parent, joinKey)
		if !ok {
			continue
		}
		if child, found := childByKey[v]; found {
			parent[storeKey] = child
		}
	}
}

// DeepCopy returns a structural copy of v, safe for value graphs with
// shared or cyclic references: a map keyed by the identity of each
// visited Document/slice ensures any reference is copied exactly once
// and cycles terminate rather than recursing forever.
func DeepCopy(v any) any {
	return deepCopy(v, make(map[any]any))
}

func deepCopy(v any, memo map[any]any) any {
	switch t := v.(type) {
	case Document:
		return deepCopyMap(t, memo)
	case map[string]any:
		return deepCopyMap(Document(t), memo)
	case []any:
		if existing, ok := memo[sliceKey(t)]; ok {
			return existing
		}
		out := make([]any, len(t))
		memo[sliceKey(t)] = out
		for i, item := range t {
			out[i] = deepCopy(item, memo)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m Document, memo map[any]any) Document {
	key := mapKey(m)
	if existing, ok := memo[key]; ok {
		return existing.(Document)
	}
	out := make(Document, len(m))
	memo[key] = out
	for k, val := range m {
		out[k] = deepCopy(val, memo)
	}
	return out
}

// mapKey/sliceKey produce a comparable identity for a map or slice
// header, used as a memoization key during DeepCopy/DeepEqual so that
// the same underlying reference visited twice returns the same answer
// instead of recursing.
type mapIdentity struct {
	ptr uintptr
	len int
}

func mapKey(m Document) any {
	if m == nil {
		return mapIdentity{0, 0}
	}
	return mapIdentity{reflect.ValueOf(m).Pointer(), len(m)}
}

func sliceKey(s []any) any {
	if len(s) == 0 {
		return mapIdentity{0, 0}
	}
	return mapIdentity{reflect.ValueOf(s).Pointer(), len(s)}
}

// DeepEqual reports whether a and b are structurally identical,
// terminating on cycles via a pair-memo rather than recursing forever.
func DeepEqual(a, b any) bool {
	return deepEqual(a, b, make(map[[2]any]bool))
}

func deepEqual(a, b any, seen map[[2]any]bool) bool {
	am, aIsMap := asDocument(a)
	bm, bIsMap := asDocument(b)
	if aIsMap && bIsMap {
		if seen == nil {
			seen = make(map[[2]any]bool)
		}
		key := [2]any{mapKey(am), mapKey(bm)}
		if seen[key] {
			return true
		}
		seen[key] = true
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(av, bv, seen) {
				return false
			}
		}
		return true
	}
	if aIsMap != bIsMap {
		return false
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqual(as[i], bs[i], seen) {
				return false
			}
		}
		return true
	}
	if aIsSlice != bIsSlice {
		return false
	}

	return scalarEqual(a, b)
}

func scalarEqual(a, b any) bool {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return a == b
}

// DeleteField removes the value at the dot-delimited path from doc, if
// present. Intermediate non-Document values make this a no-op for that
// path, mirroring Get's absence semantics.
func DeleteField(doc Document, path string) {
	segments := strings.Split(path, ".")
	cur := doc
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cur, seg)
			return
		}
		next, ok := asDocument(cur[seg])
		if !ok {
			return
		}
		cur = next
	}
}

// pkKey canonicalizes a primary-key value into the string used as the
// map key for Partition.data, so that an int inserted at call time and
// the float64 encoding/json produces for the same value after a
// save/reload round-trip land on the same key.
func pkKey(v any) string {
	if f, ok := toFloat(v); ok {
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// toFloat normalizes the numeric types that commonly arrive in a
// Document (int literals from Go call sites, float64 from decoded
// JSON) so equality and ordering treat 1 and 1.0 the same.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
