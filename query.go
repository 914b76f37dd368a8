// Query clause grammar: normalization of the MongoDB-style clause map
// into a finite sum of comparison operators, and their evaluation
// against a single field value.
package partdb

import "fmt"

// Q is shorthand for the map literal Table.Find and Join's queryAddons
// expect: field name to either a bare value (sugar for $eq) or an
// operator map built by In/Nin/Gt/Gte/Lt/Lte/Ne/Between.
type Q = map[string]any

// Op identifies one of the finite set of recognized query operators.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNin
	OpBetween
)

var opNames = map[string]Op{
	"$eq":      OpEq,
	"$ne":      OpNe,
	"$gt":      OpGt,
	"$gte":     OpGte,
	"$lt":      OpLt,
	"$lte":     OpLte,
	"$in":      OpIn,
	"$nin":     OpNin,
	"$between": OpBetween,
}

// Condition is one ANDed test against a field's value.
type Condition struct {
	Op    Op
	Value any
}

// FieldQuery is the set of conditions ANDed together for a single field.
type FieldQuery []Condition

// Query is a normalized clause map: field name to the ANDed conditions
// on that field's value.
type Query map[string]FieldQuery

// In builds an $in clause: val.Value in the query_addons map sugar.
func In(values ...any) map[string]any { return map[string]any{"$in": values} }

// Nin builds a $nin clause.
func Nin(values ...any) map[string]any { return map[string]any{"$nin": values} }

// Gt, Gte, Lt, Lte build single-operator clauses for use as a field's
// query value, e.g. Q{"age": Gte(21)}.
func Gt(v any) map[string]any  { return map[string]any{"$gt": v} }
func Gte(v any) map[string]any { return map[string]any{"$gte": v} }
func Lt(v any) map[string]any  { return map[string]any{"$lt": v} }
func Lte(v any) map[string]any { return map[string]any{"$lte": v} }
func Ne(v any) map[string]any  { return map[string]any{"$ne": v} }

// Between builds an inclusive-range clause.
func Between(lo, hi any) map[string]any { return map[string]any{"$between": []any{lo, hi}} }

// normalizeQuery rewrites a bare-literal clause map into the operator
// form, leaving already-operator clauses (map[string]any keyed by
// $op) as-is, and reports ErrUnsupportedQueryOperator for anything
// else.
func normalizeQuery(input map[string]any) (Query, error) {
	out := make(Query, len(input))
	for field, raw := range input {
		fq, err := normalizeClause(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = fq
	}
	return out, nil
}

func normalizeClause(raw any) (FieldQuery, error) {
	switch v := raw.(type) {
	case map[string]any:
		fq := make(FieldQuery, 0, len(v))
		for opName, val := range v {
			op, ok := opNames[opName]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedQueryOperator, opName)
			}
			if op == OpBetween {
				if lo, hi := betweenBounds(val); lo == nil && hi == nil {
					return nil, ErrInvalidBetween
				}
			}
			if (op == OpIn || op == OpNin) && !isSequence(val) {
				return nil, ErrInvalidIn
			}
			fq = append(fq, Condition{Op: op, Value: val})
		}
		return fq, nil
	default:
		return FieldQuery{{Op: OpEq, Value: v}}, nil
	}
}

func isSequence(v any) bool {
	switch v.(type) {
	case []any:
		return true
	default:
		return false
	}
}

func betweenBounds(v any) (lo, hi any) {
	seq, ok := v.([]any)
	if !ok || len(seq) != 2 {
		return nil, nil
	}
	return seq[0], seq[1]
}

// meetsFieldQuery reports whether fieldValue satisfies every ANDed
// condition in fq.
func meetsFieldQuery(fieldValue any, fq FieldQuery) (bool, error) {
	for _, cond := range fq {
		ok, err := meetsCondition(fieldValue, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// meetsCondition evaluates a single operator/value pair against a
// field's current value. This is the sole place operator semantics
// live, shared by partition-index pruning and row-level filtering so
// the two behave identically (spec §4.3).
func meetsCondition(fieldValue any, cond Condition) (bool, error) {
	switch cond.Op {
	case OpEq:
		return DeepEqual(fieldValue, cond.Value), nil
	case OpNe:
		return !DeepEqual(fieldValue, cond.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compareValues(fieldValue, cond.Value)
		if !ok {
			return false, ErrNotComparable
		}
		switch cond.Op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpIn:
		seq, _ := cond.Value.([]any)
		for _, v := range seq {
			if DeepEqual(fieldValue, v) {
				return true, nil
			}
		}
		return false, nil
	case OpNin:
		seq, _ := cond.Value.([]any)
		for _, v := range seq {
			if DeepEqual(fieldValue, v) {
				return false, nil
			}
		}
		return true, nil
	case OpBetween:
		lo, hi := betweenBounds(cond.Value)
		if lo == nil && hi == nil {
			return false, ErrInvalidBetween
		}
		cLo, okLo := compareValues(fieldValue, lo)
		cHi, okHi := compareValues(fieldValue, hi)
		if !okLo || !okHi {
			return false, ErrNotComparable
		}
		return cLo >= 0 && cHi <= 0, nil
	default:
		return false, ErrUnsupportedQueryOperator
	}
}

// compareValues orders a against b, returning (negative, 0, positive)
// and false if the two values cannot be compared (different kinds,
// neither numeric nor both strings).
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}
