package event

import "reflect"

// matchConstraint evaluates a single attribute constraint against the
// value found at its key. A map containing any "$"-prefixed key is an
// operator map evaluated as a conjunction of its operators; anything
// else is a literal equality check. Unknown operators and non-"$" keys
// inside an operator map carry no constraint. Absent keys are rejected
// before this point, so $exists reduces to its operand here.
func matchConstraint(constraint, value any) bool {
	ops, isOps := operatorBundle(constraint)
	if !isOps {
		return valuesEqual(constraint, value)
	}

	for op, operand := range ops {
		switch op {
		case "$exists":
			want, ok := operand.(bool)
			if !ok {
				want = true
			}
			if !want {
				return false
			}

		case "$eq":
			if !valuesEqual(operand, value) {
				return false
			}

		case "$ne":
			if valuesEqual(operand, value) {
				return false
			}

		case "$gt", "$gte", "$lt", "$lte":
			if !compareNumeric(op, value, operand) {
				return false
			}

		case "$in":
			if !isMember(value, operand) {
				return false
			}

		case "$nin":
			if isMember(value, operand) {
				return false
			}
		}
	}
	return true
}

// operatorBundle reports whether the constraint is an operator map: a
// map with at least one "$"-prefixed key. Maps without any "$" key are
// literal values.
func operatorBundle(constraint any) (map[string]any, bool) {
	m, ok := constraint.(map[string]any)
	if !ok {
		return nil, false
	}
	for k := range m {
		if len(k) > 0 && k[0] == '$' {
			return m, true
		}
	}
	return nil, false
}

// valuesEqual compares two values, normalizing numeric types first so
// that int(5) equals float64(5).
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareNumeric evaluates an ordering operator. Non-numeric operands
// on either side fail the comparison.
func compareNumeric(op string, value, operand any) bool {
	fv, ok := toFloat(value)
	if !ok {
		return false
	}
	fo, ok := toFloat(operand)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return fv > fo
	case "$gte":
		return fv >= fo
	case "$lt":
		return fv < fo
	case "$lte":
		return fv <= fo
	}
	return false
}

// isMember reports whether value appears in the operand collection.
// A non-collection operand has no members.
func isMember(value, operand any) bool {
	rv := reflect.ValueOf(operand)
	if !rv.IsValid() {
		return false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(rv.Index(i).Interface(), value) {
			return true
		}
	}
	return false
}

// toFloat coerces numeric types to float64. Booleans and strings are
// not numeric.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
