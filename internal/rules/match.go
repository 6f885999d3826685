package rules

// Match reports whether payload satisfies every condition. Empty conditions
// always match. Each condition maps a payload path to an expected scalar;
// comparison is strict on kind (the string "5" never equals the number 5)
// and a missing path is a non-match.
func Match(conditions map[string]any, payload map[string]any) bool {
	for path, expected := range conditions {
		actual, ok := Lookup(payload, path)
		if !ok || !scalarEqual(actual, expected) {
			return false
		}
	}
	return true
}

func scalarEqual(actual, expected any) bool {
	en, eNum := toNumber(expected)
	an, aNum := toNumber(actual)
	if eNum || aNum {
		return eNum && aNum && an.equal(en)
	}

	switch e := expected.(type) {
	case nil:
		return actual == nil
	case string:
		a, ok := actual.(string)
		return ok && a == e
	case bool:
		a, ok := actual.(bool)
		return ok && a == e
	}
	// Maps and slices are not scalars; equality-only conditions never
	// match them.
	return false
}
