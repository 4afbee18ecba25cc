package ruleengine

// Matcher is the comparison a condition applies to one resolved field.
// The three variants are literal equality (Eq), a caller-supplied predicate
// (Where), and unconstrained, which is expressed as a nil Matcher in the
// Conditions map rather than a type of its own.
type Matcher interface {
	// Match reports whether the resolved field value satisfies the matcher.
	//
	// Parameters:
	//   - value: what the field path resolved to; nil either means JSON null
	//     or that resolution failed, which the present flag disambiguates.
	//   - present: false when the field path did not resolve.
	//
	// An error marks the condition failed and lands in the result's fault
	// trail; it never aborts the evaluation.
	Match(value any, present bool) (bool, error)
}

// PredicateFunc is the signature of a caller-supplied condition test.
type PredicateFunc func(value any, present bool) (bool, error)

// Eq returns a matcher that holds when the field resolves to exactly the
// given literal. Equality is strict: strings and bools compare by value
// within their own type, numbers compare by value across int and float
// widths (a rule literal 8 matches a decoded 8.0), and nothing else is
// equal. There is no substring or version-prefix leniency: "8.1.3" does not
// match "8.1.3.17074".
func Eq(want any) Matcher {
	return literalMatcher{want: want}
}

// Where returns a matcher backed by the given predicate. The predicate sees
// the resolved value and the presence flag, so it can treat a missing field
// however it likes.
func Where(fn PredicateFunc) Matcher {
	if fn == nil {
		panic("ruleengine: Where requires a non-nil predicate")
	}
	return predicateMatcher{fn: fn}
}

type literalMatcher struct {
	want any
}

func (m literalMatcher) Match(value any, present bool) (bool, error) {
	// A literal can only match a value that exists.
	if !present {
		return false, nil
	}
	return literalEqual(m.want, value), nil
}

type predicateMatcher struct {
	fn PredicateFunc
}

func (m predicateMatcher) Match(value any, present bool) (bool, error) {
	return m.fn(value, present)
}

// literalEqual implements the exact-equality semantics of Eq. Composite
// values (lists, mappings) never equal a literal; conditions over those
// belong in a predicate.
func literalEqual(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}

	if wantNum, ok := asNumber(want); ok {
		gotNum, ok := asNumber(got)
		return ok && wantNum == gotNum
	}

	switch w := want.(type) {
	case string:
		g, ok := got.(string)
		return ok && w == g
	case bool:
		g, ok := got.(bool)
		return ok && w == g
	}

	return false
}

// asNumber widens the numeric types that appear in rule literals and decoded
// JSON to a common float64 for comparison.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
