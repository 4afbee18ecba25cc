package ruleengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Built-in predicate constructors. Each returns a Matcher so rules can mix
// them freely with Eq literals. All of them fail closed on a missing field
// or a value of the wrong type; only genuinely broken configuration (an
// out-of-range rollout percentage) surfaces as an error.

// VersionPrefix holds when the field is a string starting with prefix.
// Useful for pinning rules to a release train ("7.5.1.") without naming
// every build.
func VersionPrefix(prefix string) Matcher {
	return Where(func(value any, present bool) (bool, error) {
		if !present {
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return strings.HasPrefix(s, prefix), nil
	})
}

// MajorVersionBelow holds when the leading integer of a dotted version
// string is strictly below major. "7.5.1.17004" is below 8; "8.1.3" is not.
func MajorVersionBelow(major int) Matcher {
	return Where(func(value any, present bool) (bool, error) {
		if !present {
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}

		head, _, _ := strings.Cut(s, ".")
		parsed, err := strconv.Atoi(head)
		if err != nil {
			// Unparsable versions are a data problem, not a rule problem.
			return false, nil
		}
		return parsed < major, nil
	})
}

// OneOf holds when the field equals any of the given literals, with the
// same equality semantics as Eq.
func OneOf(values ...any) Matcher {
	return Where(func(value any, present bool) (bool, error) {
		if !present {
			return false, nil
		}
		for _, want := range values {
			if literalEqual(want, value) {
				return true, nil
			}
		}
		return false, nil
	})
}

// PercentRollout holds for a deterministic percent of the field's possible
// string values, bucketed by consistent hashing. The same value with the
// same salt always lands in the same bucket, so a device stays inside (or
// outside) a rollout across sessions; changing the salt reshuffles the
// population for the next rollout.
//
// Conditioning it on the device UID field gives per-device canary rules:
//
//	Conditions{"device": PercentRollout(25, "nc-8.1.3")}
func PercentRollout(percent int, salt string) Matcher {
	return Where(func(value any, present bool) (bool, error) {
		// 1. Validate configuration. An out-of-range percentage is rule
		// corruption and should show up in the fault trail, not be clamped
		// into silence.
		if percent < 0 || percent > 100 {
			return false, fmt.Errorf("rollout percentage must be between 0 and 100, got %d", percent)
		}

		// 2. Resolve the hash subject. Only non-empty strings bucket
		// reliably.
		if !present {
			return false, nil
		}
		subject, ok := value.(string)
		if !ok || subject == "" {
			return false, nil
		}

		// 3. Hash subject and salt together. The salt keeps a device that
		// is in the lucky bucket for one rollout from being in the lucky
		// bucket for all of them. Murmur3 distributes well and is far
		// cheaper than a cryptographic hash.
		hasher := murmur3.New32()
		_, _ = hasher.Write([]byte(subject + ":" + salt)) // Write never fails

		// 4. Map to a 0-99 bucket and decide. percent=10 admits buckets
		// 0 through 9.
		bucket := int(hasher.Sum32() % 100)
		return bucket < percent, nil
	})
}
