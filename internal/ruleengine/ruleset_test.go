package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuleSet(t *testing.T) {
	t.Parallel()

	t.Run("Should synthesize positional IDs starting at one", func(t *testing.T) {
		t.Parallel()

		rs := NewRuleSet(
			Rule{Conditions: Conditions{"fleet": Eq("fleet:pilot")}},
			Rule{Conditions: Conditions{"fleet": Eq("fleet:prod")}},
			Rule{},
		)

		require.Equal(t, 3, rs.Len())
		assert.Equal(t, "rule-1", rs.Rules()[0].ID)
		assert.Equal(t, "rule-2", rs.Rules()[1].ID)
		assert.Equal(t, "rule-3", rs.Rules()[2].ID)
	})

	t.Run("Should keep explicit IDs and still number the gaps by position", func(t *testing.T) {
		t.Parallel()

		rs := NewRuleSet(
			Rule{ID: "hold-current"},
			Rule{},
			Rule{ID: "upgrade-prod"},
			Rule{},
		)

		assert.Equal(t, "hold-current", rs.Rules()[0].ID)
		assert.Equal(t, "rule-2", rs.Rules()[1].ID)
		assert.Equal(t, "upgrade-prod", rs.Rules()[2].ID)
		assert.Equal(t, "rule-4", rs.Rules()[3].ID)
	})

	t.Run("Should drop empty-version target entries", func(t *testing.T) {
		t.Parallel()

		rs := NewRuleSet(Rule{
			ID: "partial",
			Targets: TargetVersions{
				"notecard": "8.1.3.17074",
				"host":     "",
			},
		})

		targets := rs.Rules()[0].Targets
		require.NotNil(t, targets)
		assert.Equal(t, TargetVersions{"notecard": "8.1.3.17074"}, targets)
	})

	t.Run("Should preserve nil targets so guard rules stay guards", func(t *testing.T) {
		t.Parallel()

		rs := NewRuleSet(Rule{ID: "guard"})

		assert.Nil(t, rs.Rules()[0].Targets)
	})

	t.Run("Should not alias the caller's slice or target maps", func(t *testing.T) {
		t.Parallel()

		original := []Rule{{ID: "first", Targets: TargetVersions{"notecard": "8.1.3"}}}
		rs := NewRuleSet(original...)

		original[0].ID = "mutated"
		original[0].Targets["notecard"] = "0.0.0"

		assert.Equal(t, "first", rs.Rules()[0].ID)
		assert.Equal(t, "8.1.3", rs.Rules()[0].Targets["notecard"])
	})

	t.Run("Should build an empty set from no rules", func(t *testing.T) {
		t.Parallel()

		rs := NewRuleSet()

		assert.Zero(t, rs.Len())
		assert.Empty(t, rs.Rules())
	})
}

func TestDefaultRuleSet(t *testing.T) {
	t.Parallel()

	rs := DefaultRuleSet()

	require.Equal(t, 1, rs.Len())
	rule := rs.Rules()[0]
	assert.Equal(t, "default", rule.ID)
	assert.Nil(t, rule.Conditions, "the default rule must match every snapshot")
	assert.Nil(t, rule.Targets, "the default rule must never request an update")
}
