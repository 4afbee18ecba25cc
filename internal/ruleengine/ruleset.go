package ruleengine

import (
	"fmt"
	"maps"
)

// RuleSet is an ordered collection of rules. Order is precedence: the engine
// returns the first rule that matches and never looks further.
//
// Build one through NewRuleSet (or the loader, which calls it); construction
// is where missing rule IDs are synthesized, so evaluation never has to.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet copies the given rules into a set, synthesizing an ID of the
// form "rule-<position>" (1-based) for every rule that lacks one. Target
// maps are copied too, with empty-version entries dropped: a target mapped
// to "" means "no update for this target" and is treated as absent.
func NewRuleSet(rules ...Rule) RuleSet {
	normalized := make([]Rule, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("rule-%d", i+1)
		}
		rule.Targets = normalizeTargets(rule.Targets)
		normalized[i] = rule
	}
	return RuleSet{rules: normalized}
}

// DefaultRuleSet is the configuration used when no rule file is given: a
// single catch-all guard rule. Every snapshot matches it and no update is
// ever requested, which makes an unconfigured deployment observable but
// harmless.
func DefaultRuleSet() RuleSet {
	return NewRuleSet(Rule{ID: "default"})
}

// Rules returns the rules in evaluation order. The slice is shared; callers
// must not modify it.
func (rs RuleSet) Rules() []Rule {
	return rs.rules
}

// Len returns the number of rules in the set.
func (rs RuleSet) Len() int {
	return len(rs.rules)
}

func normalizeTargets(targets TargetVersions) TargetVersions {
	if targets == nil {
		return nil
	}
	copied := maps.Clone(targets)
	for target, version := range copied {
		if version == "" {
			delete(copied, target)
		}
	}
	return copied
}
