package ruleengine

import (
	"fmt"
	"log/slog"
	"sort"
)

// Engine evaluates rule sets against device snapshots. It is stateless and
// safe for concurrent use; the logger is its only dependency.
type Engine struct {
	logger *slog.Logger
}

// New creates a new Engine.
// It takes a logger instance so predicate faults are observable without
// relying on global state. If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Evaluate walks the rules in declaration order and returns the first match.
//
// A rule matches when every one of its conditions holds against the
// snapshot; a rule with no conditions matches unconditionally. Precedence is
// purely positional, so a catch-all placed first shadows everything after
// it, which is sometimes exactly what an operator wants during an incident.
//
// When no rule matches, the zero Result comes back: that is a normal
// outcome, not an error. The evaluation itself cannot fail. Predicates that
// error or panic fail their rule closed, are logged, and are collected into
// Result.Faults; the walk then continues with the next rule.
func (e *Engine) Evaluate(rules RuleSet, snapshot Snapshot) Result {
	var faults []Fault

	for _, rule := range rules.rules {
		matched := true

		// Condition order inside a rule is irrelevant to the outcome (the
		// conjunction is total), but iterating sorted keeps the fault trail
		// and logs reproducible run to run.
		for _, field := range sortedFields(rule.Conditions) {
			ok, err := e.matchCondition(rule.Conditions[field], snapshot, field)
			if err != nil {
				// Fail closed: a broken predicate must not promote a rule.
				faults = append(faults, Fault{RuleID: rule.ID, Field: field, Detail: err.Error()})
				e.logger.Warn("condition predicate failed",
					slog.String("rule_id", rule.ID),
					slog.String("field", field),
					slog.Any("error", err),
				)
				matched = false
				break
			}
			if !ok {
				matched = false
				break
			}
		}

		if matched {
			return Result{
				Matched: true,
				RuleID:  rule.ID,
				Targets: rule.Targets,
				Faults:  faults,
			}
		}
	}

	return Result{Faults: faults}
}

// matchCondition applies one matcher to one resolved field. A nil matcher is
// the unconstrained variant and always holds. Panics inside caller-supplied
// predicates are converted to errors here so one bad rule cannot take the
// whole evaluation down.
func (e *Engine) matchCondition(m Matcher, snapshot Snapshot, field string) (matched bool, err error) {
	if m == nil {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()

	value, present := snapshot.Resolve(field)
	return m.Match(value, present)
}

func sortedFields(conditions Conditions) []string {
	fields := make([]string, 0, len(conditions))
	for field := range conditions {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
