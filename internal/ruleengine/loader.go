package ruleengine

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// ruleFileSchema is the contract for declarative rule files. Validating
// before decoding turns typos into load errors that name the offending path
// instead of rules that silently never match.
const ruleFileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "rules"],
  "additionalProperties": false,
  "properties": {
    "version": {"const": 1},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "conditions": {
            "type": ["object", "null"],
            "additionalProperties": {
              "oneOf": [
                {"type": ["string", "number", "boolean", "null"]},
                {
                  "type": "object",
                  "required": ["predicate"],
                  "additionalProperties": false,
                  "properties": {
                    "predicate": {"type": "string", "minLength": 1},
                    "value": {},
                    "values": {"type": "array"},
                    "percent": {"type": "integer", "minimum": 0, "maximum": 100},
                    "salt": {"type": "string"}
                  }
                }
              ]
            }
          },
          "targets": {
            "type": ["object", "null"],
            "additionalProperties": {"type": ["string", "null"]}
          }
        }
      }
    }
  }
}`

// LoadRuleSet reads and parses a declarative rule file.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	rs, err := ParseRuleSet(data)
	if err != nil {
		return RuleSet{}, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rs, nil
}

// ParseRuleSet turns a JSON rule document into an evaluable RuleSet.
//
// Condition values map onto matcher variants by shape: a JSON scalar becomes
// a literal (Eq), JSON null becomes unconstrained, and an object with a
// "predicate" key becomes one of the built-in predicates. Rules without an
// "id" get one synthesized from their position.
func ParseRuleSet(data []byte) (RuleSet, error) {
	// 1. Schema validation first, so decode errors below can only come from
	// truly malformed JSON.
	if err := validateRuleDocument(data); err != nil {
		return RuleSet{}, err
	}

	// 2. Decode.
	var doc struct {
		Version int `json:"version"`
		Rules   []struct {
			ID         string             `json:"id"`
			Conditions map[string]any     `json:"conditions"`
			Targets    map[string]*string `json:"targets"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return RuleSet{}, fmt.Errorf("failed to decode rule document: %w", err)
	}

	// 3. Build matchers.
	rules := make([]Rule, 0, len(doc.Rules))
	for i, entry := range doc.Rules {
		rule := Rule{ID: entry.ID}

		if entry.Conditions != nil {
			rule.Conditions = make(Conditions, len(entry.Conditions))
			for field, raw := range entry.Conditions {
				matcher, err := buildMatcher(field, raw)
				if err != nil {
					return RuleSet{}, fmt.Errorf("rule %d: %w", i+1, err)
				}
				rule.Conditions[field] = matcher
			}
		}

		if entry.Targets != nil {
			rule.Targets = make(TargetVersions, len(entry.Targets))
			for target, version := range entry.Targets {
				// A null version is an explicit "no update for this target".
				if version == nil {
					continue
				}
				rule.Targets[target] = *version
			}
		}

		rules = append(rules, rule)
	}

	return NewRuleSet(rules...), nil
}

func validateRuleDocument(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(ruleFileSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("failed to validate rule document: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("rule document is invalid: %s", strings.Join(details, "; "))
	}

	return nil
}

func buildMatcher(field string, value any) (Matcher, error) {
	switch v := value.(type) {
	case nil:
		// Unconstrained: condition listed for documentation, matches always.
		return nil, nil
	case map[string]any:
		return buildPredicate(field, v)
	default:
		return Eq(v), nil
	}
}

func buildPredicate(field string, spec map[string]any) (Matcher, error) {
	name, _ := spec["predicate"].(string)

	switch name {
	case "version_prefix":
		prefix, ok := spec["value"].(string)
		if !ok {
			return nil, fmt.Errorf("field %q: version_prefix requires a string value", field)
		}
		return VersionPrefix(prefix), nil

	case "major_version_below":
		major, ok := spec["value"].(float64)
		if !ok {
			return nil, fmt.Errorf("field %q: major_version_below requires a numeric value", field)
		}
		return MajorVersionBelow(int(major)), nil

	case "one_of":
		values, ok := spec["values"].([]any)
		if !ok {
			return nil, fmt.Errorf("field %q: one_of requires a values array", field)
		}
		return OneOf(values...), nil

	case "percent_rollout":
		percent, ok := spec["percent"].(float64)
		if !ok {
			return nil, fmt.Errorf("field %q: percent_rollout requires an integer percent", field)
		}
		salt, _ := spec["salt"].(string)
		return PercentRollout(int(percent), salt), nil

	default:
		return nil, fmt.Errorf("field %q: unknown predicate %q", field, name)
	}
}
