package config

import "fmt"

// RulesConfig locates the declarative rule file and fixes the order in which
// firmware targets are acted on.
type RulesConfig struct {
	// Path points at a JSON rule file. Empty means the built-in default
	// rule set (evaluate everything, update nothing).
	Path string `envconfig:"PATH"`

	// TargetPriority is the order update requests are issued in. Targets a
	// rule names beyond this list follow in sorted order.
	TargetPriority []string `envconfig:"TARGET_PRIORITY" default:"notecard,host"`
}

// Validate performs validation on the RulesConfig.
func (c *RulesConfig) Validate() error {
	if len(c.TargetPriority) == 0 {
		return fmt.Errorf("rules target priority cannot be empty")
	}

	seen := make(map[string]bool, len(c.TargetPriority))
	for _, target := range c.TargetPriority {
		if err := validateNoWhitespace(target, "rules target priority entry"); err != nil {
			return err
		}
		if seen[target] {
			return fmt.Errorf("rules target priority has duplicate entry %q", target)
		}
		seen[target] = true
	}

	return nil
}
