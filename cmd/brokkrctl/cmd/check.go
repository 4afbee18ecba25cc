package cmd

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/brokkr-labs/brokkr/internal/ruleengine"
)

var (
	checkRules    string
	checkSnapshot string
	checkStrict   bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a rule file against a device snapshot",
	Long: `Check runs one offline evaluation: the rule file is loaded, the snapshot
is read from disk and the decision is printed as JSON. Nothing is fetched
and no update is requested, so operators can dry-run a rule change against
a captured webhook body before deploying it.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkRules, "rules", "", "rule file to evaluate")
	checkCmd.Flags().StringVar(&checkSnapshot, "snapshot", "", "device snapshot JSON file")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "exit non-zero when no rule matches")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	if checkRules == "" {
		return fmt.Errorf("--rules required")
	}
	if checkSnapshot == "" {
		return fmt.Errorf("--snapshot required")
	}

	rules, err := ruleengine.LoadRuleSet(checkRules)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(checkSnapshot)
	if err != nil {
		return fmt.Errorf("failed to read snapshot file %s: %w", checkSnapshot, err)
	}
	snapshot, err := ruleengine.ParseSnapshot(data)
	if err != nil {
		return fmt.Errorf("snapshot file %s: %w", checkSnapshot, err)
	}

	engine := ruleengine.New(newLogger())
	result := engine.Evaluate(rules, snapshot)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if checkStrict && !result.Matched {
		return fmt.Errorf("no rule matched")
	}
	return nil
}
