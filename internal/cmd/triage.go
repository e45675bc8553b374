package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phildougherty/medic/internal/healthcare"
	"github.com/phildougherty/medic/internal/kb"
)

func NewTriageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Triage one patient profile without a conversation",
		Long: `Run the triage_patient tool once and print its JSON result. The rule engine
always runs; the guidelines knowledge base is consulted unless it is disabled
in the config or --rules-only is given.`,
		Example: `  medic triage --age 58 --symptoms "sudden chest pain" --duration "30 minutes"
  medic triage --symptoms "high fever and cough" --duration "2 days" --rules-only`,
		RunE: runTriage,
	}

	cmd.Flags().Int("age", 0, "Patient age in years (0 for unknown)")
	cmd.Flags().String("symptoms", "", "Reported symptoms")
	cmd.Flags().String("duration", "", "How long the symptoms have lasted")
	cmd.Flags().String("risk-factors", "", "Known risk factors")
	cmd.Flags().String("other", "", "Other relevant context")
	cmd.Flags().Bool("rules-only", false, "Skip the guidelines knowledge base")
	cmd.MarkFlagRequired("symptoms")

	return cmd
}

func runTriage(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if rulesOnly, _ := cmd.Flags().GetBool("rules-only"); rulesOnly {
		a.cfg.Knowledge.Disabled = true
	}

	ctx := cmd.Context()
	engine, err := a.triageEngine()
	if err != nil {
		return err
	}
	var guidelines *kb.KnowledgeBase
	if !a.cfg.Knowledge.Disabled {
		guidelines, err = a.knowledgeBase(ctx, a.aiManager())
		if err != nil {
			return err
		}
	}
	// Nothing is persisted by a one-shot triage.
	tools := a.tools(engine, guidelines, nil)

	arguments := map[string]interface{}{}
	if age, _ := cmd.Flags().GetInt("age"); age > 0 {
		arguments["age"] = age
	}
	for flag, key := range map[string]string{
		"symptoms":     "symptoms",
		"duration":     "duration",
		"risk-factors": "risk_factors",
		"other":        "other_context",
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			arguments[key] = v
		}
	}

	result := tools.ExecuteMCPTool(ctx, healthcare.ToolTriagePatient, arguments)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if ok, _ := result["ok"].(bool); !ok {
		return fmt.Errorf("triage failed: %v", result["error"])
	}
	return nil
}
