package cmd

import (
	"github.com/spf13/cobra"

	"github.com/phildougherty/medic/internal/constants"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "medic",
		Short: "Voice healthcare triage assistant",
		Long: `Medic runs a voice intake call with a patient, triages the reported symptoms
against clinical rules and guidelines, books a simulated appointment and notifies
the care team.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringP("config", "c", constants.DefaultConfigFile, "Specify medic configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json (overrides config)")

	// Services
	rootCmd.AddCommand(NewMCPServerCommand())
	rootCmd.AddCommand(NewServeCommand())

	// Interactive and one-shot
	rootCmd.AddCommand(NewChatCommand())
	rootCmd.AddCommand(NewTriageCommand())

	// Utilities
	rootCmd.AddCommand(NewKBCommand())
	rootCmd.AddCommand(NewReportsCommand())
	rootCmd.AddCommand(NewTokenCommand())
	rootCmd.AddCommand(NewVersionCommand(version))

	return rootCmd
}
