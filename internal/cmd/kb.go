package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func NewKBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the triage guidelines knowledge base",
	}
	cmd.AddCommand(newKBIndexCommand())
	cmd.AddCommand(newKBQueryCommand())
	return cmd
}

func newKBIndexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild the guidelines index from knowledge.dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			guidelines, err := a.knowledgeBase(cmd.Context(), a.aiManager())
			if err != nil {
				return err
			}
			if guidelines == nil {
				return fmt.Errorf("knowledge base is disabled in %s", a.configPath)
			}

			stats, err := guidelines.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents into %d chunks from %s\n",
				stats.Documents, stats.Chunks, a.cfg.Knowledge.Dir)
			return nil
		},
	}
}

func newKBQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask the guidelines a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			guidelines, err := a.knowledgeBase(cmd.Context(), a.aiManager())
			if err != nil {
				return err
			}
			if guidelines == nil {
				return fmt.Errorf("knowledge base is disabled in %s", a.configPath)
			}

			question := strings.Join(args, " ")
			if sources, _ := cmd.Flags().GetBool("sources"); sources {
				chunks, err := guidelines.Retrieve(cmd.Context(), question)
				if err != nil {
					return err
				}
				for _, c := range chunks {
					fmt.Fprintf(cmd.OutOrStdout(), "%.3f  %s\n", c.Score, c.Chunk.Source)
				}
				return nil
			}

			answer, err := guidelines.Answer(cmd.Context(), question)
			if err != nil {
				return err
			}
			if out, err := glamour.Render(answer, "auto"); err == nil {
				answer = out
			}
			fmt.Fprint(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().Bool("sources", false, "List the retrieved chunks instead of answering")
	return cmd
}
