package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var suggestLimit int

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "List pairs of memories similar enough to merge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			suggestions, err := a.consolidation.Suggest(cmd.Context(), proj, suggestLimit)
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Println("No consolidation candidates")
				return nil
			}

			for _, s := range suggestions {
				fmt.Printf("%.3f similar:\n  %s  %s\n  %s  %s\n",
					s.Similarity,
					s.A.ID, truncate(s.A.Content, 64),
					s.B.ID, truncate(s.B.Content, 64))
			}
			fmt.Printf("\nMerge with: membank consolidate <id> <id> [--content \"merged text\"]\n")
			return nil
		})
	},
}

var consolidateContent string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <id> <id>...",
	Short: "Merge memories into one; sources are archived, not deleted",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			merged, err := a.consolidation.Apply(cmd.Context(), proj, args, consolidateContent)
			if err != nil {
				return err
			}
			fmt.Printf("merged %d memories into %s\n%s\n", len(args), merged.ID, truncate(merged.Content, 72))
			fmt.Printf("undo with: membank rollback %s\n", merged.ID)
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <merged-id>",
	Short: "Undo a consolidation, restoring the source memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			if err := a.consolidation.Rollback(cmd.Context(), proj, args[0]); err != nil {
				return err
			}
			fmt.Printf("rolled back consolidation of %s\n", args[0])
			return nil
		})
	},
}

func init() {
	suggestCmd.Flags().IntVarP(&suggestLimit, "limit", "n", 10, "maximum suggestions")
	consolidateCmd.Flags().StringVar(&consolidateContent, "content", "", "merged content (defaults to the sources joined)")

	rootCmd.AddCommand(suggestCmd, consolidateCmd, rollbackCmd)
}
