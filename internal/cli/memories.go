package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
)

var (
	rememberCategory string
	rememberSource   string
	rememberConfirm  bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a new memory (unconfirmed until reviewed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			mem, err := a.manager.Create(proj, args[0], models.Category(rememberCategory), models.Source(rememberSource))
			if err != nil {
				return err
			}
			if rememberConfirm {
				mem, err = a.manager.Confirm(cmd.Context(), proj, mem.ID, false)
				if err != nil {
					return err
				}
			}

			fmt.Printf("%s %s [%s] %s\n", stateBadge(mem), mem.ID, mem.Category, mem.Content)
			return nil
		})
	},
}

var confirmForce bool

var confirmCmd = &cobra.Command{
	Use:   "confirm <id>...",
	Short: "Confirm memories, making them searchable",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			for _, id := range args {
				mem, err := a.manager.Confirm(cmd.Context(), proj, id, confirmForce)
				if err != nil {
					return err
				}
				fmt.Printf("confirmed %s: %s\n", mem.ID, truncate(mem.Content, 72))
			}
			return nil
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List unconfirmed memories awaiting review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			memories, err := a.manager.Pending(proj)
			if err != nil {
				return err
			}
			if len(memories) == 0 {
				fmt.Println("Nothing pending")
				return nil
			}
			for _, mem := range memories {
				printMemory(mem)
			}
			fmt.Printf("\n%d pending. Confirm with: membank confirm <id>\n", len(memories))
			return nil
		})
	},
}

var updateForce bool

var updateCmd = &cobra.Command{
	Use:   "update <id> <content>",
	Short: "Replace a confirmed memory's content, keeping the old version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			mem, err := a.manager.Update(cmd.Context(), proj, args[0], args[1], updateForce)
			if err != nil {
				return err
			}
			fmt.Printf("updated %s (revision %d)\n", mem.ID, mem.Revision)
			return nil
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>...",
	Short: "Permanently delete memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := a.manager.Delete(cmd.Context(), proj, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", id)
			}
			return nil
		})
	},
}

var staleReason string

var staleCmd = &cobra.Command{
	Use:   "stale <id>",
	Short: "Mark a memory stale (kept, but excluded from search)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			mem, err := a.manager.MarkStale(args[0], staleReason)
			if err != nil {
				return err
			}
			fmt.Printf("marked %s stale\n", mem.ID)
			return nil
		})
	},
}

var unstaleCmd = &cobra.Command{
	Use:   "unstale <id>",
	Short: "Clear a memory's staleness flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			mem, err := a.manager.ClearStale(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("cleared staleness on %s\n", mem.ID)
			return nil
		})
	},
}

var (
	listState    string
	listCategory string
	listStale    bool
	listLimit    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			f := store.ListFilter{Category: models.Category(listCategory), Limit: listLimit}
			if listState != "" {
				f.States = []models.State{models.State(listState)}
			}
			if cmd.Flags().Changed("stale") {
				f.Stale = &listStale
			}

			memories, err := a.manager.List(proj, f)
			if err != nil {
				return err
			}
			if len(memories) == 0 {
				fmt.Println("No memories")
				return nil
			}
			for _, mem := range memories {
				printMemory(mem)
			}
			return nil
		})
	},
}

var historyRevision int64

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a memory's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if historyRevision > 0 {
				v, err := a.manager.VersionAt(args[0], historyRevision)
				if err != nil {
					return err
				}
				fmt.Printf("r%d [%s] %s  superseded %s\n%s\n",
					v.Revision, v.Category, string(v.State), formatTime(v.CreatedAt), v.Content)
				return nil
			}

			mem, err := a.manager.Get(args[0])
			if err != nil {
				return err
			}
			versions, err := a.manager.History(args[0])
			if err != nil {
				return err
			}

			for _, v := range versions {
				fmt.Printf("r%-3d %s  %s\n", v.Revision, formatTime(v.CreatedAt), truncate(v.Content, 72))
			}
			fmt.Printf("r%-3d %s  %s (current)\n", mem.Revision, formatTime(mem.UpdatedAt), truncate(mem.Content, 72))
			return nil
		})
	},
}

func init() {
	rememberCmd.Flags().StringVarP(&rememberCategory, "category", "c", "note", "category: stack, decision, constraint, convention, note")
	rememberCmd.Flags().StringVar(&rememberSource, "source", "manual", "source: chat, manual, file_reference")
	rememberCmd.Flags().BoolVar(&rememberConfirm, "confirm", false, "confirm immediately instead of leaving pending")

	confirmCmd.Flags().BoolVar(&confirmForce, "force", false, "confirm even if the index write fails (run rebuild afterwards)")
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "update even if the index write fails (run rebuild afterwards)")

	staleCmd.Flags().StringVar(&staleReason, "reason", "", "why the memory is outdated")

	listCmd.Flags().StringVar(&listState, "state", "", "filter by state: unconfirmed, confirmed, archived")
	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "filter by category")
	listCmd.Flags().BoolVar(&listStale, "stale", false, "filter by staleness")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "maximum memories to show")

	historyCmd.Flags().Int64Var(&historyRevision, "revision", 0, "show the full snapshot of one superseded revision")

	rootCmd.AddCommand(rememberCmd, confirmCmd, pendingCmd, updateCmd, forgetCmd,
		staleCmd, unstaleCmd, listCmd, historyCmd)
}

func printMemory(mem *models.Memory) {
	flags := ""
	if mem.Stale {
		flags = " (stale)"
	}
	fmt.Printf("%s %s [%s]%s %s\n", stateBadge(mem), mem.ID, mem.Category, flags, truncate(mem.Content, 72))
}

func stateBadge(mem *models.Memory) string {
	switch mem.State {
	case models.StateUnconfirmed:
		return "?"
	case models.StateConfirmed:
		return "*"
	case models.StateArchived:
		return "~"
	default:
		return " "
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).Format("2006-01-02 15:04")
}
