package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/membank/membank/internal/models"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Share memories with teammates through an encrypted folder",
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Export confirmed memories to the shared location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if a.syncEngine == nil {
				return errSyncUnconfigured
			}
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			res, err := a.syncEngine.Push(cmd.Context(), proj, syncForce)
			if err != nil {
				return err
			}
			fmt.Printf("pushed %d memories", res.Pushed)
			if res.Conflicts > 0 {
				fmt.Printf(" (%d forced over remote revisions)", res.Conflicts)
			}
			fmt.Println()
			return nil
		})
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Import teammates' memories from the shared location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if a.syncEngine == nil {
				return errSyncUnconfigured
			}
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			res, err := a.syncEngine.Pull(cmd.Context(), proj, syncForce)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d, updated %d, skipped %d\n", res.Imported, res.Updated, res.Skipped)
			if res.Conflicts > 0 {
				fmt.Printf("%d conflicts recorded; inspect with: membank sync status\n", res.Conflicts)
			}
			return nil
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show unpushed memories and unresolved conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if a.syncEngine == nil {
				return errSyncUnconfigured
			}
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			st, err := a.syncEngine.Status(proj)
			if err != nil {
				return err
			}

			if !st.RemoteExists {
				fmt.Println("Remote:     not yet pushed")
			} else if st.LastPushedAt != nil {
				fmt.Printf("Last push:  %s\n", formatTime(*st.LastPushedAt))
			}
			fmt.Printf("Unpushed:   %d\n", len(st.PendingMemories))
			fmt.Printf("Conflicts:  %d unresolved\n", st.Unresolved)

			if st.Unresolved > 0 {
				conflicts, err := a.syncEngine.Conflicts(proj)
				if err != nil {
					return err
				}
				fmt.Println()
				for _, c := range conflicts {
					fmt.Printf("  %s  local r%d vs remote r%d\n", c.MemoryID, c.LocalRevision, c.RemoteRevision)
				}
				fmt.Println("\nResolve with: membank sync push --force (keep local) or membank sync pull --force (take remote)")
			}
			return nil
		})
	},
}

var conflictsAll bool

var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List sync conflicts and how they were resolved",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if a.syncEngine == nil {
				return errSyncUnconfigured
			}
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			var conflicts []*models.SyncConflict
			if conflictsAll {
				conflicts, err = a.syncEngine.ConflictHistory(proj)
			} else {
				conflicts, err = a.syncEngine.Conflicts(proj)
			}
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println("No conflicts")
				return nil
			}

			for _, c := range conflicts {
				fmt.Printf("%s  %s  local r%d vs remote r%d  [%s]\n",
					formatTime(c.DetectedAt), c.MemoryID, c.LocalRevision, c.RemoteRevision, c.Resolution)
			}
			return nil
		})
	},
}

var errSyncUnconfigured = fmt.Errorf("sync is not configured: set sync.remote_dir and sync.key in ~/.membank/config.yaml")

func init() {
	syncPushCmd.Flags().BoolVar(&syncForce, "force", false, "overwrite diverged revisions (local wins on push, remote wins on pull)")
	syncPullCmd.Flags().BoolVar(&syncForce, "force", false, "overwrite diverged revisions (local wins on push, remote wins on pull)")
	syncConflictsCmd.Flags().BoolVar(&conflictsAll, "all", false, "include resolved conflicts")

	syncCmd.AddCommand(syncPushCmd, syncPullCmd, syncStatusCmd, syncConflictsCmd)
	rootCmd.AddCommand(syncCmd)
}
