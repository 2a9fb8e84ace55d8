package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	initRoot     string
	initProvider string
	initModel    string
	initDim      int
)

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Register a project and make it the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			root := initRoot
			if root == "" {
				var err error
				if root, err = os.Getwd(); err != nil {
					return err
				}
			}

			provider, model, dim := initProvider, initModel, initDim
			if provider == "" {
				provider = a.cfg.Embedding.Provider
			}
			if model == "" {
				model = a.cfg.Embedding.Model
			}
			if dim == 0 {
				dim = a.cfg.Embedding.Dimension
			}

			p, err := a.router.Register(args[0], root, provider, model, dim)
			if err != nil {
				return err
			}
			fmt.Printf("registered project %q at %s (%s/%s, %d dims)\n",
				p.Name, p.RootPath, p.EmbeddingProvider, p.EmbeddingModel, p.EmbeddingDim)
			return nil
		})
	},
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			projects, err := a.router.List()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("No projects. Register one with: membank init <name>")
				return nil
			}

			def, err := a.router.Default()
			if err != nil {
				return err
			}
			for _, p := range projects {
				marker := " "
				if p.ID == def {
					marker = "*"
				}
				fmt.Printf("%s %-20s %s\n", marker, p.Name, p.RootPath)
			}
			return nil
		})
	},
}

var projectSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Make a project the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			p, err := a.router.Switch(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("switched default project to %q\n", p.Name)
			return nil
		})
	},
}

var (
	setEmbeddingProvider string
	setEmbeddingModel    string
	setEmbeddingDim      int
)

var projectSetEmbeddingCmd = &cobra.Command{
	Use:   "set-embedding <name>",
	Short: "Record a new embedding provider for a project",
	Long: `Record a new embedding provider, model, and dimension for a project.
The vector index no longer matches the stored memories afterwards;
run "membank rebuild" to re-embed everything with the new provider.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			provider, model, dim := setEmbeddingProvider, setEmbeddingModel, setEmbeddingDim
			if provider == "" {
				provider = a.cfg.Embedding.Provider
			}
			if model == "" {
				model = a.cfg.Embedding.Model
			}
			if dim == 0 {
				dim = a.cfg.Embedding.Dimension
			}

			p, err := a.router.SetEmbedding(args[0], provider, model, dim)
			if err != nil {
				return err
			}
			fmt.Printf("project %q now uses %s/%s (%d dims); run: membank rebuild\n",
				p.Name, p.EmbeddingProvider, p.EmbeddingModel, p.EmbeddingDim)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the resolved project and its memory counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			stats, err := a.manager.Stats(proj)
			if err != nil {
				return err
			}

			fmt.Printf("Project:   %s (%s)\n", proj.Name, proj.RootPath)
			fmt.Printf("Embedder:  %s/%s, %d dims\n", proj.EmbeddingProvider, proj.EmbeddingModel, proj.EmbeddingDim)
			fmt.Printf("Confirmed: %d\nPending:   %d\nStale:     %d\nArchived:  %d\n",
				stats.Confirmed, stats.Pending, stats.Stale, stats.Archived)

			if a.syncEngine != nil {
				st, err := a.syncEngine.Status(proj)
				if err != nil {
					return err
				}
				fmt.Printf("Sync:      %d unpushed, %d unresolved conflicts\n",
					len(st.PendingMemories), st.Unresolved)
			}
			return nil
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and rebuild the project's vector index from the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}
			indexed, err := a.manager.Rebuild(cmd.Context(), proj)
			if err != nil {
				return err
			}
			fmt.Printf("re-indexed %d memories\n", indexed)
			return nil
		})
	},
}

func init() {
	initCmd.Flags().StringVar(&initRoot, "root", "", "project root directory (default: current directory)")
	initCmd.Flags().StringVar(&initProvider, "provider", "", "embedding provider (default: configured provider)")
	initCmd.Flags().StringVar(&initModel, "model", "", "embedding model (default: configured model)")
	initCmd.Flags().IntVar(&initDim, "dim", 0, "embedding dimension (default: configured dimension)")

	projectSetEmbeddingCmd.Flags().StringVar(&setEmbeddingProvider, "provider", "", "embedding provider (default: configured provider)")
	projectSetEmbeddingCmd.Flags().StringVar(&setEmbeddingModel, "model", "", "embedding model (default: configured model)")
	projectSetEmbeddingCmd.Flags().IntVar(&setEmbeddingDim, "dim", 0, "embedding dimension (default: configured dimension)")

	projectCmd.AddCommand(projectListCmd, projectSwitchCmd, projectSetEmbeddingCmd)
	rootCmd.AddCommand(initCmd, projectCmd, statusCmd, rebuildCmd)
}
