package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/retrieval"
)

var (
	searchCategory string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search confirmed memories by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			proj, err := a.router.Resolve(projectFlag)
			if err != nil {
				return err
			}

			hits, err := a.search.Search(cmd.Context(), proj, retrieval.Query{
				Text:     args[0],
				Category: models.Category(searchCategory),
				Limit:    searchLimit,
			})
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No matches")
				return nil
			}

			for _, h := range hits {
				fmt.Printf("%.3f  %s [%s] %s\n", h.Score, h.Memory.ID, h.Memory.Category, truncate(h.Memory.Content, 64))
			}
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchCategory, "category", "c", "", "restrict to one category")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")

	rootCmd.AddCommand(searchCmd)
}
