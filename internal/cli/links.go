package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link <memory-id> <commit-sha>",
	Short: "Link a memory to the commit that motivated it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.links.Link(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("linked %s to %s\n", args[0], args[1])
			return nil
		})
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <memory-id> <commit-sha>",
	Short: "Remove a memory ↔ commit link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.links.Unlink(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("unlinked %s from %s\n", args[0], args[1])
			return nil
		})
	},
}

var linksCmd = &cobra.Command{
	Use:   "links <memory-id | commit-sha>",
	Short: "Show links for a memory, or memories behind a commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			// Try the argument as a memory first; fall back to commit.
			if _, err := a.manager.Get(args[0]); err == nil {
				links, err := a.links.Commits(args[0])
				if err != nil {
					return err
				}
				if len(links) == 0 {
					fmt.Println("No linked commits")
					return nil
				}
				for _, l := range links {
					fmt.Printf("%s  linked %s\n", l.CommitSHA, formatTime(l.CreatedAt))
				}
				return nil
			}

			memories, err := a.links.Memories(args[0])
			if err != nil {
				return err
			}
			if len(memories) == 0 {
				fmt.Println("No linked memories")
				return nil
			}
			for _, mem := range memories {
				printMemory(mem)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(linkCmd, unlinkCmd, linksCmd)
}
