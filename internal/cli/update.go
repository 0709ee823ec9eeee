package cli

import (
	"fmt"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/update"
	"github.com/spf13/cobra"
)

var updateCheckOnly bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check installed extensions for upstream changes and apply them",
	Long: `Compare every installed extension's local revision against its upstream
source. With --check, only report; otherwise each updatable extension is
pulled and its requirements reinstalled inside a snapshot transaction.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateCheckOnly, "check", false, "Report without applying updates")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	paths := config.ResolvePaths()

	store, err := registry.Open(paths.Registry)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}

	checker := update.NewChecker(paths.CustomNodes, store, update.WithCacheTTL(cacheTTL()))
	items, err := checker.Check(cmd.Context())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No installed extensions found.")
		return nil
	}

	updatable := 0
	for _, item := range items {
		switch item.Status {
		case update.StatusUpdatable:
			fmt.Fprintf(cmd.OutOrStdout(), "  %-40s  %s -> %s\n", item.Name, short(item.Local), short(item.Remote))
			updatable++
		case update.StatusCurrent:
			fmt.Fprintf(cmd.OutOrStdout(), "  %-40s  up to date\n", item.Name)
		case update.StatusUnknownSource:
			fmt.Fprintf(cmd.OutOrStdout(), "  %-40s  no known source\n", item.Name)
		}
	}

	if updatable == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nEverything is up to date.")
		return nil
	}
	if updateCheckOnly {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d extensions can be updated. Run 'comfykit update' to apply.\n", updatable)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "\nUpdating...")
	results, err := update.UpdateAll(cmd.Context(), buildNet(), items)
	for _, r := range results {
		if r.Committed() {
			fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s\n", r.Name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %s (rolled back: %v)\n", r.Name, r.Err)
		}
	}
	return err
}

// short truncates a revision marker for display. Git hashes shorten to
// seven characters; version strings pass through.
func short(rev string) string {
	if len(rev) == 40 {
		return rev[:7]
	}
	return rev
}
