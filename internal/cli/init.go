package cli

import (
	"fmt"
	"os"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/spf13/cobra"
)

var initRoot string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the comfykit workspace",
	Long: `Create the config directory, record the workspace root, and create the
custom_nodes, models, and workflows directories if they are missing.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRoot, "root", "", "Workspace root containing the node engine checkout")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.EnsureDir(); err != nil {
		return err
	}

	if initRoot != "" {
		if err := config.Set("paths.root", initRoot); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Workspace root set to %s\n", initRoot)
	}

	paths := config.ResolvePaths()
	for _, dir := range []string{paths.CustomNodes, paths.Models, paths.Workflows} {
		if _, err := os.Stat(dir); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  exists   %s\n", dir)
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  created  %s\n", dir)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWorkspace ready. Config lives at %s\n", config.FilePath())
	return nil
}
