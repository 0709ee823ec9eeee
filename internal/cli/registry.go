package cli

import (
	"fmt"
	"time"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/spf13/cobra"
)

var registryAddFolder string

func init() {
	registryCmd.AddCommand(registryListCmd)
	registryAddCmd.Flags().StringVar(&registryAddFolder, "folder", "", "Model subdirectory hint (models only)")
	registryCmd.AddCommand(registryAddCmd)
	rootCmd.AddCommand(registryCmd)
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect and grow the source registry",
	Long: `The registry maps identifiers to candidate source URLs. It only grows:
adding a source for a known identifier appends it, and the newest source
is preferred at resolution time.`,
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.ResolvePaths()
		store, err := registry.Open(paths.Registry)
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}

		entries := store.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Registry is empty.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%-9s  %-40s  %s\n", e.Kind, e.Identifier, e.PreferredSource())
			for _, s := range e.Sources[:len(e.Sources)-1] {
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s  %-40s    (older) %s\n", "", "", s)
			}
		}
		return nil
	},
}

var registryAddCmd = &cobra.Command{
	Use:   "add <extension|model> <identifier> <url>",
	Short: "Add a source for an identifier",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := registry.Kind(args[0])
		if kind != registry.KindExtension && kind != registry.KindModel {
			return fmt.Errorf("unknown kind %q, expected extension or model", args[0])
		}

		paths := config.ResolvePaths()
		store, err := registry.Open(paths.Registry)
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}

		entry := registry.Entry{
			Identifier: args[1],
			Kind:       kind,
			Sources:    []string{args[2]},
			Folder:     registryAddFolder,
			AddedAt:    time.Now().UTC(),
		}
		if err := store.Append(entry); err != nil {
			return fmt.Errorf("adding registry entry: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s -> %s\n", kind, args[1], args[2])
		return nil
	},
}
