package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/installer"
	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/resolve"
	"github.com/dsustudio/comfykit/internal/scanstate"
	"github.com/spf13/cobra"
)

var (
	installYes     bool
	installSources []string
	installFolders []string
)

var installCmd = &cobra.Command{
	Use:   "install [workflow...]",
	Short: "Install everything the given workflows are missing",
	Long: `Scan workflow documents, resolve missing extensions and models, and
install them. Every environment mutation runs inside a snapshot
transaction: on failure the Python package set is restored and the
partial checkout removed.

Unknown references can be supplied a source inline:

  comfykit install --source ComfyUI-Impact-Pack=https://github.com/ltdrdata/ComfyUI-Impact-Pack

Sources given this way are remembered in the registry.`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Skip confirmation prompt")
	installCmd.Flags().StringArrayVar(&installSources, "source", nil, "Provide a source as <identifier>=<url> (repeatable)")
	installCmd.Flags().StringArrayVar(&installFolders, "folder", nil, "Model subdirectory hint as <identifier>=<subdir> (repeatable)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	paths := config.ResolvePaths()

	store, err := registry.Open(paths.Registry)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}

	files, err := collectWorkflowFiles(paths, args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workflow documents found.")
		return nil
	}

	cache, err := scanstate.Load(paths.ScanCache)
	if err != nil {
		return err
	}

	// Install always rescans: skipping a processed file could hide a
	// dependency that was uninstalled since.
	refs, err := scanFiles(files, cache, true, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	resolutions, err := resolveRefs(paths, store, refs)
	if err != nil {
		return err
	}

	sources, err := parsePairs(installSources, "--source")
	if err != nil {
		return err
	}
	folders, err := parsePairs(installFolders, "--folder")
	if err != nil {
		return err
	}
	if len(sources) > 0 {
		resolver := resolve.New(store)
		for _, res := range resolutions {
			url, ok := sources[res.Reference.Identifier]
			if !ok || res.Status != resolve.StatusUnknown {
				continue
			}
			folder := folders[res.Reference.Identifier]
			if err := resolver.Provide(res.Reference.Identifier, res.Reference.Kind, url, folder); err != nil {
				return fmt.Errorf("recording source for %s: %w", res.Reference.Identifier, err)
			}
		}
		// Re-resolve with the freshly provided sources.
		if resolutions, err = resolveRefs(paths, store, refs); err != nil {
			return err
		}
	}

	var pending, unknown int
	for _, res := range resolutions {
		switch res.Status {
		case resolve.StatusPending:
			pending++
		case resolve.StatusUnknown:
			unknown++
		}
	}

	if pending == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to install.")
		if unknown > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d references have no known source:\n", unknown)
			printResolutions(cmd.OutOrStdout(), resolutions)
		}
		return cache.Save()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Install plan (%d items):\n", pending)
	printResolutions(cmd.OutOrStdout(), resolutions)

	if !installYes {
		fmt.Fprint(cmd.OutOrStdout(), "? Proceed with installation? (Y/n) ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if answer != "" && answer != "y" && answer != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Installation cancelled.")
				return nil
			}
		}
	}

	inst := &installer.Installer{
		CustomNodesDir: paths.CustomNodes,
		ModelsDir:      paths.Models,
		Net:            buildNet(),
		Engine:         buildEngine(cmd.ErrOrStderr()),
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Installing...")
	results, err := inst.InstallAll(cmd.Context(), resolutions)

	installed := 0
	for _, r := range results {
		switch {
		case r.Err == nil:
			fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s: %s\n", r.Kind, r.Identifier)
			installed++
		case r.Conflict:
			fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %s: %s (package conflict, environment restored)\n", r.Kind, r.Identifier)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %s: %s (%v)\n", r.Kind, r.Identifier, r.Err)
		}
	}
	if installed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Installed %d items.\n", installed)
	}
	if err != nil {
		return err
	}
	return cache.Save()
}

// parsePairs splits repeatable key=value flags into a map.
func parsePairs(raw []string, flag string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, pair := range raw {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid %s value %q, expected <identifier>=<value>", flag, pair)
		}
		out[key] = value
	}
	return out, nil
}
