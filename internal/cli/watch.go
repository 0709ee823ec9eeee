package cli

import (
	"fmt"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/installer"
	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/resolve"
	"github.com/dsustudio/comfykit/internal/scanstate"
	"github.com/dsustudio/comfykit/internal/watcher"
	"github.com/spf13/cobra"
)

var watchInstall bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workflows directory and scan new documents",
	Long: `Watch the workflows directory for new or changed documents and scan each
one as it settles. With --install, missing dependencies with known
sources are installed immediately.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInstall, "install", false, "Install pending dependencies as they are discovered")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	paths := config.ResolvePaths()

	store, err := registry.Open(paths.Registry)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}

	cache, err := scanstate.Load(paths.ScanCache)
	if err != nil {
		return err
	}

	w, err := watcher.New(paths.Workflows)
	if err != nil {
		return err
	}
	defer w.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(cmd.Context()) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for workflow changes...\n", paths.Workflows)

	for {
		select {
		case err := <-errCh:
			return err
		case path, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := handleWorkflow(cmd, paths, store, cache, path); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "  error: %s: %v\n", path, err)
			}
		}
	}
}

// handleWorkflow scans one settled document and optionally installs what it
// is missing. A broken document is reported, never fatal to the watch loop.
func handleWorkflow(cmd *cobra.Command, paths config.Paths, store registry.Store, cache *scanstate.Cache, path string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "\nScanning %s\n", path)

	refs, err := scanFiles([]string{path}, cache, true, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	resolutions, err := resolveRefs(paths, store, refs)
	if err != nil {
		return err
	}
	printResolutions(cmd.OutOrStdout(), resolutions)

	if watchInstall {
		hasPending := false
		for _, res := range resolutions {
			if res.Status == resolve.StatusPending {
				hasPending = true
				break
			}
		}
		if hasPending {
			inst := &installer.Installer{
				CustomNodesDir: paths.CustomNodes,
				ModelsDir:      paths.Models,
				Net:            buildNet(),
				Engine:         buildEngine(cmd.ErrOrStderr()),
			}
			results, err := inst.InstallAll(cmd.Context(), resolutions)
			for _, r := range results {
				if r.Err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s: %s\n", r.Kind, r.Identifier)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %s: %s (%v)\n", r.Kind, r.Identifier, r.Err)
				}
			}
			if err != nil {
				return err
			}
		}
	}

	return cache.Save()
}
