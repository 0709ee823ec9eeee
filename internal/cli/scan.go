package cli

import (
	"fmt"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/resolve"
	"github.com/dsustudio/comfykit/internal/scanstate"
	"github.com/spf13/cobra"
)

var scanAll bool

var scanCmd = &cobra.Command{
	Use:   "scan [workflow...]",
	Short: "Scan workflows and report dependency status",
	Long: `Parse workflow documents and classify every referenced extension and
model as installed, pending (a source is known), or unknown. Without
arguments, new files in the workflows directory are scanned; files seen
in an earlier scan are skipped unless --all is set.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Rescan workflows already processed")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
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

	refs, err := scanFiles(files, cache, scanAll || len(args) > 0, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No new workflow references found.")
		return cache.Save()
	}

	resolutions, err := resolveRefs(paths, store, refs)
	if err != nil {
		return err
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

	fmt.Fprintf(cmd.OutOrStdout(), "Found %d distinct references:\n", len(resolutions))
	printResolutions(cmd.OutOrStdout(), resolutions)

	if pending > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d pending. Run 'comfykit install' to install them.\n", pending)
	}
	if unknown > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d unknown. Provide sources with 'comfykit registry add' or 'comfykit install --source <id>=<url>'.\n", unknown)
	}

	return cache.Save()
}
