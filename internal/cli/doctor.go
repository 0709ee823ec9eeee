package cli

import (
	"github.com/dsustudio/comfykit/internal/doctor"
	"github.com/spf13/cobra"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check tooling and workspace health",
	Long: `Verify that the Python interpreter, pip, and git are usable, that the
workspace directories exist and are writable, and that the registry
store parses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doctor.Check(cmd.Context(), cmd.OutOrStdout(), doctorFix)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Create missing workspace directories")
	rootCmd.AddCommand(doctorCmd)
}
