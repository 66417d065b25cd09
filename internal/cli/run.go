package cli

import "github.com/spf13/cobra"

// run is an explicit alias for the root command so service managers can
// spell out the intent.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full parse-and-persist pipeline",
	Run:   runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}
