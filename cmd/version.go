package cmd

import (
	"fmt"
	"runtime"

	"github.com/fbz-tec/pg2parquet/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pg2parquet %s\n", version.AppVersion)
		fmt.Fprintf(out, "  build:  %s\n", version.BuildTime)
		fmt.Fprintf(out, "  commit: %s\n", version.GitCommit)
		fmt.Fprintf(out, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
