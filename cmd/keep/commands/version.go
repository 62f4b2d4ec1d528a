package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/keep/internal/build"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			if build.Commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "keep version %s (%s)\n", build.Version, build.Commit)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keep version %s\n", build.Version)
		},
	}
}
