// Package cli defines the taskd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Run() {
	// Optional .env for local development; real deployments use the
	// environment or the config file.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "taskd",
		Short: "taskd runs prioritized tasks on a fixed worker pool",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
