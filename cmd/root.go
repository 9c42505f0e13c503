// Package cmd provides a thin cobra CLI wrapper around the Rules
// Engine, Project Detector, and Session Store. It is an illustrative
// entry point, not a product surface: the core contract lives in
// internal/engine, internal/detector, and internal/sessionstore.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/sxngo/sxngo/cmd.Version=v1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sxn",
	Short: "sxn — rules engine for session setup",
	Long:  "sxn applies a rules configuration (file copy, shell commands, templates) against a session directory, and catalogs sessions in an embedded store.",
}

func init() {
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(sessionsCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sxn %s\n", Version)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
