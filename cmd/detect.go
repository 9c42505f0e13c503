package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sxngo/sxngo/internal/detector"
)

func detectCmd() *cobra.Command {
	var withDefaults bool

	cmd := &cobra.Command{
		Use:   "detect [directory]",
		Short: "Classify a project directory and suggest a default rule set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			profile, err := detector.Detect(dir)
			if err != nil {
				return fmt.Errorf("detect project type: %w", err)
			}

			out := map[string]interface{}{
				"type":            profile.Type,
				"language":        profile.Language,
				"package_manager": profile.PackageManager,
				"framework":       profile.Framework,
				"has_docker":      profile.HasDocker,
				"has_tests":       profile.HasTests,
				"has_ci":          profile.HasCI,
				"database":        profile.Database,
				"sensitive_files": profile.SensitiveFiles,
			}
			if withDefaults {
				out["default_rules"] = detector.DefaultRules(profile)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&withDefaults, "with-defaults", false, "include the proposed default rule set in the output")
	return cmd
}
