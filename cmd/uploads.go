package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/transcript-index/internal/service/media"
)

// uploadsCmd represents the uploads command
var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Inspect the uploads directory",
}

// uploadsListCmd lists videos waiting in the uploads directory
var uploadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded videos",
	Long:  `List the .mp4 and .mov files currently in the uploads directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		names, err := media.NewScanner(cfg.Dirs.Uploads, 0, nil).List()
		if err != nil {
			return fmt.Errorf("failed to list uploads: %w", err)
		}
		if len(names) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No uploads in %s\n", cfg.Dirs.Uploads)
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	uploadsCmd.AddCommand(uploadsListCmd)
}
