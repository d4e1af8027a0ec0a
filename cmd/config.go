package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/transcript-index/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
	Long:  `Manage configuration settings for tidx.`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with commented defaults.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(); err != nil {
			return err
		}

		configPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created configuration file: %s\n", configPath)
		fmt.Fprintln(cmd.OutOrStdout(), "Set DAILY_API_KEY or DEEPGRAM_API_KEY in this file or the environment to enable those services.")

		return nil
	},
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the configuration file path and resolved settings. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		// Load and display current config
		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file: %s\n\n", configPath)
		fmt.Fprint(cmd.OutOrStdout(), formatConfig(cfg))
		return nil
	},
}

func formatConfig(cfg *config.Config) string {
	databaseURL := "(not set)"
	if cfg.DatabaseURL != "" {
		if dbCfg, err := cfg.ParseDatabaseConfig(); err == nil {
			userInfo := dbCfg.User
			if dbCfg.Password != "" {
				userInfo += ":" + config.Mask(dbCfg.Password)
			}
			databaseURL = fmt.Sprintf("postgres://%s@%s:%d/%s", userInfo, dbCfg.Host, dbCfg.Port, dbCfg.DBName)
		} else {
			databaseURL = "(invalid)"
		}
	}

	schedule := cfg.Ingest.UploadsSchedule
	if schedule == "" {
		schedule = "(disabled)"
	}

	return fmt.Sprintf(`UPLOAD_DIR:           %s
TRANSCRIPTS_DIR:      %s
INDEX_DIR:            %s
RECORDINGS_DIR:       %s
DAILY_API_KEY:        %s
DAILY_API_URL:        %s
DAILY_ROOM_NAME:      %s
DAILY_MAX_RECORDINGS: %d
DEEPGRAM_API_KEY:     %s
DEEPGRAM_MODEL:       %s
WHISPER_MODEL:        %s
INGEST_WORKERS:       %d
UPLOADS_SCHEDULE:     %s
PORT:                 %d
DATABASE_URL:         %s
`,
		cfg.Dirs.Uploads, cfg.Dirs.Transcripts, cfg.Dirs.Index, cfg.Dirs.Recordings,
		config.Mask(cfg.Daily.APIKey), cfg.Daily.APIURL, cfg.Daily.RoomName, cfg.Daily.MaxRecordings,
		config.Mask(cfg.Deepgram.APIKey), cfg.Deepgram.Model, cfg.Whisper.Model,
		cfg.Ingest.Workers, schedule, cfg.Server.Port, databaseURL)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
