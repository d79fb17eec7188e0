package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"snapmem/pkg/config"
	"snapmem/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage snapmem configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (SNAPMEM_*)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.snapmem.yaml'
unless a different path is specified with the --config flag.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run:   runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Export and output path accessibility`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# snapmem configuration file
#
# Every option can also be set with an environment variable prefixed with
# SNAPMEM_, for example SNAPMEM_HTML or SNAPMEM_WORKERS.

input:
  # memories_history.html from the Snapchat data export
  html_path: "./html/memories_history.html"

  # full processes everything, test takes two videos and two images
  mode: "full"

  # Process at most this many memories; 0 means no cap
  limit: 0

output:
  # Composited memories
  processed_dir: "snapchat_memories_processed"

  # Raw media and overlay components
  raw_dir: "snapchat_memories_raw"

  # Any gocloud blob URL, for example s3://bucket/prefix; overrides raw_dir
  raw_bucket_url: ""

  # Ledger index; defaults to a hidden file in processed_dir
  ledger_index: ""

  # Set file modification times to the memory's capture date
  preserve_timestamps: true

download:
  # Concurrent downloads. 1 keeps requests sequential and paced.
  workers: 1

  # Per-request timeout
  timeout: 30s

  # Minimum gap between request starts while sequential (at least 500ms)
  request_spacing: 500ms

  user_agent: "snapmem/1.0"

retry:
  # Retries after the first attempt
  # Range: 0-10
  max_retries: 3
  base_delay: 1s
  max_delay: 30s
  multiplier: 2.0
  jitter_factor: 0.1

compositor:
  ffmpeg_path: "ffmpeg"
  ffprobe_path: "ffprobe"

  # Longest a single ffmpeg run may take
  timeout: 5m

  # Smaller video outputs are treated as failed compositions
  min_output_bytes: 10000

  jpeg_quality: 95

notifications:
  enabled: false
  on_complete: true
  on_error: true

  # terminal or desktop
  notification_type: "terminal"

logging:
  # Log level: debug, info, warn, error
  level: "info"

  # JSON log file (optional)
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = ".snapmem.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Point input.html_path at your memories_history.html")
	fmt.Println("2. Run 'snapmem config validate' to check the configuration")
	fmt.Println("3. Try a small batch with 'snapmem run --test'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (SNAPMEM_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
}

// configProblems returns blocking errors and warnings beyond Validate
func configProblems(cfg *config.Config) (errors, warnings []string) {
	if _, err := os.Stat(cfg.Input.HTMLPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("Export not found at %s", cfg.Input.HTMLPath))
	}
	for _, dir := range []string{cfg.Output.ProcessedDir, cfg.Output.RawDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("Cannot create output directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			errors = append(errors, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	if cfg.Retry.MaxRetries > 10 {
		errors = append(errors, "max_retries must be between 0 and 10")
	}
	if cfg.Download.Workers > 16 {
		warnings = append(warnings, "more than 16 workers is likely to be throttled")
	}
	return errors, warnings
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	errors, warnings := configProblems(cfg)
	if len(errors) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, err := range errors {
			fmt.Printf("  - %s\n", err)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Export: %s\n", cfg.Input.HTMLPath)
	fmt.Printf("  Processed directory: %s\n", cfg.Output.ProcessedDir)
	fmt.Printf("  Workers: %d\n", cfg.Download.Workers)
	fmt.Printf("  Request spacing: %s\n", cfg.Download.RequestSpacing)
	fmt.Printf("  Max retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}
