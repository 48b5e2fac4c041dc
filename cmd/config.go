package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caltechlibrary/documentarist/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration after environment and defaults are applied",
	Long: `Print every configuration value the tool would run with, resolved from
the environment (including a .env file, if present) and built-in defaults.
Secrets are reported as set or not set, never echoed.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("Run execution:")
	fmt.Printf("  workers:             %d\n", cfg.Workers)
	fmt.Printf("  max attempts:        %d\n", cfg.MaxAttempts)
	fmt.Printf("  retry base delay:    %s\n", cfg.RetryBaseDelay)
	fmt.Printf("  retry max delay:     %s\n", cfg.RetryMaxDelay)
	fmt.Println("Recognition services:")
	fmt.Printf("  text provider:       %s\n", cfg.TextProvider)
	fmt.Printf("  language hints:      %s\n", orNone(strings.Join(cfg.LanguageHints, ", ")))
	fmt.Printf("  google credentials:  %s\n", googleCredentialState())
	fmt.Printf("  openai api key:      %s\n", secretState(cfg.OpenAIAPIKey))
	fmt.Printf("  openai model:        %s\n", cfg.OpenAIModel)
	fmt.Println("Service call cache:")
	fmt.Printf("  path:                %s\n", cfg.CachePath)
	fmt.Println("Output:")
	fmt.Printf("  directory:           %s\n", cfg.OutputDir)
	fmt.Printf("  url basename:        %s\n", cfg.Basename)
	fmt.Println("Logging:")
	fmt.Printf("  level:               %s\n", cfg.LogLevel)
	fmt.Printf("  format:              %s\n", cfg.LogFormat)
	fmt.Printf("  output:              %s\n", cfg.LogOutput)
	return nil
}

func secretState(value string) string {
	if value == "" {
		return "(not set)"
	}
	return "(set)"
}

func googleCredentialState() string {
	switch {
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return "file (GOOGLE_APPLICATION_CREDENTIALS)"
	case os.Getenv("GOOGLE_CREDENTIALS") != "":
		return "inline (GOOGLE_CREDENTIALS)"
	default:
		return "(not set)"
	}
}

func orNone(value string) string {
	if value == "" {
		return "(none)"
	}
	return value
}
