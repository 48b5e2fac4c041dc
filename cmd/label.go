package cmd

import (
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label [sources...]",
	Short: "Describe the figures and content of document images",
	Long: `Run the figure and content description stages over document images.

This is a preset of 'dm extract --stages figures,content': each image is
cropped to its content region, the recognized text feeds a content summary
(description, subjects, document type, language), photographs and
illustrations are localized, and results are written as usual.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  OPENAI_API_KEY - OpenAI API key for content description`,
	Example: `  # Label every scan in a directory
  dm label scans/

  # JSON output only, and ask the services again
  dm label scans/ --formats json --refresh`,
	Args: cobra.ArbitraryArgs,
	RunE: runLabel,
}

func init() {
	rootCmd.AddCommand(labelCmd)

	addRunFlags(labelCmd)
}

func runLabel(cmd *cobra.Command, args []string) error {
	return runAnalysis(cmd, args, "figures,content", "label")
}
