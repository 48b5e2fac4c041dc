package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caltechlibrary/documentarist/internal/inputs"
	"github.com/caltechlibrary/documentarist/internal/logger"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
	"github.com/caltechlibrary/documentarist/internal/recognize"
)

var version = "0.7.0"

var rootCmd = &cobra.Command{
	Use:   "dm",
	Short: "Documentarist - analyze scanned documents with pluggable stages",
	Long: `Documentarist analyzes batches of scanned document images through a
pipeline of stages: cropping to the content region, text recognition,
figure localization, content description and date spotting. Results are
written as hOCR and JSON files, and every call to a paid recognition
service is cached so repeated runs cost nothing new.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Documentarist executed")

		fmt.Println("Documentarist " + version)
		fmt.Println("Use --help to see available commands and options.")
	},
}

// Process exit codes.
const (
	exitOK          = 0
	exitNoNetwork   = 1
	exitBadArgument = 2
	exitFileError   = 3
	exitInterrupted = 4
	exitException   = 5
)

// usageError marks command misuse so Execute exits with the bad-argument
// code.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode classifies a command failure into the documented process exit
// codes.
func exitCode(err error) int {
	var usage usageError
	var confErr *pipeline.ConfigurationError
	var download *inputs.DownloadError

	errStr := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &usage), errors.As(err, &confErr):
		return exitBadArgument
	case strings.Contains(errStr, "config validation failed"),
		strings.Contains(errStr, "credentials not configured"),
		strings.Contains(errStr, "unknown flag"),
		strings.Contains(errStr, "unknown command"),
		strings.Contains(errStr, "invalid argument"):
		return exitBadArgument
	case errors.As(err, &download),
		errors.Is(err, recognize.ErrServiceUnavailable),
		errors.Is(err, recognize.ErrQuotaExceeded):
		return exitNoNetwork
	case strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "connection refused"):
		return exitNoNetwork
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, inputs.ErrNotImage):
		return exitFileError
	default:
		// Cache inconsistency, timeouts and everything unexpected.
		return exitException
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
