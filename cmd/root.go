// =============================================================================
// SEPA XML Converter - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (sepa-converter)
//   ├── convertCmd (sepa-converter convert)
//   ├── previewCmd (sepa-converter preview)
//   ├── sampleCmd  (sepa-converter sample)
//   ├── serveCmd   (sepa-converter serve)
//   └── versionCmd (sepa-converter version)
//
// CONFIGURATION:
//   Before any subcommand runs, the root command:
//   1. Loads variables from a .env file in the working directory, if present
//   2. Loads the YAML configuration (defaults when the file does not exist)
//   3. Applies SEPA_* environment overrides through viper
//   4. Sets up logging
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/logger"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// appConfig, appLog and logCloser are set up by loadRuntime.
var (
	appConfig *config.MainConfig
	appLog    = zerolog.Nop()
	logCloser io.Closer
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sepa-converter",
	Short: "SEPA XML Converter - Turn debit lists into pain.008 direct debit files",
	Long: `SEPA XML Converter reads direct debit lists from Excel workbooks or CSV
exports and writes SEPA Core Direct Debit initiation messages
(pain.008.001.02) for upload to the bank.

Key Features:
  - German and English amount and date spellings, detected automatically
  - Row-by-row validation with one message per problem
  - Creditor profiles per input file name
  - Concurrent processing of many files
  - HTTP API for browser front-ends

Example Usage:
  sepa-converter convert                      # Convert all files in the input directory
  sepa-converter convert members.xlsx --dry-run
  sepa-converter preview members.xlsx         # Show headers and first rows
  sepa-converter serve                        # Start the HTTP API`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadRuntime()
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// loadRuntime loads .env, the configuration file and the environment
// overrides, then builds the logger.
func loadRuntime() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}

	v := viper.New()
	config.BindEnv(v)
	if err := config.ApplyEnv(cfg, v); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	if verbose {
		cfg.LogLevel = "debug"
	}

	log, closer, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogFile,
	})
	if err != nil {
		return err
	}

	appConfig = cfg
	appLog = log
	logCloser = closer

	return nil
}
