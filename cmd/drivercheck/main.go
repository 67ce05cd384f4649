// Command drivercheck runs classification and spreadsheet imports from the terminal,
// against the same database and taxonomy as the bot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drivercheck/drivercheck-bot/config"
	"github.com/drivercheck/drivercheck-bot/internal/bot"
	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
)

var (
	taxonomyFile string
	logLevel     string

	rootCmd = &cobra.Command{
		Use:   "drivercheck",
		Short: "Driver incident classification and import tool",
		Long: `drivercheck classifies driver incident comments and imports report and
company spreadsheets into the DriverCheck database.

Configuration is read from the environment and from the bot's config.env.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func init() {
	rootCmd.PersistentFlags().StringVar(&taxonomyFile, "taxonomy", "", "taxonomy YAML file (default: built-in taxonomy)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(taxonomyCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// After the first interrupt a second one kills the process.
	context.AfterFunc(ctx, cancel)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	config.LoadEnvFile()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

// loadTaxonomy returns the taxonomy selected by --taxonomy.
func loadTaxonomy() (*taxonomy.Index, error) {
	if taxonomyFile == "" {
		return taxonomy.Default(), nil
	}
	data, err := os.ReadFile(taxonomyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	index, err := taxonomy.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid taxonomy %s: %w", taxonomyFile, err)
	}
	return index, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drivercheck %s (built %s)\n", bot.Version, bot.BuildTime)
		},
	}
}
