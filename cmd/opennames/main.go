// Command opennames loads the OS OpenNames gazetteer into a graph or
// relational store through a resumable fetch, process, import and clean
// pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/opennames/internal/config"
	"github.com/JonMunkholm/opennames/internal/logging"
)

var (
	version = "dev"

	cfg *config.Config
)

// Flags that override configuration for one invocation.
var (
	includeFiles []string
	batchSize    int
	importDir    string
	profilePath  string
	noProgress   bool
)

var rootCmd = &cobra.Command{
	Use:   "opennames",
	Short: "Load OS OpenNames into a place store",
	Long: `opennames downloads the current OS OpenNames release, keeps the
populated places and postcodes, reprojects them to WGS84 and loads them into
Neo4j or PostgreSQL. Every step is recorded per input file so an interrupted
pass resumes where it stopped.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&importDir, "import-dir", "", "directory for processed artifacts (overrides IMPORT_DIR)")
	pf.StringVar(&profilePath, "profile", "", "YAML customisation profile (overrides PIPELINE_PROFILE)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	// Overload so a checked-out .env wins over a stale shell export.
	envErr := godotenv.Overload()

	c, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, c)

	logging.Setup(c.Logging.Level, c.Logging.Format)
	if envErr != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	slog.Debug("configuration loaded", "config", c.String())

	cfg = c
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("include") {
		c.Pipeline.IncludeFiles = includeFiles
	}
	if flags.Changed("batch-size") {
		c.Pipeline.BatchSize = batchSize
	}
	if flags.Changed("import-dir") {
		c.Pipeline.ImportDir = importDir
	}
	if flags.Changed("profile") {
		c.Pipeline.ProfilePath = profilePath
	}
}
