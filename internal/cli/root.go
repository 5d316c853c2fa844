// Package cli implements the command-line interface for revdb.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/revdb/internal/config"
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/server"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var (
	rootDataDir  string
	rootConfig   string
	rootLogLevel string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Server *server.Server
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Server != nil {
		c.Server.Close()
	}
}

// initContext loads the configuration and opens the server
func initContext() *cmdContext {
	if err := config.LoadEnv(); err != nil {
		exitError("failed to load .env: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		exitError("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitError("invalid config: %v", err)
	}

	logger := config.NewLogger(cfg, os.Stderr)
	dbOpts, err := cfg.StoreOptions(logger)
	if err != nil {
		exitError("%v", err)
	}

	srv, err := server.New(cfg.DataDir, server.Options{Logger: logger, Database: dbOpts})
	if err != nil {
		exitError("failed to open data directory: %v", err)
	}
	return &cmdContext{Config: cfg, Server: srv}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case rootConfig != "":
		cfg, err = config.Load(rootConfig)
	case rootDataDir != "":
		cfg, err = config.LoadFromDir(rootDataDir)
	default:
		dir := os.Getenv(config.EnvDataDir)
		if dir == "" {
			dir = config.DefaultDataDir
		}
		cfg, err = config.Load(filepath.Join(dir, config.ConfigFile))
	}
	if err != nil {
		return nil, err
	}
	if rootDataDir != "" {
		cfg.DataDir = rootDataDir
	}
	if rootLogLevel != "" {
		cfg.LogLevel = rootLogLevel
	}
	return cfg, nil
}

// do runs fn on the named database's work queue and exits on failure.
func (c *cmdContext) do(name string, fn func(db *store.Database) error) {
	if err := c.Server.Do(context.Background(), name, fn); err != nil {
		exitStatus(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "revdb",
	Short: "Embedded document database with revision trees",
	Long: `revdb stores JSON documents as trees of revisions, keeps conflicting
branches side by side, and attaches binary files by content digest.
Every database is a single file in the data directory.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDataDir, "data-dir", "", "Data directory (default $REVDB_DATA_DIR or ./"+config.DefaultDataDir+")")
	rootCmd.PersistentFlags().StringVar(&rootConfig, "config", "", "Config file (default <data-dir>/"+config.ConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(dbsCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(allDocsCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(localCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// exitStatus prints an error with its status and exits
func exitStatus(err error) {
	exitError("%s: %v", models.StatusOf(err), err)
}

// printBody writes a document body as indented JSON.
func printBody(body *models.Body) {
	data, err := body.JSON()
	if err != nil {
		exitError("failed to encode document: %v", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		exitError("failed to format document: %v", err)
	}
	fmt.Println(out.String())
}

// shortRev returns a revision ID with its suffix cut to 8 characters
func shortRev(revID string) string {
	gen, suffix, ok := models.ParseRevID(revID)
	if !ok || len(suffix) <= 8 {
		return revID
	}
	return fmt.Sprintf("%d-%s", gen, suffix[:8])
}
