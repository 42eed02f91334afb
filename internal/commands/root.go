package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"smartshot/internal/config"
	"smartshot/internal/database"
)

// AppVersion is set by main from build flags
var AppVersion = "0.0.0-dev"

// Config keys shared by flags, env (SMARTSHOT_*) and ~/.smartshot/config.yaml
const (
	keyDatabaseURL = "database_url"
	keyServerURL   = "server_url"
	keyVerbose     = "verbose"
)

// cli carries the viper instance the subcommands read settings from
type cli struct {
	v       *viper.Viper
	cfgFile string
}

// ConfigDir returns ~/.smartshot
func ConfigDir() string {
	return config.ExpandHome(filepath.Join("~", ".smartshot"))
}

// NewRootCmd creates the smartshot command with all subcommands attached
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "smartshot",
		Short: "SmartShot - browse and follow your screenshot library",
		Long: `SmartShot indexes screenshots as they land on disk and keeps every
open viewer in sync.

Commands:
  search       Search recorded screenshots
  stats        Show library statistics
  add <path>   Record a screenshot file
  viewer       Follow a running server live

Config: ~/.smartshot/config.yaml (env prefix SMARTSHOT_)`,
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "Config file (default ~/.smartshot/config.yaml)")
	flags.String("database", "smartshot.db", "Database path or mysql:// DSN")
	flags.String("server", "ws://localhost:8000/ws", "Viewer endpoint of a running server")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")

	c.v.BindPFlag(keyDatabaseURL, flags.Lookup("database"))
	c.v.BindPFlag(keyServerURL, flags.Lookup("server"))
	c.v.BindPFlag(keyVerbose, flags.Lookup("verbose"))

	root.AddCommand(
		newSearchCmd(c),
		newStatsCmd(c),
		newAddCmd(c),
		newViewerCmd(c),
	)

	return root
}

func (c *cli) initConfig() error {
	c.v.SetEnvPrefix("SMARTSHOT")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.v.AddConfigPath(ConfigDir())
	c.v.SetConfigName("config")
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// openDB opens and migrates the configured store
func (c *cli) openDB() (*database.DB, error) {
	dsn := config.ExpandHome(c.v.GetString(keyDatabaseURL))
	db, err := database.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}
