package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facemorph/internal/logging"
	"github.com/andresmejia3/facemorph/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// DB is opened on demand by commands that need the catalog database.
	DB *store.Store
	// Log is the process logger, built before any subcommand runs.
	Log *zap.Logger

	dbURL   string
	verbose bool
)

// Version is the application version.
const Version = "0.1.0"

var errNoDatabase = errors.New("no database configured (use --db or POSTGRES_HOST)")

var rootCmd = &cobra.Command{
	Use:     "facemorph",
	Short:   "Age a face toward a target age group with average-face warping",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Log, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C.
			DB.Close(context.Background())
			DB = nil
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the average-face catalog")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging in console format")
}

// databaseURL resolves the catalog DSN from --db, then the POSTGRES_* environment.
// It returns "" when neither is set.
func databaseURL() string {
	if dbURL != "" {
		return dbURL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// openDB connects to the catalog database once per process.
func openDB(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	url := databaseURL()
	if url == "" {
		return nil, errNoDatabase
	}
	s, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

func logger() *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log
}
