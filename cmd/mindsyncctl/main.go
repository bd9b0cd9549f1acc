// mindsyncctl is a maintenance tool for the local offline-sync queue:
// inspect pending records, run a sync against the backend, list dead
// letters, and clear offline data.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mindsentry/mindsync"
	"github.com/mindsentry/mindsync/internal/api"
	"github.com/mindsentry/mindsync/internal/netmon"
	"github.com/mindsentry/mindsync/internal/store"
)

var (
	dbPath string
	apiURL string
	token  string
	debug  bool
)

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// envTokens adapts the --token flag / env var to the TokenProvider surface.
type envTokens struct{ token string }

func (t *envTokens) AccessToken() (string, bool) { return t.token, t.token != "" }
func (t *envTokens) Logout()                     { log.Warn().Msg("session expired, please log in again") }

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mindsyncctl",
		Short: "Inspect and drain the MindSentry offline sync queue",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: "2006-01-02 15:04:05",
				NoColor:    true,
			})
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				_ = os.Setenv("MINDSYNC_DEBUG", "true")
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnv("MINDSYNC_DB", "mindsync.db"), "Path to the local queue database")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", getEnv("MINDSYNC_API_URL", "http://localhost:8000"), "Base URL of the MindSentry backend")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("MINDSYNC_TOKEN"), "Bearer token for the backend")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newPendingCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newDeadLettersCmd())
	rootCmd.AddCommand(newClearCmd())

	return rootCmd
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show unsynced record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			counts, err := st.PendingCounts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending check-ins: %d\npending messages:  %d\n",
				counts.PendingCheckIns, counts.PendingMessages)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync against the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			cfg, err := mindsync.LoadConfig()
			if err != nil {
				return err
			}
			remote := api.New(apiURL, &envTokens{token: token}, nil)
			probe := netmon.HTTPProbe(nil, apiURL+"/health")
			watcher := netmon.NewWatcher(probe, 5*time.Second, log.Logger)
			defer watcher.Close()

			engine := mindsync.New(st, remote, watcher,
				mindsync.WithConfig(cfg),
				mindsync.WithLogger(log.Logger))
			defer func() { _ = engine.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			start := time.Now()
			sum := engine.SyncAll(ctx)
			log.Info().
				Bool("success", sum.Success).
				Int("check_ins_synced", sum.CheckInsSynced).
				Int("messages_synced", sum.MessagesSynced).
				Strs("errors", sum.Errors).
				Dur("elapsed", time.Since(start)).
				Msg("sync finished")
			if !sum.Success {
				return fmt.Errorf("sync failed: %v", sum.Errors)
			}
			return nil
		},
	}
}

func newDeadLettersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List records parked after repeated delivery failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			for _, collection := range []string{store.CollectionCheckIns, store.CollectionChatMessages} {
				dead, err := st.ListAll(cmd.Context(), store.DeadLetterCollection(collection))
				if err != nil {
					return err
				}
				for _, rec := range dead {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tattempts=%d\n",
						collection, rec.ID, rec.Kind, rec.Attempts)
				}
			}
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var includeUnsynced bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear offline collections (dead letters always, queues with --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			names := []string{
				store.DeadLetterCollection(store.CollectionCheckIns),
				store.DeadLetterCollection(store.CollectionChatMessages),
			}
			if includeUnsynced {
				names = append(names, store.CollectionCheckIns, store.CollectionChatMessages)
			}
			if err := st.ClearCollections(cmd.Context(), names...); err != nil {
				return err
			}
			log.Info().Strs("collections", names).Msg("cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeUnsynced, "all", false, "Also drop unsynced queue records (data loss)")
	return cmd
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
