// Cadence CLI - keeps your calendar in sync and your day breathable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantumlife/cadence/internal/api"
	"github.com/quantumlife/cadence/internal/config"
	"github.com/quantumlife/cadence/internal/core"
	"github.com/quantumlife/cadence/internal/engine"
	"github.com/quantumlife/cadence/internal/logging"
	"github.com/quantumlife/cadence/internal/provider/google"
	"github.com/quantumlife/cadence/internal/snapshot"
)

var (
	// Config
	configPath string
	verbose    bool

	// Version
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cadence",
		Short: "Cadence - calendar sync & re-optimization engine",
		Long: `Cadence watches your external calendar, measures how busy your day
is, and fills free time with restorative events - breathing breaks,
movement, unhurried meals - without ever double-booking you.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logging.SetLevel(logging.DEBUG)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(disconnectCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cadence %s\n", version)
		},
	}
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Link a Google Calendar account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if cfg.Google.ClientID == "" {
				return fmt.Errorf("GOOGLE_CLIENT_ID is not set")
			}
			if cfg.Google.ClientSecret == "" {
				fmt.Print("Google OAuth client secret: ")
				secret, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("read client secret: %w", err)
				}
				cfg.Google.ClientSecret = string(secret)
			}

			oauth := google.NewOAuthClient(google.OAuthConfig{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Google.RedirectURL,
				Scopes:       google.DefaultOAuthConfig().Scopes,
			})

			token, err := oauth.StartOAuthFlow(cmd.Context())
			if err != nil {
				return err
			}

			data, err := google.TokenToJSON(token)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
				return err
			}
			if err := os.WriteFile(tokenPath(cfg), data, 0600); err != nil {
				return fmt.Errorf("save token: %w", err)
			}

			fmt.Println("Calendar connected. Run 'cadence sync' to pull your schedule.")
			return nil
		},
	}
}

func disconnectCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the linked calendar and stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := snapshot.Open(snapshotPath(cfg))
			if err == nil {
				defer store.Close()

				if purge {
					purgeEngineEvents(cmd.Context(), cfg, store)
				}
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
			}

			if err := os.Remove(tokenPath(cfg)); err != nil && !os.IsNotExist(err) {
				return err
			}

			fmt.Println("Disconnected.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge-events", false, "also delete engine-created events from the calendar")
	return cmd
}

// purgeEngineEvents removes our own events from the remote calendar before
// the snapshot is forgotten. Best effort: a failed delete is reported and
// skipped, never fatal to the disconnect.
func purgeEngineEvents(ctx context.Context, cfg *config.Config, store *snapshot.SQLiteStore) {
	data, err := os.ReadFile(tokenPath(cfg))
	if err != nil {
		return
	}
	token, err := google.TokenFromJSON(data)
	if err != nil {
		return
	}

	oauth := google.NewOAuthClient(google.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		Scopes:       google.DefaultOAuthConfig().Scopes,
	})
	client, err := google.NewClient(ctx, oauth, token, cfg.Google.CalendarID)
	if err != nil {
		fmt.Printf("  ! cannot reach calendar to purge events: %v\n", err)
		return
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return
	}
	for _, e := range snap.EngineEvents() {
		if err := client.DeleteEvent(ctx, e.ID); err != nil {
			fmt.Printf("  ! could not delete %q: %v\n", e.Title, err)
			continue
		}
		fmt.Printf("  - removed %q\n", e.Title)
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync once and show what changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, cleanup, err := buildEngine(false)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := ctrl.Connect(cmd.Context()); err != nil {
				return err
			}

			status := ctrl.Status()
			printChanges(status.Changes)
			if status.ShouldReoptimize {
				fmt.Println("\nSchedule drift is significant - run 'cadence optimize'.")
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := snapshot.Open(snapshotPath(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Load(cmd.Context())
			if err != nil {
				if errors.Is(err, core.ErrSnapshotNotFound) {
					fmt.Println("No snapshot yet - run 'cadence sync'.")
					return nil
				}
				return err
			}

			engineCount := len(snap.EngineEvents())
			fmt.Printf("Snapshot captured: %s\n", snap.CapturedAt.Local().Format(time.RFC1123))
			fmt.Printf("Events:            %d (%d engine-generated)\n", len(snap.Events), engineCount)
			fmt.Printf("Busy intervals:    %d\n", len(snap.Busy))
			return nil
		},
	}
}

func optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Sync, plan, and insert restorative events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, cleanup, err := buildEngine(false)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := ctrl.Connect(cmd.Context()); err != nil {
				return err
			}

			result, err := ctrl.Optimize(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Intensity: %s (%.0f%% busy)\n", result.Intensity.Level, result.Intensity.Ratio*100)
			if result.Plan.Empty() {
				fmt.Println("Nothing to add - your day already has what it needs.")
				return nil
			}

			for _, e := range result.Applied.Created {
				fmt.Printf("  + %-16s %s - %s\n", e.Category,
					e.Start.Local().Format("15:04"), e.End.Local().Format("15:04"))
			}
			for _, f := range result.Applied.Failed {
				fmt.Printf("  ! %-16s failed: %s\n", f.Candidate.Category, f.Error)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with the HTTP status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctrl, cleanup, err := buildEngine(true)
			if err != nil {
				return err
			}
			defer cleanup()

			server := api.New(api.Config{
				Host:   cfg.Server.Host,
				Port:   cfg.Server.Port,
				Engine: ctrl,
			})

			if err := ctrl.Connect(cmd.Context()); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
			}

			logging.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

// buildEngine assembles the controller from config, stored token, and
// snapshot database. autoSync controls background polling; one-shot
// commands disable it.
func buildEngine(autoSync bool) (*engine.Controller, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(tokenPath(cfg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("no linked calendar - run 'cadence connect' first")
		}
		return nil, nil, err
	}
	token, err := google.TokenFromJSON(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse stored token: %w", err)
	}

	oauth := google.NewOAuthClient(google.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		Scopes:       google.DefaultOAuthConfig().Scopes,
	})

	client, err := google.NewClient(context.Background(), oauth, token, cfg.Google.CalendarID)
	if err != nil {
		return nil, nil, err
	}

	store, err := snapshot.Open(snapshotPath(cfg))
	if err != nil {
		return nil, nil, err
	}

	syncCfg := cfg.Sync
	syncCfg.AutoSync = syncCfg.AutoSync && autoSync

	ctrl := engine.New(client, store, syncCfg, cfg.Planner)

	cleanup := func() {
		ctrl.Close()
		store.Close()
	}
	return ctrl, cleanup, nil
}

func printChanges(changes core.ChangeSet) {
	if changes.Empty() {
		fmt.Println("No external changes since last sync.")
		return
	}
	fmt.Printf("%d change(s): %d added, %d modified, %d deleted\n",
		changes.Total(), len(changes.Added), len(changes.Modified), len(changes.Deleted))
}

func tokenPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "token.json")
}

func snapshotPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "snapshot.db")
}
