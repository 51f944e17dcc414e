package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleeDevp/italihub-moderation/internal/audit"
	"github.com/AleeDevp/italihub-moderation/internal/auth"
	"github.com/AleeDevp/italihub-moderation/internal/config"
	"github.com/AleeDevp/italihub-moderation/internal/db"
	"github.com/AleeDevp/italihub-moderation/internal/moderation"
	"github.com/AleeDevp/italihub-moderation/internal/notifications"
	"github.com/AleeDevp/italihub-moderation/internal/server"
)

var allowAllOrigins bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the moderation HTTP server",
	Long:  `Starts the moderation service: the review API, the audit trail, and the live notification stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, "moderation.db")
		database, err := db.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		hub := notifications.NewHub(time.Duration(cfg.PingSeconds) * time.Second)

		var events notifications.EventPublisher
		if cfg.Kafka.Enabled() {
			kafka := notifications.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			defer kafka.Close()
			events = kafka
		}

		notifStore := notifications.NewStore(database)
		dispatcher := notifications.NewDispatcher(notifStore, hub, events)

		auditStore := audit.NewStore(database)
		engine := moderation.NewEngine(
			moderation.NewStore(database),
			audit.NewLedger(auditStore),
			dispatcher,
		)

		srv := server.New(server.Config{
			Addr:        cfg.Addr(),
			CORSOrigins: cfg.CORSOrigins,
			AllowAll:    allowAllOrigins,
		}, server.Deps{
			DB:            database,
			Verifier:      auth.NewVerifier(cfg.JWTSecret),
			Engine:        engine,
			Notifications: notifStore,
			Hub:           hub,
			Audit:         auditStore,
		})

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "italihub-moderation v%s starting on %s\n", Version, cfg.Addr())
		fmt.Fprintf(os.Stderr, "  Database: %s\n", dbPath)
		if cfg.Kafka.Enabled() {
			fmt.Fprintf(os.Stderr, "  Kafka: %v (topic %s)\n", cfg.Kafka.Brokers, cfg.Kafka.Topic)
		}

		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&allowAllOrigins, "allow-all-origins", false, "allow all CORS origins (dev mode)")
	rootCmd.AddCommand(serveCmd)
}
