package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medanchor/medanchor/internal/config"
	"github.com/medanchor/medanchor/internal/domain/fhirdoc"
	"github.com/medanchor/medanchor/internal/domain/identity"
	"github.com/medanchor/medanchor/internal/domain/procedure"
	"github.com/medanchor/medanchor/internal/platform/auth"
	"github.com/medanchor/medanchor/internal/platform/blobstore"
	"github.com/medanchor/medanchor/internal/platform/db"
	"github.com/medanchor/medanchor/internal/platform/ledger"
	"github.com/medanchor/medanchor/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medanchor-server",
		Short: "Procedure reconciliation and claim-document API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Ledger client. The server runs fine without one: records stay
	// local-only and anchor fields remain empty.
	var ledgerClient *ledger.Client
	if cfg.LedgerEnabled() {
		ledgerClient, err = ledger.Dial(cfg.LedgerURL, cfg.ContractAddr, cfg.LedgerTimeout, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("endpoint", cfg.LedgerURL).Msg("failed to dial ledger gateway")
		}
		logger.Info().Str("contract", cfg.ContractAddr).Msg("ledger anchoring enabled")
	} else {
		logger.Warn().Msg("CONTRACT_ADDRESS not set; ledger anchoring is disabled")
	}

	// Consent artifact store
	artifacts, err := blobstore.NewFSStore(cfg.ConsentDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ConsentDir).Msg("failed to open consent artifact store")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	// Identity domain
	practitionerRepo := identity.NewRepo(pool)
	identitySvc := identity.NewService(practitionerRepo)
	if ledgerClient != nil {
		identitySvc.SetLedger(ledgerClient)
	}
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	// Procedure domain
	patientRepo := procedure.NewPatientRepo(pool)
	procedureRepo := procedure.NewProcedureRepo(pool)
	consentRepo := procedure.NewConsentRepo(pool)
	procedureSvc := procedure.NewService(patientRepo, procedureRepo, consentRepo, artifacts)
	procedureSvc.SetLogger(logger)
	procedureSvc.SetTxRunner(func(ctx context.Context, fn func(context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	})
	if ledgerClient != nil {
		procedureSvc.SetLedger(ledgerClient, cfg.SigningKey, cfg.LedgerTimeout)
	}
	procedure.NewHandler(procedureSvc).RegisterRoutes(apiV1)

	// FHIR document generation
	registry := fhirdoc.NewRegistry(pool)
	fhirSvc := fhirdoc.NewService(procedureRepo, patientRepo, practitionerRepo, registry)
	fhirdoc.NewHandler(fhirSvc).RegisterRoutes(fhirGroup)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
