package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/recordchain/internal/config"
	"github.com/ehr/recordchain/internal/domain/access"
	"github.com/ehr/recordchain/internal/domain/auditlog"
	"github.com/ehr/recordchain/internal/domain/identity"
	"github.com/ehr/recordchain/internal/domain/record"
	"github.com/ehr/recordchain/internal/domain/version"
	"github.com/ehr/recordchain/internal/platform/auth"
	"github.com/ehr/recordchain/internal/platform/db"
	"github.com/ehr/recordchain/internal/platform/ledger"
	"github.com/ehr/recordchain/internal/platform/middleware"
	"github.com/ehr/recordchain/internal/platform/websocket"
	"github.com/ehr/recordchain/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordchain",
		Short: "Medical record integrity and access control API",
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(ingestCmd())
	cmd.AddCommand(tokenCmd())
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ingest, _ := cmd.Flags().GetBool("ingest")
			return runServer(ingest)
		},
	}
	cmd.Flags().Bool("ingest", true, "Run the ledger event ingestor in-process")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
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
	})

	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run only the ledger event ingestor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			keyring, network, err := dialLedger(cfg)
			if err != nil {
				return err
			}
			defer network.Close()

			gateway := ledger.NewGateway(network, logger)
			identitySvc := identity.NewService(identity.NewUserRepo(pool), identity.NewDoctorRepo(pool),
				identity.NewPatientRepo(pool), db.NewTransactor(pool), gateway, keyring.OperatorWallet(), logger)

			checkpoints, err := ledger.OpenCheckpointStore(cfg.EventCheckpointPath)
			if err != nil {
				return err
			}
			defer checkpoints.Close()

			// Nobody subscribes in this mode; entries are only persisted.
			hub := websocket.NewHub(logger)
			ing := auditlog.NewIngestor(network, checkpoints, identitySvc, auditlog.NewRepo(pool), hub, logger)
			logger.Info().Str("checkpoint", cfg.EventCheckpointPath).Msg("ingestor started")
			return ing.Run(ctx)
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user must be a UUID: %w", err)
			}
			if len(roles) == 0 {
				return errors.New("--roles is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSigningKey == "" {
				return errors.New("JWT_SIGNING_KEY is not set")
			}

			token, err := auth.NewToken(jwtConfig(cfg), id, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "Account UUID placed in the sub claim")
	cmd.Flags().StringSlice("roles", nil, "Roles to grant (admin, doctor, patient)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		SigningKey: []byte(cfg.JWTSigningKey),
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
	}
}

func dialLedger(cfg *config.Config) (*ledger.DirKeyring, *ledger.Network, error) {
	keyring, err := ledger.LoadDirKeyring(cfg.FabricMSPID, cfg.OperatorCertPath, cfg.OperatorKeyPath, cfg.WalletDir)
	if err != nil {
		return nil, nil, err
	}
	network, err := ledger.Dial(ledger.NetworkConfig{
		Endpoint:        cfg.FabricPeerEndpoint,
		GatewayPeer:     cfg.FabricGatewayPeer,
		TLSCertPath:     cfg.FabricTLSCert,
		Channel:         cfg.FabricChannel,
		Chaincode:       cfg.FabricChaincode,
		EvaluateTimeout: cfg.LedgerEvaluateTimeout,
		CommitTimeout:   cfg.LedgerCommitTimeout,
	}, keyring)
	if err != nil {
		return nil, nil, err
	}
	return keyring, network, nil
}

func runServer(ingest bool) error {
	// Config
	cfg, err := loadConfig()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Ledger
	keyring, network, err := dialLedger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to dial ledger")
	}
	defer network.Close()
	gateway := ledger.NewGateway(network, logger)

	initCtx, cancelInit := context.WithTimeout(ctx, cfg.LedgerCommitTimeout)
	err = gateway.Init(initCtx)
	cancelInit()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind operator identity on the ledger")
	}
	logger.Info().
		Str("operator", keyring.OperatorWallet()).
		Int("wallets", keyring.Len()).
		Msg("connected to ledger")

	// Domain services
	identitySvc := identity.NewService(identity.NewUserRepo(pool), identity.NewDoctorRepo(pool),
		identity.NewPatientRepo(pool), tx, gateway, keyring.OperatorWallet(), logger)

	recordRepo := record.NewRepo(pool)
	accessCache := access.NewCache(access.NewRepo(pool), identitySvc)
	authz := access.NewLedgerAuthorizer(gateway)
	versionStore := version.NewStore(version.NewRepo(pool), recordRepo, gateway, tx, logger)
	recordSvc := record.NewService(recordRepo, identitySvc, versionStore, accessCache, authz, gateway, tx, logger)
	accessSvc := access.NewService(accessCache, authz, gateway, identitySvc, recordSvc, logger)

	hub := websocket.NewHub(logger)
	stream := websocket.NewHandler(hub, cfg.CORSOrigins, auditlog.Topic)
	auditSvc := auditlog.NewService(auditlog.NewRepo(pool))

	// Ledger event ingestor
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	ingestDone := make(chan struct{})
	if ingest {
		checkpoints, err := ledger.OpenCheckpointStore(cfg.EventCheckpointPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open event checkpoint store")
		}
		defer checkpoints.Close()

		ing := auditlog.NewIngestor(network, checkpoints, identitySvc, auditlog.NewRepo(pool), hub, logger)
		go func() {
			defer close(ingestDone)
			if err := ing.Run(runCtx); err != nil {
				logger.Fatal().Err(err).Msg("ledger event ingestor failed")
			}
		}()
	} else {
		close(ingestDone)
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

	// Health check
	e.GET("/health", db.HealthHandler(pool, map[string]db.Probe{"ledger": network.Ping}))

	// Auth middleware
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	record.NewHandler(recordSvc).RegisterRoutes(apiV1)
	version.NewHandler(versionStore, recordSvc).RegisterRoutes(apiV1)
	access.NewHandler(accessSvc).RegisterRoutes(apiV1)
	auditlog.NewHandler(auditSvc, stream).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// SIGHUP rescans the wallet directory so newly provisioned identities can
	// sign without a restart.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range quit {
		if sig != syscall.SIGHUP {
			break
		}
		if err := keyring.Reload(); err != nil {
			logger.Error().Err(err).Msg("wallet reload failed")
			continue
		}
		logger.Info().Int("wallets", keyring.Len()).Msg("wallets reloaded")
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	stopRun()
	<-ingestDone
	recordSvc.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

