// Package app wires configuration, storage, services and the HTTP surface
// into one runnable engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/insurgrowth/insurgrowth/config"
	"github.com/insurgrowth/insurgrowth/internal/database"
	"github.com/insurgrowth/insurgrowth/internal/domain"
	apihttp "github.com/insurgrowth/insurgrowth/internal/http"
	"github.com/insurgrowth/insurgrowth/internal/repository"
	"github.com/insurgrowth/insurgrowth/internal/service"
	"github.com/insurgrowth/insurgrowth/pkg/geocode"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// App holds the wired engine.
type App struct {
	config *config.Config
	logger logger.Logger
	db     *sql.DB

	accountRepo     domain.AccountRepository
	policyRepo      domain.PolicyRepository
	automationRepo  domain.AutomationRepository
	templateRepo    domain.TemplateRepository
	scheduledRepo   domain.ScheduledEmailRepository
	emailLogRepo    domain.EmailLogRepository
	settingsRepo    domain.SettingsRepository
	unsubscribeRepo domain.UnsubscribeRepository
	activityRepo    domain.ActivityRepository

	reactor   *service.Reactor
	scheduler *service.PipelineScheduler

	mux    *http.ServeMux
	server *http.Server
}

// NewApp creates an App around the given configuration.
func NewApp(cfg *config.Config) *App {
	return &App{
		config: cfg,
		logger: logger.NewLoggerWithLevel(cfg.LogLevel),
		mux:    http.NewServeMux(),
	}
}

// Initialize runs all initialization phases in order.
func (a *App) Initialize() error {
	if err := a.InitDB(); err != nil {
		return err
	}
	a.InitRepositories()
	a.InitServices()
	a.InitHandlers()
	return nil
}

// InitDB connects to Postgres and verifies the connection.
func (a *App) InitDB() error {
	a.logger.WithField("host", a.config.Database.Host).
		WithField("port", a.config.Database.Port).
		WithField("dbname", a.config.Database.DBName).
		Info("Connecting to database")

	db, err := sql.Open("postgres", a.config.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := database.InitializeDatabase(db); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	a.db = db
	return nil
}

// InitRepositories builds the Postgres repositories.
func (a *App) InitRepositories() {
	a.accountRepo = repository.NewAccountRepository(a.db)
	a.policyRepo = repository.NewPolicyRepository(a.db)
	a.automationRepo = repository.NewAutomationRepository(a.db)
	a.templateRepo = repository.NewTemplateRepository(a.db)
	a.scheduledRepo = repository.NewScheduledEmailRepository(a.db)
	a.emailLogRepo = repository.NewEmailLogRepository(a.db)
	a.settingsRepo = repository.NewSettingsRepository(a.db)
	a.unsubscribeRepo = repository.NewUnsubscribeRepository(a.db)
	a.activityRepo = repository.NewActivityRepository(a.db)
}

// InitServices builds the pipeline services and the background scheduler.
func (a *App) InitServices() {
	evaluator := service.NewFilterEvaluator(a.logger)
	geocoder := geocode.NewClient(a.config.Geocoder.Endpoint, a.config.Geocoder.APIKey)

	planner := service.NewPlanner(
		a.accountRepo,
		a.policyRepo,
		a.templateRepo,
		a.emailLogRepo,
		a.scheduledRepo,
		evaluator,
		geocoder,
		a.logger,
		a.config.Pipeline.MaxAccountsPerRefresh,
	)

	verifier := service.NewVerifier(
		a.automationRepo,
		a.accountRepo,
		a.policyRepo,
		a.emailLogRepo,
		a.scheduledRepo,
		a.unsubscribeRepo,
		a.logger,
	)

	provider := service.NewSendGridProvider(
		a.config.Email.SendGridAPIKey,
		a.config.Email.SendGridAPIURL,
		a.logger,
	)

	sender := service.NewSender(
		a.scheduledRepo,
		a.accountRepo,
		a.templateRepo,
		a.emailLogRepo,
		a.settingsRepo,
		a.unsubscribeRepo,
		a.activityRepo,
		provider,
		a.logger,
		service.SenderConfig{
			ReplyDomain:     a.config.Email.ReplyDomain,
			UnsubscribeURL:  a.config.Email.UnsubscribeURL,
			RatingURL:       a.config.Email.RatingURL,
			MaxEmailsPerRun: a.config.Pipeline.MaxEmailsPerRun,
		},
	)

	a.reactor = service.NewReactor(
		a.automationRepo,
		a.accountRepo,
		a.policyRepo,
		a.scheduledRepo,
		planner,
		verifier,
		sender,
		a.logger,
	)

	a.scheduler = service.NewPipelineScheduler(a.reactor, a.logger, 0, 0)
}

// InitHandlers registers the HTTP routes.
func (a *App) InitHandlers() {
	triggerHandler := apihttp.NewTriggerHandler(a.reactor, a.scheduledRepo, a.logger)
	triggerHandler.RegisterRoutes(a.mux)

	a.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, a.config.Version)
	})
}

// Start launches the background scheduler and serves HTTP until the server
// stops.
func (a *App) Start() error {
	a.scheduler.Start(context.Background())

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:    addr,
		Handler: a.mux,
	}

	a.logger.WithField("address", addr).
		WithField("version", a.config.Version).
		Info("Server starting")
	return a.server.ListenAndServe()
}

// Shutdown stops the scheduler, the HTTP server and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Starting graceful shutdown...")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	a.logger.Info("Shutdown complete")
	return nil
}

// GetMux exposes the router for tests.
func (a *App) GetMux() *http.ServeMux {
	return a.mux
}

// GetLogger exposes the logger.
func (a *App) GetLogger() logger.Logger {
	return a.logger
}
