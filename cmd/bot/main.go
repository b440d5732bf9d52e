package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkadian/voicelounge/internal/api"
	"github.com/arkadian/voicelounge/internal/app"
	"github.com/arkadian/voicelounge/internal/app/maintenance"
	"github.com/arkadian/voicelounge/internal/commands"
	"github.com/arkadian/voicelounge/internal/database"
	"github.com/arkadian/voicelounge/internal/events"
	"github.com/arkadian/voicelounge/internal/platform/gateway"
	"github.com/arkadian/voicelounge/internal/platform/rest"
	"github.com/arkadian/voicelounge/internal/services"
	"github.com/arkadian/voicelounge/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("voicelounge", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	session, err := rest.NewClient(rest.Config{
		BaseURL: cfg.Gateway.APIURL,
		Token:   cfg.Gateway.Token,
		GuildID: cfg.Gateway.GuildID,
		Timeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise platform client: %w", err)
	}

	// The guild-wide everyone role shares the guild's id.
	everyoneID := cfg.Gateway.GuildID

	permStore, err := services.NewPermissionStore(db)
	if err != nil {
		return fmt.Errorf("initialise permission store: %w", err)
	}
	kickStore, err := services.NewAutoKickStore(db)
	if err != nil {
		return fmt.Errorf("initialise autokick store: %w", err)
	}
	registry, err := services.NewChannelRegistry(db)
	if err != nil {
		return fmt.Errorf("initialise channel registry: %w", err)
	}

	policy := services.NewTierPolicy(cfg.Voice.Tiers)
	resolver := services.NewRoleTierResolver(session, policy)

	engine, err := services.NewPermissionEngine(session, permStore, policy, everyoneID, resolver)
	if err != nil {
		return fmt.Errorf("initialise permission engine: %w", err)
	}

	lifecycle, err := services.NewLifecycleManager(session, permStore, registry, services.LifecycleConfig{
		CreationChannels:  cfg.Voice.CreationChannels,
		ManagedCategories: cfg.Voice.ManagedCategories,
		AFKChannelID:      cfg.Voice.AFKChannelID,
		DeletionGrace:     cfg.Voice.DeletionGrace,
		MuteRoles:         cfg.Voice.MuteRoles,
		EveryoneID:        everyoneID,
	})
	if err != nil {
		return fmt.Errorf("initialise lifecycle manager: %w", err)
	}

	coordinator, err := services.NewAutoKickCoordinator(session, kickStore, policy, db, services.AutoKickConfig{
		QueueSize: cfg.Voice.AutoKickQueueSize,
		Pause:     cfg.Voice.AutoKickPause,
		Resolver:  resolver,
	})
	if err != nil {
		return fmt.Errorf("initialise autokick coordinator: %w", err)
	}

	dispatcher, err := events.NewDispatcher(lifecycle, coordinator)
	if err != nil {
		return fmt.Errorf("initialise dispatcher: %w", err)
	}

	guard, err := commands.NewGuard(session, registry)
	if err != nil {
		return fmt.Errorf("initialise command guard: %w", err)
	}
	commander, err := commands.NewCommander(guard, engine, coordinator)
	if err != nil {
		return fmt.Errorf("initialise commander: %w", err)
	}
	runner := commands.NewRunner(commander)

	gw, err := gateway.NewClient(gateway.Config{
		URL:     cfg.Gateway.URL,
		Token:   cfg.Gateway.Token,
		GuildID: cfg.Gateway.GuildID,
	})
	if err != nil {
		return fmt.Errorf("initialise gateway client: %w", err)
	}

	cleaner := maintenance.NewCleaner(db, lifecycle, registry,
		maintenance.WithSweepSchedule(cfg.Maintenance.SweepSchedule),
		maintenance.WithKickLogRetentionDays(cfg.Maintenance.KickLogRetention))
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		if err := cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var workers sync.WaitGroup
	workers.Add(4)
	go func() {
		defer workers.Done()
		coordinator.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		gw.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		dispatcher.Run(workerCtx, gw.Events())
	}()
	go func() {
		defer workers.Done()
		runner.Run(workerCtx, gw.Commands())
	}()

	router, err := api.NewRouter(api.Deps{
		DB:       db,
		Registry: registry,
		AutoKick: coordinator,
	})
	if err != nil {
		return fmt.Errorf("build admin router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("admin server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("admin server error: %w", err)
		}
		return nil
	}

	cancelWorkers()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("admin server error: %w", err)
	}

	log.Info("bot stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(convertDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	out := database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres":
		out.Host = cfg.Database.Postgres.Host
		out.Port = cfg.Database.Postgres.Port
		out.Name = cfg.Database.Postgres.Database
		out.User = cfg.Database.Postgres.Username
		out.Password = cfg.Database.Postgres.Password
	case "mysql":
		out.Host = cfg.Database.MySQL.Host
		out.Port = cfg.Database.MySQL.Port
		out.Name = cfg.Database.MySQL.Database
		out.User = cfg.Database.MySQL.Username
		out.Password = cfg.Database.MySQL.Password
	}

	return out
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable on shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
