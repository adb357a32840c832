package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"roompool/bot/internal/app"
	"roompool/bot/internal/commands"
	"roompool/bot/internal/config"
	"roompool/bot/internal/discord"
	"roompool/bot/internal/lookup"
	"roompool/bot/internal/namecache"
	"roompool/bot/internal/naming"
	"roompool/bot/internal/reconcile"
	"roompool/bot/internal/store"
	"roompool/bot/internal/throttle"
	"roompool/bot/internal/vote"
)

// nameStore is a name cache backend /api/ready can check.
type nameStore interface {
	namecache.Store
	Ping(ctx context.Context) error
}

func main() {
	configPath := pflag.String("config", os.Getenv("ROOMPOOL_CONFIG"), "YAML file read over the environment")
	addr := pflag.String("addr", "", "status server listen address (overrides API_ADDR)")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	pflag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "read .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	if *configPath != "" {
		if err := config.Overlay(&cfg, *configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	ctx := context.Background()

	names, closeNames, err := openNameStore(ctx, cfg)
	if err != nil {
		fatal(logger, "name store unavailable", err)
	}
	defer closeNames()

	cache, err := namecache.Open(ctx, names, logger)
	if err != nil {
		fatal(logger, "name cache load failed", err)
	}
	logger.Info("name cache loaded", "backend", cfg.NameCacheBackend, "entries", cache.Len())

	var meiliClient *lookup.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = lookup.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	var googleClient *lookup.Google
	if cfg.GoogleAPIKey != "" && cfg.SearchEngineID != "" {
		googleClient = lookup.NewGoogle(lookup.GoogleConfig{APIKey: cfg.GoogleAPIKey, EngineID: cfg.SearchEngineID})
	}
	lookupService := lookup.NewService(meiliClient, googleClient, logger)
	defer lookupService.Close()
	lookupService.Seed(cache.Snapshot())

	bot, err := discord.New(discord.Config{
		Token:   cfg.DiscordToken,
		GuildID: cfg.GuildID,
		Manages: cfg.Manages,
		Logger:  logger,
	})
	if err != nil {
		fatal(logger, "discord session failed", err)
	}

	resolver := naming.NewResolver(cache, lookupService, naming.Config{
		Prefix:  cfg.RoomPrefix,
		Learned: lookupService.Remember,
		Logger:  logger,
	})
	renames := throttle.New(bot, throttle.Config{Cooldown: cfg.RenameCooldown, Logger: logger})
	defer renames.Close()
	reconciler := reconcile.New(bot, bot, resolver, renames, reconcile.Config{Prefix: cfg.RoomPrefix, Logger: logger})
	votes := vote.New(bot, vote.Config{Duration: cfg.VotingDuration, Logger: logger})
	defer votes.Close()
	handler := commands.New(bot, bot, bot, votes, commands.Config{VoteDuration: cfg.CommandVoteDuration, Logger: logger})

	service := app.New(app.Deps{
		Reconciler: reconciler,
		Throttle:   renames,
		Votes:      votes,
		Commands:   handler,
		Names:      names,
		Logger:     logger,
	})

	if err := bot.Open(service); err != nil {
		fatal(logger, "discord gateway failed", err)
	}
	defer bot.Close()

	httpServer := app.NewHTTPServer(service, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("status server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "status server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func openNameStore(ctx context.Context, cfg config.Config) (nameStore, func(), error) {
	switch cfg.NameCacheBackend {
	case "redis":
		s, err := namecache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		migrations := store.Migrations()
		if cfg.MigrationsDir != "" {
			migrations = os.DirFS(cfg.MigrationsDir)
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil

	case "minio":
		s, err := namecache.NewMinioStore(ctx, namecache.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	default:
		return namecache.NewFileStore(cfg.NameCacheFile), func() {}, nil
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
