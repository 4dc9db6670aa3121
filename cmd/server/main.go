package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/sqlite"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/platform/bearer"
	"github.com/Wyydra/yacall/internal/platform/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type serverConfig struct {
	HTTPAddr        string        `env:"YA_HTTP_ADDR" envDefault:":8080"`
	DBPath          string        `env:"YA_DB_PATH" envDefault:"ya.db"`
	JWTSecret       string        `env:"YA_JWT_SECRET,required"`
	LogLevel        string        `env:"YA_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"YA_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	// SeedOrg and SeedMembers register organization members at startup.
	// Each member is "<user uuid>" or "<user uuid>=<display name>".
	SeedOrg     string   `env:"YA_SEED_ORG"`
	SeedMembers []string `env:"YA_SEED_MEMBERS" envSeparator:","`
}

func main() {
	var cfg serverConfig
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("server: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		config.Exitf("server: log level %q: %v", cfg.LogLevel, err)
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	l := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	store, err := sqlite.Open(ctx, cfg.DBPath, sqlite.WithHook(service.NewPublisher(hub)))
	if err != nil {
		l.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open store")
	}
	defer store.Close()

	if err := seed(ctx, store, cfg); err != nil {
		l.Fatal().Err(err).Msg("Failed to seed members")
	}

	h := handler.NewHandler(store, hub, bearer.NewVerifier([]byte(cfg.JWTSecret), nil))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		l.Info().Str("addr", cfg.HTTPAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("Shutting down server...")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			l.Error().Err(err).Msg("Server forced to shutdown")
		}
		hub.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
	l.Info().Msg("Server exited")
}

func seed(ctx context.Context, store *sqlite.Store, cfg serverConfig) error {
	if cfg.SeedOrg == "" || len(cfg.SeedMembers) == 0 {
		return nil
	}
	org, err := domain.ParseOrganizationID(cfg.SeedOrg)
	if err != nil {
		return err
	}
	for _, entry := range cfg.SeedMembers {
		id, name, _ := strings.Cut(strings.TrimSpace(entry), "=")
		user, err := domain.ParseUserID(id)
		if err != nil {
			return err
		}
		if err := store.AddMember(ctx, domain.Member{OrganizationID: org, UserID: user, DisplayName: name}); err != nil {
			return err
		}
		log.Info().Str("org_id", org.String()).Str("user_id", user.String()).Msg("Seeded member")
	}
	return nil
}
