package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partyhost/config"
	"partyhost/content"
	"partyhost/games"
	"partyhost/handlers"
	"partyhost/middleware"
	"partyhost/routes"
	"partyhost/services"
	"partyhost/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const serviceName = "partyhost"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.StoreDriver == "redis" || cfg.BusDriver == "redis" {
		redisClient = config.InitRedis(cfg)
		defer redisClient.Close()
	}

	var store services.RoomStore
	switch cfg.StoreDriver {
	case "memory":
		store = services.NewMemoryStore(cfg.RoomTTL, time.Now)
	default:
		store = services.NewRedisStore(redisClient, cfg.RoomKeyPrefix, cfg.RoomTTL, cfg.StoreTimeout)
	}
	if err := store.Ping(ctx); err != nil {
		logger.Warn("room store not reachable yet", "driver", cfg.StoreDriver, "err", err)
	}

	bus, err := newBus(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	catalog, deckStore, err := loadContent(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg, catalog)
	if err != nil {
		return err
	}

	scheduler := services.NewScheduler(logger)
	defer scheduler.Stop()

	roomService := services.NewRoomService(store, bus, registry, scheduler, logger, services.RoomServiceConfig{
		DefaultGame:     cfg.DefaultGame,
		DisconnectGrace: cfg.DisconnectGrace,
		MaxRetries:      cfg.MaxRetries,
		TimerRetry:      cfg.TimerRetry,
	})
	hub := services.NewHub(bus, roomService, logger)
	if err := hub.Start(ctx); err != nil {
		return err
	}

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router,
		handlers.NewRoomHandler(store, registry, hub, logger),
		handlers.NewDeckHandler(catalog, deckStore, games.ValidateDeck, logger),
		hub, cfg.JWTSecret, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "store", cfg.StoreDriver, "bus", cfg.BusDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newBus(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (services.Bus, error) {
	switch cfg.BusDriver {
	case "local":
		return services.NewLocalBus(), nil
	case "nats":
		conn, err := services.ConnectNats(cfg.NatsURL, logger)
		if err != nil {
			return nil, err
		}
		return services.NewNatsBus(conn, cfg.BusPrefix, cfg.StoreTimeout, logger), nil
	default:
		return services.NewRedisBus(redisClient, cfg.BusPrefix+":", cfg.StoreTimeout, logger), nil
	}
}

// loadContent starts from the built-in decks and overlays whatever the
// content database holds. The returned DeckStore is nil without a database.
func loadContent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*content.Catalog, handlers.DeckStore, error) {
	catalog, err := content.Builtin()
	if err != nil {
		return nil, nil, err
	}
	if cfg.ContentDatabaseURL == "" {
		return catalog, nil, nil
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	repo := content.NewRepository(db)
	if err := repo.Migrate(); err != nil {
		return nil, nil, err
	}
	decks, err := repo.Decks(ctx)
	if err != nil {
		return nil, nil, err
	}
	catalog.Overlay(decks)
	logger.Info("content loaded", "decks", catalog.Sizes())
	return catalog, repo, nil
}

func newRegistry(cfg *config.Config, catalog *content.Catalog) (*games.Registry, error) {
	ito, err := games.NewIto(catalog.Deck(games.KindIto))
	if err != nil {
		return nil, err
	}
	enigma, err := games.NewEnigma(catalog.Deck(games.KindEnigma), cfg.EnigmaRoundTime)
	if err != nil {
		return nil, err
	}
	spy, err := games.NewSpy(catalog.Deck(games.KindSpy), cfg.SpyRoundTime)
	if err != nil {
		return nil, err
	}

	registry, err := games.NewRegistry(ito, enigma, spy)
	if err != nil {
		return nil, err
	}
	if _, ok := registry.Get(cfg.DefaultGame); !ok {
		return nil, errors.New("DEFAULT_GAME is not a registered game: " + cfg.DefaultGame)
	}
	return registry, nil
}
