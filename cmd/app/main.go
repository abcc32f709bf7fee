package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/wichananm65/matchup-backend/internal/auth"
	"github.com/wichananm65/matchup-backend/internal/cache"
	"github.com/wichananm65/matchup-backend/internal/config"
	"github.com/wichananm65/matchup-backend/internal/logger"
	"github.com/wichananm65/matchup-backend/internal/match"
	"github.com/wichananm65/matchup-backend/internal/metrics"
	"github.com/wichananm65/matchup-backend/internal/middleware"
	"github.com/wichananm65/matchup-backend/internal/upload"
	"github.com/wichananm65/matchup-backend/internal/user"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(true, "info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.IsDevelopment(), cfg.Log.Level)

	repo, closeDB := mustOpenRepository(cfg, log)
	defer closeDB()

	feedCache := cache.NewRedis(cfg.Cache.RedisURL, log)
	defer feedCache.Close()

	// staged files land in the public dir directly so the local uploader only renames in place
	photos := upload.NewPhotos(
		upload.NewStager(cfg.Upload.Dir, cfg.Upload.MaxBytes),
		upload.NewLocalUploader(cfg.Upload.Dir, cfg.Upload.PublicBaseURL),
	)
	guard := auth.NewGuard(cfg.Auth.JWTSecret)
	if !guard.Enabled() {
		log.Warn().Msg("AUTH_JWT_SECRET not set, external ids in paths are trusted")
	}

	userService := user.NewService(repo, feedCache, cfg.Cache.FeedTTL, log)
	userHandler := user.NewHandler(userService, photos, guard, log)
	matchHandler := match.NewHandler(match.NewService(repo, log), userService, guard, log)

	app := fiber.New(fiber.Config{
		AppName:      "matchup",
		BodyLimit:    int(cfg.Upload.MaxBytes) * 2,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		ErrorHandler: middleware.ErrorHandler(log),
	})
	app.Use(middleware.AccessLog(log))
	app.Use(middleware.Recover(log))
	setupCORS(app, cfg.Server.AllowOrigins)
	app.Use(metrics.Middleware())

	app.Get("/health", healthHandler(feedCache))
	app.Get("/metrics", metrics.Handler())

	// make uploaded photos public
	app.Static("/uploads", filepath.Clean(cfg.Upload.Dir))

	api := app.Group("/api", guard.Middleware(user.PublicRoute))
	userHandler.RegisterRoutes(api)
	matchHandler.RegisterRoutes(api)

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("server starting")
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("server stopped")
}

// healthHandler reports the cache state; the service stays healthy without it.
func healthHandler(feedCache *cache.Redis) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state := "disabled"
		if feedCache.Available() {
			ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
			defer cancel()
			state = "up"
			if err := feedCache.Ping(ctx); err != nil {
				state = "down"
			}
		}
		return c.JSON(fiber.Map{"status": "ok", "cache": state})
	}
}

func setupCORS(app *fiber.App, origins string) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
}

// mustOpenRepository uses Postgres when DATABASE_URL is set and the in-memory
// store otherwise.
func mustOpenRepository(cfg *config.Config, log zerolog.Logger) (user.Repository, func()) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return user.NewInMemoryRepository(nil), func() {}
	}

	db := mustOpenDB(cfg.Database.URL, log)
	repo := user.NewPostgresRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	return repo, func() { _ = db.Close() }
}

func mustOpenDB(dbURL string, log zerolog.Logger) *sql.DB {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	return db
}
