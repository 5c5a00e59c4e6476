package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codesync/internal/api"
	"codesync/internal/registry"
	"codesync/internal/routers"
	"codesync/internal/utils"
)

var (
	listenAndServe = http.ListenAndServe
	exitFunc       = func(err error) { os.Exit(1) }
)

func run(ctx context.Context) error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "redis:6379"
	}
	executeAPIURL := os.Getenv("EXECUTE_API_URL")

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	store := registry.NewStore(rdb)

	h := api.NewHandlers(utils.NewLogger(), store, executeAPIURL)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Mount("/", routers.New(h))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	logger.Info("codesync listening", zap.String("addr", addr), zap.String("redis", redisAddr))
	return listenAndServe(addr, r)
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}
