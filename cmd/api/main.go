package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wohnung-hunter/internal/cache"
	"wohnung-hunter/internal/config"
	"wohnung-hunter/internal/httpapi"
	"wohnung-hunter/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading config:", err)
	}

	store, err := storage.NewSiteStorage(cfg.DataDir)
	if err != nil {
		log.Fatal("Error opening data dir:", err)
	}

	var resultCache httpapi.ResultCache
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		log.Printf("API will work without caching!")
	} else {
		resultCache = redisCache
	}
	defer redisCache.Close()

	server := httpapi.NewServer(cfg.APIPort, store, resultCache)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Shutdown signal received, stopping API")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("API stopped gracefully")
}
