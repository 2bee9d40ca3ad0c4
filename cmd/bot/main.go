package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wohnung-hunter/internal/bot"
	"wohnung-hunter/internal/cache"
	"wohnung-hunter/internal/config"
	"wohnung-hunter/internal/database"
	"wohnung-hunter/internal/kafka"
	"wohnung-hunter/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading config:", err)
	}

	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN is not set")
	}

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Error connecting to db:", err)
	}
	if err := db.Migrate(); err != nil {
		log.Fatal("Error migrating db:", err)
	}

	store, err := storage.NewSiteStorage(cfg.DataDir)
	if err != nil {
		log.Fatal("Error opening data dir:", err)
	}

	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
	defer redisCache.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	telegramBot, err := bot.NewBot(cfg, db, store, redisCache, producer)
	if err != nil {
		log.Fatal("Error creating bot:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "bot-notification-service")
	defer consumer.Close()

	go func() {
		log.Println("🔔 Starting Bot Kafka consumer for notifications...")

		if err := consumer.ProcessEvents(ctx, telegramBot); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("❌ Bot Kafka consumer error: %v", err)
		}
	}()

	log.Println("🤖 Starting Telegram Bot...")
	telegramBot.Start(ctx)
	log.Println("Bot stopped")
}
