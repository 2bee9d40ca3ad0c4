package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wohnung-hunter/internal/cache"
	"wohnung-hunter/internal/config"
	"wohnung-hunter/internal/kafka"
	"wohnung-hunter/internal/runner"
	"wohnung-hunter/internal/scraper"
	"wohnung-hunter/internal/siteconfig"
	"wohnung-hunter/internal/storage"
)

type ScraperService struct {
	cfg      *config.Config
	store    *storage.SiteStorage
	runner   *runner.Runner
	consumer *kafka.Consumer
	producer *kafka.Producer
	cache    *cache.RedisCache

	// ctx bounds manual runs; wg tracks the consumer and the runs it starts.
	ctx      context.Context
	wg       sync.WaitGroup
	runMutex sync.Mutex
}

func NewScraperService(cfg *config.Config, dryRun bool) (*ScraperService, error) {
	log.Println("Initializing Scraper Service components...")

	store, err := storage.NewSiteStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}
	log.Printf("Site storage ready in %s", store.DataDir())

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("Registered %d scrapers", registry.Len())

	s := &ScraperService{cfg: cfg, store: store}
	opts := []runner.Option{runner.WithHistory(cfg.TrackHistory)}

	if dryRun {
		log.Println("Dry run: changes are stored but not published")
	} else {
		s.producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Println("Kafka producer created")
		s.consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "scraper-service")
		log.Println("Kafka consumer created")
		opts = append(opts, runner.WithPublisher(s.producer))

		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err := redisCache.Ping(context.Background()); err != nil {
			log.Printf("Warning: Redis connection failed: %v", err)
			redisCache.Close()
		} else {
			s.cache = redisCache
			opts = append(opts, runner.WithCache(redisCache))
			log.Println("Redis connected")
		}
	}

	s.runner = runner.New(registry, store, opts...)
	return s, nil
}

// buildRegistry registers one scraper per enabled site file plus the
// built-in ones.
func buildRegistry(cfg *config.Config) (*scraper.Registry, error) {
	opts := scraper.Options{Timeout: cfg.RequestTimeout, UserAgent: cfg.UserAgent, ChromeBin: cfg.ChromeBin}
	registry := scraper.NewRegistry()

	sites, err := siteconfig.NewLoader(cfg.SitesDir).Enabled()
	if err != nil {
		return nil, fmt.Errorf("failed to load site configs: %w", err)
	}

	var renderer *scraper.ChromeRenderer
	for _, site := range sites {
		var r scraper.Renderer
		if site.Render {
			if renderer == nil {
				renderer = scraper.NewChromeRenderer(opts)
			}
			r = renderer
		}
		if err := registry.Register(scraper.NewSiteScraper(site, opts, r)); err != nil {
			log.Printf("⚠️ Skipping %s: %v", site.Path(), err)
		}
	}

	if err := registry.Register(scraper.NewEGWScraper(opts)); err != nil {
		log.Printf("⚠️ Skipping built-in scraper: %v", err)
	}
	return registry, nil
}

func main() {
	dryRun := flag.Bool("dry-run", false, "store changes without publishing them")
	migrate := flag.String("migrate", "", "import a legacy flats file and exit")
	legacySite := flag.String("legacy-site", "legacy", "site for legacy records without a source")
	flag.Parse()

	log.Println("Starting Wohnung Hunter Scraper Service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *migrate != "" {
		if err := runMigration(cfg, *migrate, *legacySite); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	service, err := NewScraperService(cfg, *dryRun)
	if err != nil {
		log.Fatalf("Failed to create scraper service: %v", err)
	}

	defer service.cleanup()

	if cfg.LegacyFile != "" {
		n, err := service.store.ImportLegacyOnce(cfg.LegacyFile, *legacySite)
		if err != nil {
			log.Printf("❌ Legacy import failed: %v", err)
		} else if n > 0 {
			log.Printf("✅ Imported %d legacy apartments from %s", n, cfg.LegacyFile)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.ctx = ctx

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("Shutdown signal received, stopping Scraper Service")
		cancel()
	}()

	if cfg.ScrapeInterval <= 0 {
		if err := service.runOnce(ctx, nil); err != nil {
			log.Printf("❌ Run finished with errors: %v", err)
			service.cleanup()
			os.Exit(1)
		}
		return
	}

	if service.consumer != nil {
		service.wg.Add(1)
		go func() {
			defer service.wg.Done()
			log.Println("Starting Kafka consumer...")
			if err := service.consumer.ProcessEvents(ctx, service); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Consumer error: %v", err)
			}
			log.Println("Kafka consumer stopped")
		}()
	}

	log.Println("✅ Scraper Service is running!")
	log.Printf("⏰ Periodic scraping every %v", cfg.ScrapeInterval)
	log.Println("Press Ctrl+C to stop...")

	service.startPeriodicScraping(ctx, cfg.ScrapeInterval)
	service.wg.Wait()
	log.Println("Scraper Service stopped gracefully")
}

func runMigration(cfg *config.Config, path, defaultSite string) error {
	store, err := storage.NewSiteStorage(cfg.DataDir)
	if err != nil {
		return err
	}

	n, err := store.MigrateFromLegacy(path, defaultSite)
	if err != nil {
		return err
	}
	log.Printf("✅ Migrated %d legacy apartments into %s", n, store.DataDir())
	return nil
}

func (s *ScraperService) cleanup() {
	log.Println("Cleaning up resources...")

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Printf("Error closing consumer: %v", err)
		} else {
			log.Println("Kafka consumer closed")
		}
		s.consumer = nil
	}

	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			log.Printf("Error closing producer: %v", err)
		} else {
			log.Println("Kafka producer closed")
		}
		s.producer = nil
	}

	if s.cache != nil {
		s.cache.Close()
		s.cache = nil
	}

	log.Println("Cleanup completed")
}

// runOnce executes one run. Runs never overlap.
func (s *ScraperService) runOnce(ctx context.Context, sites []string) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	report, err := s.runner.RunSites(ctx, sites)
	if report != nil {
		for _, result := range report.Results {
			if result.Health != scraper.Healthy {
				log.Printf("⚠️ %s: %s %v %v", result.Source, result.Health, result.Errors, result.Warnings)
			}
		}
	}
	return err
}

func (s *ScraperService) startPeriodicScraping(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("Starting initial scraping...")
	if err := s.runOnce(ctx, nil); err != nil {
		log.Printf("❌ Scheduled run failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping periodic scraper due to shutdown signal...")
			return
		case <-ticker.C:
			log.Println("Starting scheduled scraping session...")
			if err := s.runOnce(ctx, nil); err != nil {
				log.Printf("❌ Scheduled run failed: %v", err)
			}
		}
	}
}

func (s *ScraperService) HandleScrapeRequest(event kafka.ScrapeRequestEvent) error {
	log.Printf("Received scrape_request event from %d - triggering manual scraping", event.RequestedBy)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Println("Starting manual scraping session...")
		if err := s.runOnce(s.ctx, event.Sites); err != nil {
			log.Printf("❌ Manual run failed: %v", err)
			return
		}
		log.Println("Manual scraping session completed")
	}()

	return nil
}

func (s *ScraperService) HandleApartmentChanges(event kafka.ApartmentChangesEvent) error {
	return nil
}

func (s *ScraperService) HandleScrapeCompleted(event kafka.ScrapeCompletedEvent) error {
	return nil
}
