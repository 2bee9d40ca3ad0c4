package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"wohnung-hunter/internal/cache"
	"wohnung-hunter/internal/config"
	"wohnung-hunter/internal/database"
	"wohnung-hunter/internal/kafka"
	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/search"
	"wohnung-hunter/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	db       *database.DB
	cache    *cache.RedisCache
	producer *kafka.Producer
	store    *storage.SiteStorage
	searcher *search.Searcher
	cooldown time.Duration

	states map[int64]*FilterCreationState
}

func NewBot(cfg *config.Config, db *database.DB, store *storage.SiteStorage, redisCache *cache.RedisCache, producer *kafka.Producer) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}

	api.Debug = false

	if err := redisCache.Ping(context.Background()); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		log.Printf("Bot will work without caching!")
	} else {
		log.Printf("Redis connected successfully")
	}

	log.Printf("Bot is authorized as: @%s", api.Self.UserName)

	return &Bot{
		api:      api,
		db:       db,
		cache:    redisCache,
		producer: producer,
		store:    store,
		searcher: search.NewSearcher(store),
		cooldown: cfg.ScrapeCooldown,
		states:   make(map[int64]*FilterCreationState),
	}, nil
}

// Start handles updates until ctx is canceled.
func (b *Bot) Start(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("Bot is started! Waiting for message...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	user, err := b.db.CreateOrUpdateUser(
		message.From.ID,
		message.From.UserName,
		message.From.FirstName,
	)
	if err != nil {
		log.Printf("Error creating user: %v", err)
		b.sendMessage(message.Chat.ID, "Server error. Try later")
		return
	}

	log.Printf("Message from: %s (@%s) - %s", user.FirstName, user.Username, message.Text)

	if !message.IsCommand() {
		b.handleText(message, user)
		return
	}

	delete(b.states, message.From.ID)

	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "list":
		b.handleList(message, user)
	case "create":
		b.handleCreate(message)
	case "find":
		b.handleFind(ctx, message, user)
	case "toggle":
		b.handleToggle(message, user)
	case "delete":
		b.handleDelete(message, user)
	case "sites":
		b.handleSites(message)
	case "scrape":
		b.handleScrape(ctx, message)
	default:
		b.handleUnknown(message)
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := b.api.Send(msg)
	if err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcomeText := `👋 Hi! I watch Vienna apartment sites for you.

🔍 What I can do:
• Save filters for the apartments you want
• Notify you about new listings and price changes
• Search everything that is currently online

📝 Commands:
/help - show all commands
/create - create your first filter

Let's go! 🚀`

	b.sendMessage(message.Chat.ID, welcomeText)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	helpText := `📚 Available commands:

🏠 Basics:
/start - start working with the bot
/help - show this help
/sites - tracked sites

🔍 Filters:
/list - show my filters
/create - create a filter (step by step)
/find [number] - search current apartments with a filter
/toggle [number] - pause or resume notifications of a filter
/delete [number] - delete a filter

🔄 /scrape [site ...] - ask for a fresh scrape

💡 Hint: answer "-" to skip optional fields (sites, markers, prices, location)`

	b.sendMessage(message.Chat.ID, helpText)
}

func (b *Bot) handleUnknown(message *tgbotapi.Message) {
	text := `❓ Unknown command: ` + message.Command() + `

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleList(message *tgbotapi.Message, user *database.User) {
	filters, err := b.db.GetUserFilters(user.ID)
	if err != nil {
		log.Printf("Error getting user filters %v", err)
		b.sendMessage(message.Chat.ID, "❌ Failed to load your filters")
		return
	}

	if len(filters) == 0 {
		b.sendMessage(message.Chat.ID, "📝 You have no filters yet. Create one with /create")
		return
	}

	text := fmt.Sprintf("📋 Your filters (%d):\n\n", len(filters))
	for i, filter := range filters {
		text += formatFilter(i, filter) + "\n"
	}
	text += "🟢 active | 🔴 paused"

	b.sendMessage(message.Chat.ID, text)
}

// selectFilter resolves the 1-based filter number of a command argument.
func (b *Bot) selectFilter(message *tgbotapi.Message, user *database.User) (*database.UserFilter, bool) {
	filters, err := b.db.GetUserFilters(user.ID)
	if err != nil {
		b.sendMessage(message.Chat.ID, "❌ Failed to load your filters")
		return nil, false
	}

	if len(filters) == 0 {
		b.sendMessage(message.Chat.ID, "❌ You have no filters. Create one with /create")
		return nil, false
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		text := "🔍 Tell me the filter number:\n\n"
		for i, filter := range filters {
			text += formatFilter(i, filter)
		}
		text += fmt.Sprintf("\n📝 Usage: /%s 1", message.Command())
		b.sendMessage(message.Chat.ID, text)
		return nil, false
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(filters) {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("❌ Invalid filter number. Use a number from 1 to %d", len(filters)))
		return nil, false
	}
	return filters[n-1], true
}

func (b *Bot) handleFind(ctx context.Context, message *tgbotapi.Message, user *database.User) {
	filter, ok := b.selectFilter(message, user)
	if !ok {
		return
	}

	query := filter.Query()
	key := query.CacheKey()

	if cached, found := b.cache.GetCachedResults(ctx, key); found {
		b.sendMessage(message.Chat.ID, "⚡ Cached results:")
		b.sendResults(message.Chat.ID, filter.Name, cached)
		return
	}

	flats, err := b.searcher.Search(query)
	if err != nil {
		log.Printf("Error searching for filter %d: %v", filter.ID, err)
		b.sendMessage(message.Chat.ID, "❌ Search failed")
		return
	}

	if err := b.cache.CacheSearchResults(ctx, key, flats); err != nil {
		log.Printf("Failed to cache results for filter %d: %v", filter.ID, err)
	}

	b.sendResults(message.Chat.ID, filter.Name, flats)
}

func (b *Bot) handleToggle(message *tgbotapi.Message, user *database.User) {
	filter, ok := b.selectFilter(message, user)
	if !ok {
		return
	}

	if err := b.db.ToggleFilter(filter.ID, user.ID); err != nil {
		log.Printf("Error toggling filter %d: %v", filter.ID, err)
		b.sendMessage(message.Chat.ID, "❌ Failed to update the filter")
		return
	}

	if filter.IsActive {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("🔴 Filter \"%s\" paused", filter.Name))
	} else {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("🟢 Filter \"%s\" resumed", filter.Name))
	}
}

func (b *Bot) handleDelete(message *tgbotapi.Message, user *database.User) {
	filter, ok := b.selectFilter(message, user)
	if !ok {
		return
	}

	if err := b.db.DeleteFilter(filter.ID, user.ID); err != nil {
		log.Printf("Error deleting filter %d: %v", filter.ID, err)
		b.sendMessage(message.Chat.ID, "❌ Failed to delete the filter")
		return
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf("🗑 Filter \"%s\" deleted", filter.Name))
}

func (b *Bot) handleSites(message *tgbotapi.Message) {
	sites, err := b.store.ListSites()
	if err != nil {
		log.Printf("Error listing sites: %v", err)
		b.sendMessage(message.Chat.ID, "❌ Failed to list sites")
		return
	}

	if len(sites) == 0 {
		b.sendMessage(message.Chat.ID, "📭 Nothing scraped yet")
		return
	}

	lines := []string{fmt.Sprintf("🌐 Tracked sites (%d):", len(sites))}
	for _, site := range sites {
		stats, err := b.store.GetSiteStats(site)
		if err != nil {
			log.Printf("Error reading stats of %s: %v", site, err)
			continue
		}
		lines = append(lines, formatSiteStats(site, stats))
	}

	b.sendMessage(message.Chat.ID, strings.Join(lines, "\n"))
}

func (b *Bot) handleScrape(ctx context.Context, message *tgbotapi.Message) {
	if !b.cache.Allow(ctx, fmt.Sprintf("scrape:%d", message.From.ID), b.cooldown) {
		b.sendMessage(message.Chat.ID, "⏰ Wait a little before the next scrape request")
		return
	}

	sites := strings.Fields(message.CommandArguments())
	if err := b.producer.PublishScrapeRequest(ctx, message.From.ID, sites); err != nil {
		log.Printf("Error publishing scrape request: %v", err)
		b.sendMessage(message.Chat.ID, "❌ Failed to request a scrape")
		return
	}

	b.sendMessage(message.Chat.ID, "🔄 Scrape requested. I will notify you about matching changes.")
}

func (b *Bot) sendResults(chatID int64, filterName string, flats []models.Flat) {
	b.sendMessage(chatID, formatResults(filterName, flats))
}
