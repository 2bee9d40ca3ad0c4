package bot

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"wohnung-hunter/internal/database"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FilterCreationState tracks a user's answers during /create.
type FilterCreationState struct {
	Step int
	Data map[string]string
}

var creationSteps = []struct {
	key    string
	prompt string
}{
	{"name", "📝 Name your filter:"},
	{"sites", "🌐 Sites to watch, comma separated (or - for all). See /sites:"},
	{"markers", "🏷 Required markers, comma separated (or -):"},
	{"min_price", "💰 Minimum price (or -):"},
	{"max_price", "💰 Maximum price (or -):"},
	{"location", "📍 Location contains, e.g. 1020 (or -):"},
}

var errEmptyName = errors.New("filter name is required")

func (b *Bot) handleCreate(message *tgbotapi.Message) {
	b.states[message.From.ID] = &FilterCreationState{
		Step: 0,
		Data: make(map[string]string),
	}
	b.sendMessage(message.Chat.ID, creationSteps[0].prompt)
}

func (b *Bot) handleText(message *tgbotapi.Message, user *database.User) {
	state, exists := b.states[message.From.ID]
	if !exists {
		text := `💬 I got your message: "` + message.Text + `"

But I only understand commands. Try /help to see what I can do! 🤖`

		b.sendMessage(message.Chat.ID, text)
		return
	}

	state.Data[creationSteps[state.Step].key] = message.Text
	state.Step++
	if state.Step < len(creationSteps) {
		b.sendMessage(message.Chat.ID, creationSteps[state.Step].prompt)
		return
	}

	delete(b.states, message.From.ID)

	filter, err := buildFilter(state.Data)
	if err != nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("❌ %v. Start again with /create", err))
		return
	}

	created, err := b.db.CreateFilter(user.ID, filter)
	if err != nil {
		log.Printf("Error creating filter: %v", err)
		b.sendMessage(message.Chat.ID, "❌ Failed to create the filter. Try again.")
		return
	}

	b.sendMessage(message.Chat.ID, "✅ Filter created!\n\n"+formatFilter(0, created)+"\n🟢 The filter is active and ready!")
}

// buildFilter validates the dialog answers.
func buildFilter(data map[string]string) (database.UserFilter, error) {
	name := strings.TrimSpace(data["name"])
	if name == "" || name == "-" {
		return database.UserFilter{}, errEmptyName
	}

	minPrice, err := parseOptionalPrice(data["min_price"])
	if err != nil {
		return database.UserFilter{}, fmt.Errorf("minimum price must be a positive number")
	}
	maxPrice, err := parseOptionalPrice(data["max_price"])
	if err != nil {
		return database.UserFilter{}, fmt.Errorf("maximum price must be a positive number")
	}
	if maxPrice > 0 && minPrice > maxPrice {
		return database.UserFilter{}, fmt.Errorf("minimum price cannot be above the maximum")
	}

	location := strings.TrimSpace(data["location"])
	if location == "-" {
		location = ""
	}

	return database.UserFilter{
		Name:     name,
		Sites:    parseOptionalList(data["sites"]),
		Markers:  parseOptionalList(data["markers"]),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Location: location,
		IsActive: true,
	}, nil
}
