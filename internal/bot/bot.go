package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/processor"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

const (
	recentLimit = 5
	statsDays   = 7
	previewLen  = 200
)

// Store is the storage the bot reads and writes.
type Store interface {
	GetOrCreateTelegramUser(ctx context.Context, telegramID int64, username string) (*models.User, error)
	CreateItem(ctx context.Context, item models.NewItem) (string, error)
	ListItems(ctx context.Context, userID string, opts storage.ListOptions) ([]models.ItemWithResult, error)
	GetStats(ctx context.Context, userID string, days int) (models.Stats, error)
}

// Queue schedules saved items for enrichment.
type Queue interface {
	Enqueue(itemID string) (*processor.Task, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api    *tgbotapi.BotAPI
	sender sender
	store  Store
	queue  Queue
	logger *zap.Logger
}

// New connects to Telegram. queue may be nil when AI processing is off.
func New(token string, store Store, queue Queue, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, store, queue, logger)
	b.api = api
	return b, nil
}

func newBot(s sender, store Store, queue Queue, logger *zap.Logger) *Bot {
	return &Bot{
		sender: s,
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	item, ok := itemFromMessage(message)
	if !ok {
		b.sendMessage(message.Chat.ID, "I can only save text messages and captions for now.")
		return
	}

	user, err := b.store.GetOrCreateTelegramUser(ctx, message.From.ID, message.From.UserName)
	if err != nil {
		b.logger.Error("Failed to resolve user",
			zap.Error(err),
			zap.Int64("telegram_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your message. Please try again.")
		return
	}
	item.UserID = user.ID

	itemID, err := b.store.CreateItem(ctx, item)
	if err != nil {
		b.logger.Error("Failed to save item",
			zap.Error(err),
			zap.Int64("telegram_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your message. Please try again.")
		return
	}

	reply := "Saved."
	if b.queue != nil {
		if _, err := b.queue.Enqueue(itemID); err != nil {
			b.logger.Warn("Failed to queue item",
				zap.Error(err),
				zap.String("item_id", itemID))
		} else {
			reply = "Saved. I'll summarize and tag it shortly."
		}
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, reply)
	msg.ReplyToMessageID = message.MessageID
	b.send(msg)
}

// itemFromMessage builds an item from a text message or a media caption.
func itemFromMessage(message *tgbotapi.Message) (models.NewItem, bool) {
	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return models.NewItem{}, false
	}

	meta := models.Document{
		"chat_id":    message.Chat.ID,
		"message_id": message.MessageID,
	}
	if message.From != nil && message.From.UserName != "" {
		meta["username"] = message.From.UserName
	}

	return models.NewItem{
		Content:        content,
		SourceType:     models.SourceTelegram,
		SourceMetadata: meta,
	}, true
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "recent":
		b.handleRecent(ctx, message)
	case "stats":
		b.handleStats(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to NeoFeed! 📝
Send me anything worth keeping: notes, links, quotes.

I'll save it, summarize it, and tag it so it shows up in your weekly report.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/recent - Show your latest items
/stats - Show this week's numbers

Send text, or a photo or document with a caption, and it becomes an item.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleRecent(ctx context.Context, message *tgbotapi.Message) {
	user, err := b.store.GetOrCreateTelegramUser(ctx, message.From.ID, message.From.UserName)
	if err != nil {
		b.logger.Error("Failed to resolve user", zap.Error(err), zap.Int64("telegram_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your items.")
		return
	}

	items, err := b.store.ListItems(ctx, user.ID, storage.ListOptions{Limit: recentLimit})
	if err != nil {
		b.logger.Error("Failed to list items", zap.Error(err), zap.String("user_id", user.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your items.")
		return
	}

	if len(items) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any items yet.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, formatRecent(items))
	msg.ParseMode = "MarkdownV2"
	b.send(msg)
}

func formatRecent(items []models.ItemWithResult) string {
	var b strings.Builder
	b.WriteString("*Your recent items:*\n\n")
	for _, it := range items {
		heading := string(it.Status)
		if it.Result != nil && it.Result.Category != "" {
			heading = it.Result.Category
		}
		fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(heading))
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(preview(it)))
		if it.Result != nil && len(it.Result.Keywords) > 0 {
			tags := make([]string, len(it.Result.Keywords))
			for i, tag := range it.Result.Keywords {
				tags[i] = escapeMarkdown("#" + strings.ReplaceAll(tag, " ", "_"))
			}
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(tags, " "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func preview(it models.ItemWithResult) string {
	text := it.Content
	if it.Result != nil && it.Result.Summary != "" {
		text = it.Result.Summary
	} else if it.Title != "" {
		text = it.Title
	}
	runes := []rune(text)
	if len(runes) > previewLen {
		return string(runes[:previewLen]) + "…"
	}
	return text
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	user, err := b.store.GetOrCreateTelegramUser(ctx, message.From.ID, message.From.UserName)
	if err != nil {
		b.logger.Error("Failed to resolve user", zap.Error(err), zap.Int64("telegram_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve your stats. Please try again later.")
		return
	}

	stats, err := b.store.GetStats(ctx, user.ID, statsDays)
	if err != nil {
		b.logger.Error("Failed to get stats", zap.Error(err), zap.String("user_id", user.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve your stats. Please try again later.")
		return
	}

	b.sendMessage(message.Chat.ID, formatStats(stats))
}

func formatStats(stats models.Stats) string {
	return fmt.Sprintf(`Last %d days:
Total: %d
Processed: %d
Pending: %d
Processing: %d
Failed: %d`, statsDays, stats.Total, stats.Processed, stats.Pending, stats.Processing, stats.Failed)
}

// escapeMarkdown escapes the characters MarkdownV2 treats as markup.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, "⚠️ "+text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
	}
}
