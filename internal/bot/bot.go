package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/triagebot/internal/governor"
	"github.com/xaenox/triagebot/internal/intent"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/report"
	"github.com/xaenox/triagebot/internal/session"
	"github.com/xaenox/triagebot/internal/storage"
	"go.uber.org/zap"
)

// Bot adapts the Telegram gateway to the triage pipeline: every inbound
// message is classified, resolved, recorded, and answered only when the
// governor allows an automated reply.
type Bot struct {
	api      *tgbotapi.BotAPI
	sessions *session.Sessions
	governor *governor.Governor
	router   *intent.Router
	reports  *report.Builder
	logger   *zap.Logger
}

func New(token string, sessions *session.Sessions, gov *governor.Governor, router *intent.Router, reports *report.Builder, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:      api,
		sessions: sessions,
		governor: gov,
		router:   router,
		reports:  reports,
		logger:   logger,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	in := inboundFrom(message)
	res, err := b.sessions.Ingest(ctx, in)
	if err != nil {
		b.logger.Error("failed to record message",
			zap.Error(err),
			zap.String("address", in.Address),
			zap.String("external_id", in.ExternalID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't process your message. Please try again.")
		return
	}
	if res.Duplicate {
		b.logger.Debug("duplicate message ignored", zap.String("external_id", in.ExternalID))
		return
	}

	b.logger.Info("message recorded",
		zap.String("address", in.Address),
		zap.String("category", string(res.Classification.Category)),
		zap.String("priority", string(res.Classification.Priority)),
		zap.Bool("spam", res.Classification.IsSpam))

	if res.Classification.IsSpam {
		return
	}
	if !res.Conversation.AssistantEnabled {
		return
	}
	if !b.governor.Allow(ctx, res.Contact.ID, time.Now()) {
		b.logger.Debug("reply suppressed by governor", zap.Int64("contact_id", res.Contact.ID))
		return
	}

	routed := b.router.Route(ctx, in.Text, res.Contact.ID)
	b.sendMessage(message.Chat.ID, routed.Response)

	if _, err := b.sessions.RecordAssistantReply(ctx, res.Contact, res.Conversation, routed.Response); err != nil {
		b.logger.Error("failed to record assistant reply",
			zap.Error(err),
			zap.Int64("contact_id", res.Contact.ID))
	}
}

// inboundFrom maps a Telegram message to the gateway-neutral inbound
// record.
func inboundFrom(message *tgbotapi.Message) models.Inbound {
	text := message.Text
	if message.Caption != "" {
		text = message.Caption
	}

	var nameHint string
	if message.From != nil {
		nameHint = strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)
		if nameHint == "" {
			nameHint = message.From.UserName
		}
	}

	isGroup := message.Chat.IsGroup() || message.Chat.IsSuperGroup()

	return models.Inbound{
		ExternalID: fmt.Sprintf("%d:%d", message.Chat.ID, message.MessageID),
		Address:    strconv.FormatInt(message.Chat.ID, 10),
		NameHint:   nameHint,
		Text:       text,
		MediaType:  mediaTypeOf(message),
		IsGroup:    &isGroup,
		SentAt:     message.Time(),
	}
}

func mediaTypeOf(message *tgbotapi.Message) models.MessageType {
	switch {
	case len(message.Photo) > 0:
		return models.TypeImage
	case message.Voice != nil || message.Audio != nil:
		return models.TypeAudio
	case message.Video != nil || message.VideoNote != nil:
		return models.TypeVideo
	case message.Document != nil:
		return models.TypeDocument
	case message.Sticker != nil:
		return models.TypeSticker
	case message.Location != nil || message.Venue != nil:
		return models.TypeLocation
	case message.Contact != nil:
		return models.TypeContact
	default:
		return models.TypeText
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(ctx, message)
	case "summary":
		b.handleSummary(ctx, message)
	case "status":
		b.handleStatus(ctx, message)
	case "resolve":
		b.handleResolve(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hello! I keep track of your conversations here.
I classify and prioritize incoming messages, and I can give you summaries on request.

Try /summary for today's overview, or /help for everything I can do.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(ctx context.Context, message *tgbotapi.Message) {
	routed := b.router.Route(ctx, "help", 0)
	help := `Available commands:
/summary [today|yesterday|week] - summary report for a time range
/status - state of the current conversation
/resolve - mark the current conversation resolved
/help - this message

` + routed.Response
	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleSummary(ctx context.Context, message *tgbotapi.Message) {
	args := message.CommandArguments()
	tf := b.router.ExtractTimeframe(ctx, args)

	from, to, err := intent.DateRange(tf, time.Now())
	if err != nil {
		b.sendMessage(message.Chat.ID, "I couldn't work out that time range. Try /summary today or /summary yesterday.")
		return
	}

	text, err := b.reports.Render(ctx, from, to)
	if err != nil {
		b.logger.Error("summary build failed", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't build the summary right now.")
		return
	}
	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	address := strconv.FormatInt(message.Chat.ID, 10)
	contact, conv, err := b.sessions.OpenForAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendMessage(message.Chat.ID, "I don't have any conversation on record here yet.")
		return
	}
	if err != nil {
		b.logger.Error("status lookup failed", zap.Error(err), zap.String("address", address))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't look that up right now.")
		return
	}
	if conv == nil {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("No open conversation for %s.", displayName(contact)))
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf(
		"Conversation #%d: %s priority, %s, %d message(s), last activity %s.",
		conv.ID, conv.Priority, conv.Status, conv.MessageCount,
		conv.LastMessageAt.Format("Jan 2 15:04")))
}

func (b *Bot) handleResolve(ctx context.Context, message *tgbotapi.Message) {
	address := strconv.FormatInt(message.Chat.ID, 10)
	_, conv, err := b.sessions.OpenForAddress(ctx, address)
	if err != nil || conv == nil {
		b.sendMessage(message.Chat.ID, "There's no open conversation to resolve.")
		return
	}
	if err := b.sessions.MarkResolved(ctx, conv); err != nil {
		b.logger.Error("resolve failed", zap.Error(err), zap.Int64("conversation_id", conv.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't resolve the conversation right now.")
		return
	}
	b.sendMessage(message.Chat.ID, "Done, the conversation is marked resolved.")
}

func displayName(contact *models.Contact) string {
	if contact.Name != "" {
		return contact.Name
	}
	return contact.Address
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
