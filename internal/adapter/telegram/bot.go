package telegram

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"cio-bot/internal/config"
	"cio-bot/internal/usecase/chat"
)

const (
	chunkSize = 2048

	cmdStart = "/start"
	cmdFile  = "/file"
)

type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     config.Config
	chat    *chat.Service
	binding *chatBinding
}

func NewBot(cfg config.Config, chatSvc *chat.Service) (*Bot, error) {
	if err := cfg.RequireTelegram(); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to telegram")
	}

	log.Info().Str("bot", api.Self.UserName).Int64("chat_id", cfg.TelegramChatID).Msg("telegram bot authorized")

	return &Bot{
		api:     api,
		cfg:     cfg,
		chat:    chatSvc,
		binding: newChatBinding(cfg.TelegramChatID),
	}, nil
}

// Run polls for updates until ctx is done. Messages are handled one at a
// time because the bot serves a single conversation.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	logger := log.With().
		Int64("chat_id", msg.Chat.ID).
		Int64("user_id", msg.From.ID).
		Str("session_id", b.chat.SessionID()).
		Logger()

	if !isAllowedUser(msg.From.ID, b.cfg) {
		logger.Warn().Msg("refusing message from user not on the allow-list")
		b.sendText(msg.Chat.ID, msg.MessageID, "access denied")
		return
	}
	if !b.binding.accept(msg.Chat.ID) {
		logger.Warn().Msg("refusing message from a second chat")
		b.sendText(msg.Chat.ID, msg.MessageID, "this bot is already serving another conversation")
		return
	}

	text, respondAsFile := parseInput(msg.Text)
	if text == cmdStart {
		b.sendText(msg.Chat.ID, msg.MessageID, b.cfg.Title)
		return
	}

	b.sendChatAction(msg.Chat.ID, respondAsFile)

	reply, err := b.chat.Submit(ctx, text)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			b.sendText(msg.Chat.ID, msg.MessageID, "i need some content to work with")
			return
		}
		logger.Error().Err(err).Msg("submit failed")
		b.sendText(msg.Chat.ID, msg.MessageID, "please wait for the previous reply")
		return
	}
	if reply.Failed() {
		logger.Error().Err(reply.Err).Msg("completion request failed")
	}

	if respondAsFile || shouldSendAsFile(reply.Content) {
		if err := b.sendAsFile(msg.Chat.ID, msg.MessageID, reply.Content); err != nil {
			logger.Error().Err(err).Msg("failed to send file")
			b.sendText(msg.Chat.ID, msg.MessageID, "could not send file, here is the text")
			b.sendText(msg.Chat.ID, msg.MessageID, reply.Content)
		}
		return
	}

	b.sendText(msg.Chat.ID, msg.MessageID, reply.Content)
}

func (b *Bot) sendText(chatID int64, replyTo int, text string) {
	for idx, chunk := range splitText(text, chunkSize) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if idx == 0 {
			msg.ReplyToMessageID = replyTo
		}
		if err := sendWithFallback(b.api, msg); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
		}
	}
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// sendWithFallback resends msg as plain text when Telegram rejects its
// markdown, e.g. an unbalanced '_' or '*' in model output.
func sendWithFallback(api sender, msg tgbotapi.MessageConfig) error {
	_, err := api.Send(msg)
	if err == nil || msg.ParseMode == "" {
		return err
	}

	log.Debug().Err(err).Int64("chat_id", msg.ChatID).Msg("markdown send failed, retrying as plain text")
	msg.ParseMode = ""
	_, err = api.Send(msg)
	return err
}

func (b *Bot) sendChatAction(chatID int64, asFile bool) {
	action := tgbotapi.ChatTyping
	if asFile {
		action = tgbotapi.ChatUploadDocument
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("failed to send chat action")
	}
}

func (b *Bot) sendAsFile(chatID int64, replyTo int, content string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  "response.md",
		Bytes: []byte(content),
	})
	doc.ReplyToMessageID = replyTo

	_, err := b.api.Send(doc)
	return err
}

// chatBinding pins the bot to one chat. A zero id binds to the first chat
// that is accepted.
type chatBinding struct {
	mu     sync.Mutex
	chatID int64
	bound  bool
}

func newChatBinding(chatID int64) *chatBinding {
	return &chatBinding{chatID: chatID, bound: chatID != 0}
}

func (c *chatBinding) accept(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound {
		c.chatID = chatID
		c.bound = true
		log.Info().Int64("chat_id", chatID).Msg("bound conversation to chat")
		return true
	}
	return c.chatID == chatID
}

func parseInput(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(text), cmdFile) {
		return strings.TrimSpace(text[len(cmdFile):]), true
	}
	return text, false
}

func shouldSendAsFile(text string) bool {
	return len([]rune(text)) > chunkSize
}

func isAllowedUser(userID int64, cfg config.Config) bool {
	for _, id := range cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}

	if len(cfg.AllowedUserIDs) == 0 {
		return true
	}

	for _, id := range cfg.AllowedUserIDs {
		if id == userID {
			return true
		}
	}

	return false
}

func splitText(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}
