package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"log/slog"

	"opora/app/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/do"
)

// nonTextPlaceholder substitutes voice, photo and sticker messages so
// the core never receives an empty subject message.
const nonTextPlaceholder = "[нетекстовое сообщение]"

type IncomingMessage struct {
	SubjectID string
	ChatID    int64
	MessageID int
	Command   string
	Text      string
}

type MessageHandler func(msg IncomingMessage)

type Client struct {
	cfg *config.Config
	api *tgbotapi.BotAPI

	mutex          sync.RWMutex
	messageHandler MessageHandler
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot api: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", api.Self.UserName)

	return &Client{
		cfg: cfg,
		api: api,
	}, nil
}

func (c *Client) OnMessage(handler MessageHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.messageHandler = handler
}

func (c *Client) RunPollLoop(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30

	updates := c.api.GetUpdatesChan(updateConfig)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			if update.Message == nil || update.Message.From == nil {
				continue
			}

			c.dispatch(update.Message)
		}
	}
}

func (c *Client) dispatch(message *tgbotapi.Message) {
	c.mutex.RLock()
	handler := c.messageHandler
	c.mutex.RUnlock()

	if handler == nil {
		return
	}

	text := message.Text
	if text == "" {
		text = nonTextPlaceholder
	}

	handler(IncomingMessage{
		SubjectID: strconv.FormatInt(message.From.ID, 10),
		ChatID:    message.Chat.ID,
		MessageID: message.MessageID,
		Command:   message.Command(),
		Text:      text,
	})
}

// SendMessage returns the sent message id so callers can edit it later.
func (c *Client) SendMessage(chatID int64, text string) (int, error) {
	sent, err := c.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("failed to send telegram message: %w", err)
	}

	return sent.MessageID, nil
}

func (c *Client) EditMessage(chatID int64, messageID int, text string) error {
	if _, err := c.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return fmt.Errorf("failed to edit telegram message: %w", err)
	}

	return nil
}

func (c *Client) SendTyping(chatID int64) {
	if _, err := c.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		slog.Debug("Failed to send typing action", "error", err)
	}
}
