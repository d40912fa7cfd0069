package gateway

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Handler Handler
	// AllowedChat, when set, is the only chat whose commands are answered.
	AllowedChat int64
	logger      *log.Logger
}

func NewTelegramGateway(token string, handler Handler, logger *log.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	logger = logger.WithPrefix("telegram")
	logger.Info("authorized", "account", bot.Self.UserName)

	return &TelegramGateway{
		Bot:     bot,
		Handler: handler,
		logger:  logger,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		var update tgbotapi.Update
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			update = upd
		}
		if update.Message == nil || tg.Handler == nil {
			continue
		}
		if tg.AllowedChat != 0 && update.Message.Chat.ID != tg.AllowedChat {
			tg.logger.Warn("ignoring message from unknown chat", "chat", update.Message.Chat.ID)
			continue
		}

		if update.Message.From != nil {
			tg.logger.Debug("message", "from", update.Message.From.UserName, "text", update.Message.Text)
		}

		chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
		response := tg.Handler.Handle(ctx, chatID, update.Message.Text)
		if response == "" {
			continue
		}
		if err := tg.Send(chatID, response); err != nil {
			tg.logger.Error("reply failed", "chat", chatID, "error", err)
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
