package gateway

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rohan/waypoint/internal/observability"
)

// TelegramNotifier pushes run lifecycle events to a Telegram chat.
type TelegramNotifier struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
}

func NewTelegramNotifier(token, chatID string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	var id int64
	if _, err := fmt.Sscanf(chatID, "%d", &id); err != nil || id == 0 {
		return nil, fmt.Errorf("invalid chat ID: %s", chatID)
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramNotifier{Bot: bot, ChatID: id}, nil
}

// Notify implements observability.Subscriber.
func (tg *TelegramNotifier) Notify(evt observability.Event) error {
	if !ShouldNotify(evt) {
		return nil
	}

	msg := tgbotapi.NewMessage(tg.ChatID, formatEvent(evt))
	msg.ParseMode = "Markdown" // Enable markdown for better alerts
	_, err := tg.Bot.Send(msg)
	return err
}

func (tg *TelegramNotifier) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

func formatEvent(evt observability.Event) string {
	icon := "ℹ️"
	switch evt.State {
	case observability.StateTaskOK:
		icon = "✅"
	case observability.StateTaskFail:
		icon = "❌"
	case observability.StateTaskCancel:
		icon = "🛑"
	case observability.StateTaskStart:
		icon = "🚀"
	}
	return fmt.Sprintf("%s *%s* (%s)\n\n%s", icon, evt.State, evt.Actor, evt.Message)
}
