// Package notification reports run results to Telegram users.
package notification

import (
	"fmt"
	"time"

	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/ezquant/azrl/azrl/model"
	"github.com/ezquant/azrl/azrl/service"
	"github.com/ezquant/azrl/azrl/tools/log"
)

var _ service.Notifier = (*telegram)(nil)

type sender interface {
	Send(to tb.Recipient, what interface{}, options ...interface{}) (*tb.Message, error)
}

type telegram struct {
	bot   sender
	users []int64
}

// NewTelegram connects a bot that messages every configured user.
func NewTelegram(settings model.TelegramSettings) (service.Notifier, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:  settings.Token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(bot, settings.Users), nil
}

func newTelegram(bot sender, users []int64) *telegram {
	return &telegram{bot: bot, users: append([]int64(nil), users...)}
}

func (t telegram) Notify(text string) {
	for _, user := range t.users {
		if _, err := t.bot.Send(tb.ChatID(user), text); err != nil {
			log.WithError(err).WithField("user", user).Error("telegram notify")
		}
	}
}

func (t telegram) OnError(err error) {
	t.Notify(fmt.Sprintf("🛑 ERROR\n%s", err))
}
