package notification

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	tb "gopkg.in/tucnak/telebot.v2"
)

type fakeBot struct {
	sent map[string][]string
	fail bool
}

func (f *fakeBot) Send(to tb.Recipient, what interface{}, _ ...interface{}) (*tb.Message, error) {
	if f.fail {
		return nil, errors.New("unreachable")
	}
	f.sent[to.Recipient()] = append(f.sent[to.Recipient()], what.(string))
	return &tb.Message{}, nil
}

func TestTelegram(t *testing.T) {
	bot := &fakeBot{sent: make(map[string][]string)}
	notifier := newTelegram(bot, []int64{1, 2})

	notifier.Notify("done")
	notifier.OnError(errors.New("boom"))

	assert.Equal(t, []string{"done", "🛑 ERROR\nboom"}, bot.sent["1"])
	assert.Len(t, bot.sent["2"], 2)

	bot.fail = true
	assert.NotPanics(t, func() { notifier.Notify("lost") })
}
