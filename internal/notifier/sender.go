package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, to Target, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to Target, text string) error

func (f SenderFunc) Send(ctx context.Context, to Target, text string) error { return f(ctx, to, text) }

// Telegram sends alerts through a bot. It never polls for updates.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Send(ctx context.Context, to Target, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              to.ThreadID,
	})
	return err
}
