// Package telegram is the outbound operator channel: notifier messages and log alerts
// are delivered to one chat (optionally one forum thread) through the Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"farmcrew/internal/task/engine"
	"farmcrew/pkg/logx"
)

var ErrNoToken = errors.New("telegram token is empty")

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
	// URL overrides the Bot API endpoint (self-hosted API servers, tests).
	URL string
}

// Sender posts plain-text messages. It never polls for updates.
type Sender struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	chat *tele.Chat
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips getMe so startup does not depend on the network.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{
		cfg:  cfg,
		log:  log.OrNop().With(logx.String("comp", "telegram")),
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
	}, nil
}

// Send delivers text, split into API-sized chunks. ctx bounds the whole delivery.
func (s *Sender) Send(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() {
		done <- s.send(ctx, text)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Sender) send(ctx context.Context, text string) error {
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: s.cfg.ThreadID}
	for _, chunk := range splitText(text, textLimit) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.bot.Send(s.chat, chunk, opt); err != nil {
			s.log.Debug("telegram send failed", logx.Err(err))
			return classify(err)
		}
	}
	return nil
}

// classify tags Bot API errors for retry loops: flood waits carry the server's delay and
// other client errors are permanent.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return engine.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return engine.NoRetry(err)
	}
	return err
}

// SendAlert lets the sender act as the log alert sink.
func (s *Sender) SendAlert(ctx context.Context, text string) error {
	return s.Send(ctx, text)
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline boundaries
// that do not leave a chunk shorter than a third of the limit.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
