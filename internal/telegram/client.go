// Package telegram sends a short summary of an analysis run to a Telegram chat.
// Messages use MarkdownV2 and delivery is retried with linear backoff.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/calspread/internal/models"
)

// sender is the part of *tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send delivers the run summary.
func (c *Client) Send(ctx context.Context, run *models.Run) error {
	msg := tgbotapi.NewMessage(c.chatID, formatMessage(run))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage renders the headline numbers of every spread and pair.
func formatMessage(run *models.Run) string {
	var b strings.Builder

	b.WriteString("📊 *Calendar Spread Analysis*\n")
	period := fmt.Sprintf("%s to %s", run.Window.Start.Format(models.DateLayout), run.Window.End.Format(models.DateLayout))
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(period))

	for i, r := range run.Results {
		fmt.Fprintf(&b, "%d\\. *%s*\n", i+1, escapeMarkdownV2(r.Label))
		if r.Spread == nil {
			b.WriteString("   no spread available\n\n")
			continue
		}
		stats := fmt.Sprintf("mean %s, std %s, range [%s, %s]",
			compact(r.Stats.Mean), compact(r.Stats.Std), compact(r.Stats.Min), compact(r.Stats.Max))
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(stats))
		last := fmt.Sprintf("spread on %s: %s", run.Window.End.Format(models.DateLayout), compact(r.Spread.At(run.Window.End)))
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(last))
		fmt.Fprintf(&b, "   %s\n\n", escapeMarkdownV2(fmt.Sprintf("front %s, second %s", r.FrontContract, r.SecondContract)))
	}

	for _, c := range run.Cross {
		line := fmt.Sprintf("%s vs %s: correlation %s", c.Left, c.Right, compact(c.Correlation))
		fmt.Fprintf(&b, "🔗 %s\n", escapeMarkdownV2(line))
	}

	if len(run.Failures) > 0 {
		names := make([]string, len(run.Failures))
		for i, f := range run.Failures {
			names[i] = string(f.Instrument)
		}
		fmt.Fprintf(&b, "\n⚠️ %s\n", escapeMarkdownV2("source failures: "+strings.Join(names, ", ")))
	}

	return b.String()
}

func compact(n models.NullFloat) string {
	v, ok := n.Get()
	if !ok {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
