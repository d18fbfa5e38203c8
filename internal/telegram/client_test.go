package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/calspread/internal/models"
)

type fakeBot struct {
	failures int
	sent     []tgbotapi.MessageConfig
	calls    int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("Too Many Requests: retry after 1")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func sampleRun() *models.Run {
	start := time.Date(2025, 12, 12, 0, 0, 0, 0, time.UTC)
	spread := &models.Series{
		Label:  "CL Calendar Spread",
		Dates:  []time.Time{start},
		Values: []models.NullFloat{models.Some(0.42)},
	}
	return &models.Run{
		Window: models.AnalysisWindow{Start: start, End: start.AddDate(0, 0, 7), Windows: []int{3}},
		Results: []models.AnalysisResult{
			{
				Label:          "CL Calendar Spread",
				FrontContract:  "1001",
				SecondContract: "1002",
				Spread:         spread,
				Stats: models.Summary{
					Mean: models.Some(0.42), Std: models.Some(-0.5),
					Min: models.Some(0.3), Max: models.Some(0.55),
				},
			},
			{Label: "YM Calendar Spread"},
		},
		Cross: []models.CrossResult{
			{Left: "CL Calendar Spread", Right: "YM Calendar Spread", Correlation: models.None()},
		},
		Failures: []models.SourceFailure{{Instrument: models.YM, Error: "timeout"}},
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"2025-12-12", "2025\\-12\\-12"},
		{"mean 0.42 (n=5)!", "mean 0\\.42 \\(n\\=5\\)\\!"},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage(sampleRun())

	for _, want := range []string{
		"*Calendar Spread Analysis*",
		"2025\\-12\\-12 to 2025\\-12\\-19",
		"1\\. *CL Calendar Spread*",
		"mean 0\\.42, std \\-0\\.5, range \\[0\\.3, 0\\.55\\]",
		"spread on 2025\\-12\\-19: n/a",
		"front 1001, second 1002",
		"2\\. *YM Calendar Spread*",
		"no spread available",
		"CL Calendar Spread vs YM Calendar Spread: correlation n/a",
		"source failures: YM",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessageLastSpread(t *testing.T) {
	run := sampleRun()
	run.Window.End = run.Window.Start

	msg := formatMessage(run)
	if !strings.Contains(msg, "spread on 2025\\-12\\-12: 0\\.42") {
		t.Errorf("message missing closing spread value:\n%s", msg)
	}
}

func TestSendRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c, err := newClient(bot, "12345", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}

	if err := c.Send(context.Background(), sampleRun()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if bot.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", bot.calls)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("Expected 1 delivered message, got %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 12345 || bot.sent[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("Unexpected message config: chat=%d mode=%q", bot.sent[0].ChatID, bot.sent[0].ParseMode)
	}
}

func TestSendGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c, err := newClient(bot, "12345", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}

	err = c.Send(context.Background(), sampleRun())
	if err == nil || !strings.Contains(err.Error(), "after 2 retries") {
		t.Errorf("Expected retry exhaustion error, got %v", err)
	}
	if bot.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", bot.calls)
	}
}

func TestNewClientInvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}
