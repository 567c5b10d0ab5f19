package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFilters(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"market_created", " market_orphaned "}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "market_created", "a", "x"))
	require.NoError(t, n.Notify(ctx, "market_resolved", "b", "x"))
	require.NoError(t, n.Notify(ctx, "market_orphaned", "c", "x"))
	assert.Equal(t, []string{"a", "c"}, s.titles)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, n.NotifyEvent(context.Background(), domain.LifecycleEvent{Type: domain.EventMarketResolved, MarketID: "m"}, ""))
	assert.Equal(t, []string{"Secret market resolved"}, s.titles)
}

func TestNotifierCollectsErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "x", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "x", "t", "m"))
}

func TestRender(t *testing.T) {
	title, msg := Render(domain.LifecycleEvent{
		Type:     domain.EventMarketCreated,
		MarketID: "m1",
		Hash:     "abcd",
		At:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}, "url: https://example")
	assert.Equal(t, "Secret market created", title)
	assert.Equal(t, "Market: m1\nCommitment: abcd\nAt: 2025-01-02 03:04:05 UTC\nurl: https://example", msg)
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "T", "body @everyone"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "T", got.Embeds[0].Title)
	assert.Equal(t, "body @everyone", got.Embeds[0].Description)
	assert.Equal(t, "secretmarket", got.Username)
	assert.NotNil(t, got.AllowedMentions.Parse)
	assert.Empty(t, got.AllowedMentions.Parse)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, "éé…", truncate("éééé", 3))
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type fakeBot struct {
	fails int
	sent  []tgbotapi.Chattable
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.sent) <= f.fails {
		return tgbotapi.Message{}, errors.New("flood")
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSenderRetries(t *testing.T) {
	bot := &fakeBot{fails: 2}
	s, err := newTelegramSender(bot, "-1001234", 3, time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "T", "m"))
	require.Len(t, bot.sent, 3)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.EqualValues(t, -1001234, msg.ChatID)
	assert.Equal(t, "T\n\nm", msg.Text)
}

func TestTelegramSenderGivesUp(t *testing.T) {
	bot := &fakeBot{fails: 10}
	s, err := newTelegramSender(bot, "1", 2, time.Millisecond)
	require.NoError(t, err)
	assert.Error(t, s.Send(context.Background(), "T", "m"))
	assert.Len(t, bot.sent, 2)
}

func TestTelegramSenderBadChatID(t *testing.T) {
	_, err := newTelegramSender(&fakeBot{}, "@channel", 1, 0)
	assert.Error(t, err)
}
