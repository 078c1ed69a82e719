package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
)

type fakeBus struct {
	published map[string][][]byte
	streams   map[string][]domain.StreamMessage
	ch        chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][]domain.StreamMessage),
		ch:        make(chan []byte, 16),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

// Stream IDs are one-based positions, so afterID doubles as an index.
func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.Itoa(len(b.streams[stream]) + 1),
		Payload: payload,
	})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream, afterID string, limit int) ([]domain.StreamMessage, error) {
	after, err := strconv.Atoi(afterID)
	if err != nil {
		return nil, err
	}
	entries := b.streams[stream]
	if after >= len(entries) {
		return nil, nil
	}
	entries = entries[after:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

type fakeSubs struct {
	chats []int64
}

func (s *fakeSubs) Subscribe(_ context.Context, chatID int64) error {
	s.chats = append(s.chats, chatID)
	return nil
}

func (s *fakeSubs) Unsubscribe(_ context.Context, chatID int64) error {
	kept := s.chats[:0]
	for _, id := range s.chats {
		if id != chatID {
			kept = append(kept, id)
		}
	}
	s.chats = kept
	return nil
}

func (s *fakeSubs) List(context.Context) ([]int64, error) { return s.chats, nil }

func (s *fakeSubs) IsSubscribed(_ context.Context, chatID int64) (bool, error) {
	for _, id := range s.chats {
		if id == chatID {
			return true, nil
		}
	}
	return false, nil
}

type captureSender struct {
	sent      []OutgoingMessage
	failChats map[int64]bool
}

func (c *captureSender) SendMessage(_ context.Context, msg OutgoingMessage) error {
	if c.failChats[msg.ChatID] {
		return errors.New("chat blocked the bot")
	}
	c.sent = append(c.sent, msg)
	return nil
}

type passLimiter struct{}

func (passLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (passLimiter) Wait(context.Context, string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPublishNewMarkets(t *testing.T) {
	bus := newFakeBus()
	hook := PublishNewMarkets(bus, testLogger())

	hook(context.Background(), []domain.Market{
		{Slug: "m-one", Question: "One?"},
		{Slug: "m-two", Question: "Two?"},
	})

	payloads := bus.published[NewMarketChannel]
	require.Len(t, payloads, 2)

	var m domain.Market
	require.NoError(t, json.Unmarshal(payloads[0], &m))
	assert.Equal(t, "m-one", m.Slug)

	// Announcements also land in the durable log for startup replay.
	require.Len(t, bus.streams[NewMarketStream], 2)
}

func runFanoutOnce(t *testing.T, fanout *AlertFanout, bus *fakeBus, market domain.Market) {
	t.Helper()

	payload, err := json.Marshal(market)
	require.NoError(t, err)
	bus.ch <- payload

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = fanout.Run(ctx)
		close(done)
	}()

	// Give the fanout a moment to drain the channel before stopping it.
	deadline := time.After(2 * time.Second)
	for len(bus.ch) > 0 {
		select {
		case <-deadline:
			t.Fatal("fanout never consumed the announcement")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}

func TestAlertFanoutReplaysStreamBacklog(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1}}
	sender := &captureSender{}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 48*time.Hour, testLogger())

	// Announcements logged while no fanout was running.
	now := time.Now()
	stale := now.Add(-72 * time.Hour)
	hook := PublishNewMarkets(bus, testLogger())
	hook(context.Background(), []domain.Market{
		{Slug: "missed-market", Question: "Missed?", StartDate: &now},
		{Slug: "ancient-market", Question: "Old?", StartDate: &stale},
	})

	fanout.replay(context.Background())

	// Only the recent entry is recovered; the stale one stays filtered.
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "Missed?")
}

func TestAlertFanoutReplaySkippedWithoutRecentWindow(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1}}
	sender := &captureSender{}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 0, testLogger())

	hook := PublishNewMarkets(bus, testLogger())
	hook(context.Background(), []domain.Market{{Slug: "logged-market", Question: "Q?"}})

	fanout.replay(context.Background())

	// Without the recency filter a replay would re-announce the whole log.
	assert.Empty(t, sender.sent)
}

func TestAlertFanoutDedupesReplayedAnnouncements(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1}}
	sender := &captureSender{}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 48*time.Hour, testLogger())

	now := time.Now()
	market := domain.Market{Slug: "twice-market", Question: "Again?", StartDate: &now}

	hook := PublishNewMarkets(bus, testLogger())
	hook(context.Background(), []domain.Market{market})

	// Replay recovers the announcement, then the same market arrives live.
	fanout.replay(context.Background())
	payload, err := json.Marshal(market)
	require.NoError(t, err)
	fanout.handle(context.Background(), payload)

	assert.Len(t, sender.sent, 1, "a replayed announcement must not be delivered twice")
}

func TestAlertFanoutDeliversToAllSubscribers(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1, 2, 3}}
	sender := &captureSender{}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 0, testLogger())

	runFanoutOnce(t, fanout, bus, domain.Market{
		Slug:      "fresh-market",
		Question:  "Will it happen?",
		Liquidity: 5000,
	})

	require.Len(t, sender.sent, 3)
	msg := sender.sent[0]
	assert.Contains(t, msg.Text, "Will it happen?")
	assert.Contains(t, msg.Text, "5000 USDC")
	require.NotNil(t, msg.ReplyMarkup)
	buttons := msg.ReplyMarkup.InlineKeyboard[0]
	assert.Equal(t, cbMarketOrder+"fresh-market", buttons[0].CallbackData)
	assert.Equal(t, cbLimitOrder+"fresh-market", buttons[1].CallbackData)
}

func TestAlertFanoutFailedSendDoesNotBlockOthers(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1, 2, 3}}
	sender := &captureSender{failChats: map[int64]bool{2: true}}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 0, testLogger())

	runFanoutOnce(t, fanout, bus, domain.Market{Slug: "m", Question: "Q?"})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(1), sender.sent[0].ChatID)
	assert.Equal(t, int64(3), sender.sent[1].ChatID)
}

func TestAlertFanoutSkipsBackCatalogue(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1}}
	sender := &captureSender{}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 48*time.Hour, testLogger())

	old := time.Now().Add(-72 * time.Hour)
	runFanoutOnce(t, fanout, bus, domain.Market{
		Slug:      "stale-market",
		Question:  "Old news?",
		StartDate: &old,
	})

	assert.Empty(t, sender.sent)
}

func TestAlertFanoutRecentWindowZeroDisablesFilter(t *testing.T) {
	bus := newFakeBus()
	subs := &fakeSubs{chats: []int64{1}}
	sender := &captureSender{}
	fanout := NewAlertFanout(bus, subs, sender, passLimiter{}, 0, testLogger())

	old := time.Now().Add(-30 * 24 * time.Hour)
	runFanoutOnce(t, fanout, bus, domain.Market{
		Slug:      "any-market",
		Question:  "Q?",
		StartDate: &old,
	})

	assert.Len(t, sender.sent, 1)
}
