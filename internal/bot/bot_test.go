package bot

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/service"
)

type fakeAPI struct {
	sent []OutgoingMessage
}

func (a *fakeAPI) GetUpdates(context.Context, int64, int) ([]Update, error) { return nil, nil }

func (a *fakeAPI) SendMessage(_ context.Context, msg OutgoingMessage) error {
	a.sent = append(a.sent, msg)
	return nil
}

func (a *fakeAPI) AnswerCallbackQuery(context.Context, string, string) error { return nil }

type fakeWatches struct {
	added []domain.LiquiditySubscription
}

func (w *fakeWatches) Add(_ context.Context, sub domain.LiquiditySubscription) error {
	w.added = append(w.added, sub)
	return nil
}

func (w *fakeWatches) Remove(context.Context, string, int64) error { return domain.ErrNotFound }

func (w *fakeWatches) RemoveByMarket(context.Context, string) error { return nil }

func (w *fakeWatches) ListByMarket(context.Context, string) ([]domain.LiquiditySubscription, error) {
	return nil, nil
}

func (w *fakeWatches) ListAll(context.Context) ([]domain.LiquiditySubscription, error) {
	return nil, nil
}

type stubOrders struct{}

func (stubOrders) ListByOwner(context.Context, int64, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (stubOrders) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

type stubStatus struct{}

func (stubStatus) Report(context.Context) (service.Status, error) {
	return service.Status{}, nil
}

func testBot(t *testing.T) (*Bot, *fakeAPI, *fakeSubs) {
	t.Helper()
	flow, _, _ := testFlow(t)
	api := &fakeAPI{}
	subs := &fakeSubs{}
	b := New(
		api, flow,
		subs, &fakeWatches{},
		stubOrders{}, &fakeMarkets{}, stubStatus{},
		passLimiter{},
		slog.New(slog.DiscardHandler),
	)
	return b, api, subs
}

func command(chatID int64, text string) Message {
	return Message{Chat: Chat{ID: chatID}, From: &User{ID: testUser}, Text: text}
}

func TestSubscribeCommandIdempotent(t *testing.T) {
	b, api, subs := testBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, command(testChat, "/subscribe"))
	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0].Text, "Subscribed")
	assert.Equal(t, []int64{testChat}, subs.chats)

	// Subscribing again must not register the chat twice.
	b.handleMessage(ctx, command(testChat, "/subscribe"))
	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[1].Text, "Already subscribed")
	assert.Equal(t, []int64{testChat}, subs.chats)
}

func TestUnsubscribeCommand(t *testing.T) {
	b, api, subs := testBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, command(testChat, "/subscribe"))
	b.handleMessage(ctx, command(testChat, "/unsubscribe"))

	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[1].Text, "Unsubscribed")
	assert.Empty(t, subs.chats)
}

func TestUnknownCommandHinted(t *testing.T) {
	b, api, _ := testBot(t)

	b.handleMessage(context.Background(), command(testChat, "/frobnicate"))

	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0].Text, "/help")
}
