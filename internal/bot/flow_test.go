package bot

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
)

type memSessions struct {
	byKey map[string]domain.FlowSession
}

func newMemSessions() *memSessions {
	return &memSessions{byKey: make(map[string]domain.FlowSession)}
}

func sessKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

func (m *memSessions) Get(ctx context.Context, chatID, userID int64) (domain.FlowSession, error) {
	sess, ok := m.byKey[sessKey(chatID, userID)]
	if !ok {
		return domain.FlowSession{}, domain.ErrNotFound
	}
	return sess, nil
}

func (m *memSessions) Put(ctx context.Context, sess domain.FlowSession) error {
	m.byKey[sessKey(sess.ChatID, sess.UserID)] = sess
	return nil
}

func (m *memSessions) Delete(ctx context.Context, chatID, userID int64) error {
	delete(m.byKey, sessKey(chatID, userID))
	return nil
}

type fakeMarkets struct {
	markets map[string]domain.Market
}

func (f *fakeMarkets) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	m, ok := f.markets[slug]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeSubmitter struct {
	submitted []domain.Order
	result    domain.Order
	err       error
}

func (f *fakeSubmitter) Submit(ctx context.Context, order domain.Order) (domain.Order, error) {
	f.submitted = append(f.submitted, order)
	if f.err != nil {
		return domain.Order{}, f.err
	}
	res := f.result
	if res.ID == "" {
		res = order
		res.ID = "local-1"
		res.Status = domain.OrderStatusSuccess
		res.RemoteID = "remote-1"
	}
	return res, nil
}

func testFlow(t *testing.T) (*Flow, *memSessions, *fakeSubmitter) {
	t.Helper()
	sessions := newMemSessions()
	markets := &fakeMarkets{markets: map[string]domain.Market{
		"us-election": {
			Slug:     "us-election",
			Question: "Will the incumbent win?",
			Outcomes: []string{"Yes", "No"},
			TokenIDs: []string{"tok-yes", "tok-no"},
		},
	}}
	submitter := &fakeSubmitter{}
	flow := NewFlow(sessions, markets, submitter, slog.New(slog.DiscardHandler))
	return flow, sessions, submitter
}

const (
	testChat int64 = 100
	testUser int64 = 7
)

func TestFlowStartPresentsOutcomes(t *testing.T) {
	flow, sessions, _ := testFlow(t)

	reply, handled, err := flow.HandleCallback(context.Background(), testChat, testUser, "market_order:us-election")
	require.NoError(t, err)
	require.True(t, handled)

	require.NotNil(t, reply.Keyboard)
	row := reply.Keyboard.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "outcome:Yes", row[0].CallbackData)
	assert.Equal(t, "outcome:No", row[1].CallbackData)

	sess, err := sessions.Get(context.Background(), testChat, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowSelectingOutcome, sess.State)
	assert.Equal(t, domain.OrderTypeMarket, sess.OrderType)
}

func TestFlowStartUnknownMarket(t *testing.T) {
	flow, sessions, _ := testFlow(t)

	reply, handled, err := flow.HandleCallback(context.Background(), testChat, testUser, "market_order:nope")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Contains(t, reply.Text, "not found")

	_, err = sessions.Get(context.Background(), testChat, testUser)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFlowOutcomeAdvancesToSide(t *testing.T) {
	flow, sessions, _ := testFlow(t)
	ctx := context.Background()

	_, _, err := flow.HandleCallback(ctx, testChat, testUser, "market_order:us-election")
	require.NoError(t, err)

	reply, handled, err := flow.HandleCallback(ctx, testChat, testUser, "outcome:Yes")
	require.NoError(t, err)
	require.True(t, handled)
	require.NotNil(t, reply.Keyboard)

	sess, err := sessions.Get(ctx, testChat, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowSelectingSide, sess.State)
	assert.Equal(t, "Yes", sess.Outcome)
	assert.Equal(t, "tok-yes", sess.TokenID)
}

func TestFlowInvalidAmountReprompts(t *testing.T) {
	flow, sessions, submitter := testFlow(t)
	ctx := context.Background()

	driveToAmount(t, flow, domain.OrderTypeMarket)

	// ParseFloat accepts the NaN/Inf spellings, so they must be rejected
	// explicitly rather than submitted.
	for _, input := range []string{"abc", "-5", "0", "NaN", "nan", "Inf", "-Inf"} {
		reply, handled, err := flow.HandleText(ctx, testChat, testUser, input)
		require.NoError(t, err)
		require.True(t, handled)
		assert.Contains(t, reply.Text, "positive number", "input %q", input)
	}

	sess, err := sessions.Get(ctx, testChat, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowEnteringAmount, sess.State, "invalid input must not advance the state")
	assert.Empty(t, submitter.submitted)
}

func TestFlowMarketOrderSubmitsAfterAmount(t *testing.T) {
	flow, sessions, submitter := testFlow(t)
	ctx := context.Background()

	driveToAmount(t, flow, domain.OrderTypeMarket)

	reply, handled, err := flow.HandleText(ctx, testChat, testUser, "25")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Contains(t, reply.Text, "Order placed")

	require.Len(t, submitter.submitted, 1)
	order := submitter.submitted[0]
	assert.Equal(t, "us-election", order.MarketSlug)
	assert.Equal(t, "tok-yes", order.TokenID)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	assert.Equal(t, domain.OrderTypeMarket, order.Type)
	assert.Equal(t, 25.0, order.Size)
	assert.Nil(t, order.LimitPrice)
	assert.Equal(t, testChat, order.ChatID)

	_, err = sessions.Get(ctx, testChat, testUser)
	assert.ErrorIs(t, err, domain.ErrNotFound, "session must be cleared after submission")
}

func TestFlowLimitOrderRequiresPriceInRange(t *testing.T) {
	flow, sessions, submitter := testFlow(t)
	ctx := context.Background()

	driveToAmount(t, flow, domain.OrderTypeLimit)

	reply, handled, err := flow.HandleText(ctx, testChat, testUser, "10")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Contains(t, reply.Text, "limit price")

	for _, input := range []string{"1.5", "-0.1", "abc", "NaN", "nan", "Inf"} {
		reply, _, err := flow.HandleText(ctx, testChat, testUser, input)
		require.NoError(t, err)
		assert.Contains(t, reply.Text, "between 0 and 1", "input %q", input)
	}
	sess, err := sessions.Get(ctx, testChat, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowEnteringPrice, sess.State)
	assert.Empty(t, submitter.submitted, "rejected prices must not reach the order service")

	_, _, err = flow.HandleText(ctx, testChat, testUser, "0.42")
	require.NoError(t, err)

	require.Len(t, submitter.submitted, 1)
	order := submitter.submitted[0]
	assert.Equal(t, domain.OrderTypeLimit, order.Type)
	require.NotNil(t, order.LimitPrice)
	assert.Equal(t, 0.42, *order.LimitPrice)
}

func TestFlowSubmissionFailureReported(t *testing.T) {
	flow, sessions, submitter := testFlow(t)
	submitter.result = domain.Order{
		ID:        "local-2",
		Status:    domain.OrderStatusFailed,
		ErrorText: "not enough balance",
	}
	ctx := context.Background()

	driveToAmount(t, flow, domain.OrderTypeMarket)

	reply, _, err := flow.HandleText(ctx, testChat, testUser, "25")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "not enough balance")

	_, err = sessions.Get(ctx, testChat, testUser)
	assert.ErrorIs(t, err, domain.ErrNotFound, "session must be cleared even when the order fails")
}

func TestFlowCancelClearsSession(t *testing.T) {
	flow, sessions, _ := testFlow(t)
	ctx := context.Background()

	driveToAmount(t, flow, domain.OrderTypeMarket)

	reply, err := flow.Cancel(ctx, testChat, testUser)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "cancelled")

	_, err = sessions.Get(ctx, testChat, testUser)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, handled, err := flow.HandleText(ctx, testChat, testUser, "25")
	require.NoError(t, err)
	assert.False(t, handled, "text after cancel must fall outside the conversation")
}

func TestFlowTextWithoutSessionUnhandled(t *testing.T) {
	flow, _, _ := testFlow(t)

	_, handled, err := flow.HandleText(context.Background(), testChat, testUser, "hello")
	require.NoError(t, err)
	assert.False(t, handled)
}

// driveToAmount walks the conversation to EnteringAmount with outcome Yes
// and side buy.
func driveToAmount(t *testing.T, flow *Flow, orderType domain.OrderType) {
	t.Helper()
	ctx := context.Background()

	entry := "market_order:us-election"
	if orderType == domain.OrderTypeLimit {
		entry = "limit_order:us-election"
	}
	_, _, err := flow.HandleCallback(ctx, testChat, testUser, entry)
	require.NoError(t, err)
	_, _, err = flow.HandleCallback(ctx, testChat, testUser, "outcome:Yes")
	require.NoError(t, err)
	_, _, err = flow.HandleCallback(ctx, testChat, testUser, "side:buy")
	require.NoError(t, err)
}
