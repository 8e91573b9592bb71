package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradedesk/internal/deadletter"
	"tradedesk/internal/gateway/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) UpdateOrder(ctx context.Context, u ledger.OrderUpdate) (ledger.Outcome, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(ledger.Outcome), args.Error(1)
}

func (m *MockLedger) ApplyTransferStatus(ctx context.Context, u ledger.TransferUpdate) (ledger.Outcome, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(ledger.Outcome), args.Error(1)
}

// replaySource 依次投递消息，然后阻塞到 ctx 取消。
type replaySource struct {
	stream string
	msgs   []events.Message
	done   chan struct{}
}

func newReplay(stream string, msgs ...events.Message) *replaySource {
	return &replaySource{stream: stream, msgs: msgs, done: make(chan struct{})}
}

func (s *replaySource) Stream() string { return s.stream }

func (s *replaySource) Run(ctx context.Context, h events.Handler) error {
	for _, m := range s.msgs {
		h(ctx, m)
	}
	close(s.done)
	<-ctx.Done()
	return nil
}

func (s *replaySource) Stats() events.Stats { return events.Stats{Stream: s.stream, Received: int64(len(s.msgs))} }

type memCursors struct {
	mu  sync.Mutex
	ids map[string][]string
}

func (c *memCursors) Set(_ context.Context, stream, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = map[string][]string{}
	}
	c.ids[stream] = append(c.ids[stream], id)
	return nil
}

func msg(stream, id, data string) events.Message {
	return events.Message{Stream: stream, ID: id, Data: []byte(data)}
}

func runUntilDrained(t *testing.T, r *Reconciler, sources ...*replaySource) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	for _, s := range sources {
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("stream %s not drained", s.stream)
		}
	}
	cancel()
	require.NoError(t, <-errCh)
}

func openDeadLetters(t *testing.T) deadletter.Store {
	t.Helper()
	dl, err := deadletter.OpenFile(filepath.Join(t.TempDir(), "dead.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dl.Close() })
	return dl
}

func TestReconcilerRoutesEvents(t *testing.T) {
	l := new(MockLedger)
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool {
		return u.BrokerOrderID == "b-1" && u.Status == order.StatusFilled && u.FilledQty.String() == "10"
	})).Return(ledger.OutcomeApplied, nil).Once()
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool {
		return u.BrokerOrderID == "b-2" && u.Status == order.StatusCanceled
	})).Return(ledger.OutcomeApplied, nil).Once()
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool {
		return u.BrokerOrderID == "b-3" && u.Status == order.StatusExpired
	})).Return(ledger.OutcomeIgnored, nil).Once()
	l.On("ApplyTransferStatus", mock.Anything, ledger.TransferUpdate{TransferID: "tr-1", StatusTo: "COMPLETE"}).
		Return(ledger.OutcomeApplied, nil).Once()

	reg := NewHandlerRegistry()
	reg.RegisterDefaultHandlers(l)
	cursors := &memCursors{}
	dl := openDeadLetters(t)

	trades := newReplay(events.StreamTrades,
		msg(events.StreamTrades, "e1", `{"event":"new","event_id":"e1","order":{"id":"b-1","status":"new"}}`),
		msg(events.StreamTrades, "e2", `{"event":"fill","order":{"id":"b-1","filled_qty":"10","filled_avg_price":"151"}}`),
		msg(events.StreamTrades, "e3", `{"id":"b-2","status":"canceled"}`),
		msg(events.StreamTrades, "e4", `{"event":"expired","order":{"id":"b-3"}}`),
		msg(events.StreamTrades, "e5", `{"event":"partial_fill","order":{"id":"b-4","filled_qty":"1","filled_avg_price":"1"}}`),
	)
	transfers := newReplay(events.StreamTransfers,
		msg(events.StreamTransfers, "t1", `{"transfer_id":"tr-1","status_from":"QUEUED","status_to":"APPROVAL_PENDING"}`),
		msg(events.StreamTransfers, "t2", `{"transfer_id":"tr-1","status_from":"SENT_TO_CLEARING","status_to":"COMPLETE"}`),
	)
	r := NewReconciler(reg, cursors, dl, Options{}, trades, transfers)
	runUntilDrained(t, r, trades, transfers)

	l.AssertExpectations(t)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, cursors.ids[events.StreamTrades])
	assert.Equal(t, []string{"t1", "t2"}, cursors.ids[events.StreamTransfers])

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, events.StreamTrades, stats[0].Stream)
	assert.EqualValues(t, 5, stats[0].Processed)
	assert.Zero(t, stats[0].DeadLettered)

	entries, err := dl.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReconcilerDeadLetters(t *testing.T) {
	l := new(MockLedger)
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool { return u.BrokerOrderID == "b-late" })).
		Return(ledger.OutcomeIgnored, order.NotFound("broker order", "b-late")).Times(3)
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool { return u.BrokerOrderID == "b-boom" })).
		Run(func(mock.Arguments) { panic("nil map") }).Return(ledger.OutcomeIgnored, nil).Once()
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool { return u.BrokerOrderID == "b-ok" })).
		Return(ledger.OutcomeApplied, nil).Once()

	reg := NewHandlerRegistry()
	reg.RegisterDefaultHandlers(l)
	cursors := &memCursors{}
	dl := openDeadLetters(t)

	trades := newReplay(events.StreamTrades,
		msg(events.StreamTrades, "e1", `not json`),
		msg(events.StreamTrades, "e2", `{"event":"rejected","order":{"id":"b-rej"}}`),
		msg(events.StreamTrades, "e3", `{"event":"canceled","order":{"id":"b-late"}}`),
		msg(events.StreamTrades, "e4", `{"event":"canceled","order":{"id":"b-boom"}}`),
		msg(events.StreamTrades, "e5", `{"event":"canceled","order":{"id":"b-ok"}}`),
	)
	r := NewReconciler(reg, cursors, dl, Options{NotFoundRetries: 2, NotFoundDelay: time.Millisecond}, trades)
	runUntilDrained(t, r, trades)

	l.AssertExpectations(t)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, cursors.ids[events.StreamTrades])

	entries, err := dl.List(context.Background(), 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	reasons := map[string]string{}
	for _, e := range entries {
		ids = append(ids, e.EventID)
		reasons[e.EventID] = e.Reason
	}
	assert.ElementsMatch(t, []string{"e1", "e2", "e3", "e4"}, ids)
	assert.Contains(t, reasons["e4"], "panic")
	assert.Contains(t, reasons["e2"], ErrUnprocessable.Error())

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.EqualValues(t, 1, stats[0].Processed)
	assert.EqualValues(t, 4, stats[0].DeadLettered)
	assert.EqualValues(t, 2, stats[0].Retried)
}

func TestReconcilerDeadLettersOversizedEvent(t *testing.T) {
	l := new(MockLedger)
	l.On("UpdateOrder", mock.Anything, mock.MatchedBy(func(u ledger.OrderUpdate) bool { return u.BrokerOrderID == "b-3" })).
		Return(ledger.OutcomeApplied, nil).Once()

	reg := NewHandlerRegistry()
	reg.RegisterDefaultHandlers(l)
	cursors := &memCursors{}
	dl := openDeadLetters(t)

	big := msg(events.StreamTrades, "e2", `{"event":"fill","order":{"id":"b-2","note":"xxxx`)
	big.Oversized = true
	trades := newReplay(events.StreamTrades,
		big,
		msg(events.StreamTrades, "e3", `{"event":"canceled","order":{"id":"b-3"}}`),
	)
	r := NewReconciler(reg, cursors, dl, Options{}, trades)
	runUntilDrained(t, r, trades)

	l.AssertExpectations(t)
	assert.Equal(t, []string{"e2", "e3"}, cursors.ids[events.StreamTrades])

	entries, err := dl.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e2", entries[0].EventID)
	assert.Contains(t, entries[0].Reason, "exceeds")
	assert.Contains(t, string(entries[0].Payload), "b-2")
}

func TestRegistryUnknownStream(t *testing.T) {
	reg := NewHandlerRegistry()
	dl := openDeadLetters(t)
	other := newReplay("positions", msg("positions", "p1", `{}`))
	r := NewReconciler(reg, nil, dl, Options{}, other)
	runUntilDrained(t, r, other)

	entries, err := dl.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "positions", entries[0].Stream)
}
