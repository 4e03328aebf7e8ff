package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chainpoint/chainpoint-bridge/database/level"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSinkAccumulates(t *testing.T) {
	sink := NewStoreSink(level.NewMemKV(), 7)
	require.NoError(t, sink.Credit("vault", RedeemHonored))
	require.NoError(t, sink.Credit("vault", RedeemHonored))
	require.NoError(t, sink.Credit("vault", RedeemFailed))

	score, err := sink.Score("vault")
	assert.NoError(t, err)
	assert.Equal(t, int64(-2), score.Score)
	assert.Equal(t, uint64(2), score.Events[RedeemHonored])
	assert.Equal(t, int64(7), score.UpdatedAt)

	empty, err := sink.Score("nobody")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), empty.Score)
}

type brokenSink struct{}

func (brokenSink) Credit(types.Account, EventKind) error { return errors.New("down") }

func TestRecorderNeverFails(t *testing.T) {
	r := NewRecorder(brokenSink{}, 3, time.Unix(10, 0), nil)
	assert.NoError(t, r.Credit("alice", IssueProofSubmitted))
	events := r.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.Account("alice"), events[0].Account)
	assert.Equal(t, int64(1), events[0].Points)
	assert.Equal(t, int64(3), events[0].Height)
}

type capture struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	want   int
}

func (c *capture) Publish(ctx context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if len(c.events) == c.want {
		close(c.done)
	}
	return nil
}

func TestAsyncSinkDeliversInOrder(t *testing.T) {
	pub := &capture{done: make(chan struct{}), want: 3}
	sink := NewAsyncSink(pub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Start(ctx)

	sink.Enqueue(
		Event{Account: "a", Kind: IssueHonored},
		Event{Account: "b", Kind: RedeemHonored},
		Event{Account: "c", Kind: RefundHonored},
	)
	select {
	case <-pub.done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, types.Account("a"), pub.events[0].Account)
	assert.Equal(t, types.Account("c"), pub.events[2].Account)
	assert.NotEmpty(t, pub.events[0].ID)
	assert.True(t, pub.events[0].ID < pub.events[1].ID, "ulids increase")
}

func TestWebhookPublish(t *testing.T) {
	received := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil || e.Kind == RedeemFailed {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- e
	}))
	defer server.Close()

	hook := NewWebhook(server.URL, time.Second)
	assert.NoError(t, hook.Publish(context.Background(), Event{ID: "x", Account: "vault", Kind: RedeemHonored}))
	assert.Equal(t, "x", (<-received).ID)
	assert.Error(t, hook.Publish(context.Background(), Event{Account: "vault", Kind: RedeemFailed}))
}
