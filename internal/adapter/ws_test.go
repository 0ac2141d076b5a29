// ABOUTME: Tests for the streaming adapter against the fake gateway
// ABOUTME: Covers the connection ack, sync-id correlation, timeouts, pushes and socket failures

package adapter

import (
	"context"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/pie-bridge/internal/fakegateway"
	"github.com/2389/pie-bridge/internal/message"
)

func newStreamingFixture(t *testing.T, key string) (*fakegateway.Server, *WSAdapter) {
	t.Helper()
	gw := fakegateway.New(testKey, testQQ, nil)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	a := NewWSAdapter(WSConfig{
		URL:            srv.URL,
		VerifyKey:      key,
		QQ:             testQQ,
		RequestTimeout: 200 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
	})
	t.Cleanup(a.Stop)
	return gw, a
}

func TestWSAdapter_VerifyReturnsAckSession(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)

	session, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, session)
	assert.True(t, a.Listening())
	assert.Equal(t, 1, gw.Connections())

	// Bind and Release do not touch the socket.
	require.NoError(t, a.Bind(context.Background(), session))
	require.NoError(t, a.Release(context.Background(), session))
	assert.Empty(t, gw.Calls())
}

func TestWSAdapter_FailedAckStaysClosed(t *testing.T) {
	gw, a := newStreamingFixture(t, "wrong")

	var fired int
	a.OnListen(func() { fired++ })

	_, err := a.Verify(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, a.Listening())
	assert.Zero(t, fired)
	assert.Equal(t, 0, gw.Connections())
}

func TestWSAdapter_ListenReportsRefusedAck(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)
	gw.SetAckCode(2)

	err := a.Listen(context.Background())
	assert.ErrorIs(t, err, ErrListenFailed)
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, a.Listening())
}

func TestWSAdapter_RequestCorrelation(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)

	res, err := a.SendFriendMessage(context.Background(), 42, message.Chain{message.Plain("hi")})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int64(1), res.MessageID)

	_, err = a.GroupConfig(context.Background(), 7)
	require.NoError(t, err)

	send := gw.CallsTo("sendFriendMessage")
	require.Len(t, send, 1)
	assert.Equal(t, "WS", send[0].Method)
	assert.Equal(t, int64(42), gjson.GetBytes(send[0].Body, "target").Int())

	cfg := gw.CallsTo("groupConfig")
	require.Len(t, cfg, 1)
	assert.Equal(t, "get", cfg[0].SubCommand)
	assert.NotEqual(t, send[0].SyncID, cfg[0].SyncID, "ids rotate through the pool")
}

func TestWSAdapter_NonSuccessCodeReturned(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)
	gw.SetReply("kick", map[string]any{"code": 10, "msg": "no permission"})

	res, err := a.Kick(context.Background(), 1, 2, "bye")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Code)
}

func TestWSAdapter_RequestTimeout(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)
	gw.SetSilent("recall")

	_, err := a.Recall(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, a.pending.len(), "timed out request leaves no waiter behind")
	assert.Equal(t, MaxSyncID, a.ids.available())

	// A late reply for the abandoned id is dropped without disturbing later calls.
	id := gw.CallsTo("recall")[0].SyncID
	require.NoError(t, gw.SendFrame([]byte(`{"syncId":"`+id+`","data":{"code":0}}`)))

	_, err = a.FriendList(context.Background())
	assert.NoError(t, err)
}

func TestWSAdapter_ConcurrentRequestsBeyondPool(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)
	a.cfg.RequestTimeout = 5 * time.Second

	const n = 150
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.SendGroupMessage(context.Background(), int64(i), message.Chain{message.Plain("x")})
			errs[i] = err
			if err == nil {
				ids[i] = res.MessageID
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := range n {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "reply %d delivered twice", ids[i])
		seen[ids[i]] = true
	}

	calls := gw.CallsTo("sendGroupMessage")
	assert.Len(t, calls, n)
	for _, c := range calls {
		id, err := strconv.Atoi(c.SyncID)
		require.NoError(t, err)
		assert.True(t, id >= 1 && id <= MaxSyncID, "sync id %d out of range", id)
	}
	assert.Equal(t, 0, a.pending.len())
	assert.Equal(t, MaxSyncID, a.ids.available())
}

func TestWSAdapter_PushDelivery(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)

	got := make(chan message.ChatMessage, 1)
	events := make(chan message.Event, 1)
	a.Messages().Subscribe(func(m message.ChatMessage) { got <- m })
	a.Events().Subscribe(func(e message.Event) { events <- e })

	done := listen(a)
	require.Eventually(t, a.Listening, time.Second, 5*time.Millisecond)

	require.NoError(t, gw.Push(fakegateway.GroupMessage(3, 100, 200, "carol", "ping")))
	require.NoError(t, gw.Push(fakegateway.MemberJoin(100, 201, "dave")))

	select {
	case m := <-got:
		assert.Equal(t, "GroupMessage", m.Type)
		assert.Equal(t, int64(100), m.Sender.Group.ID)
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}
	select {
	case e := <-events:
		assert.Equal(t, int64(201), e.Get("member.id").Int())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	a.Stop()
	assert.NoError(t, <-done)
}

func TestWSAdapter_UnrecognizedFramesDropped(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)

	var delivered int
	a.Messages().Subscribe(func(message.ChatMessage) { delivered++ })
	a.Events().Subscribe(func(message.Event) { delivered++ })

	listen(a)
	require.Eventually(t, a.Listening, time.Second, 5*time.Millisecond)

	require.NoError(t, gw.SendFrame([]byte(`not json`)))
	require.NoError(t, gw.SendFrame([]byte(`{"syncId":"77","data":{"code":0}}`)))
	require.NoError(t, gw.SendFrame([]byte(`{"syncId":"-1","data":{"type":"Mystery"}}`)))

	// The socket survives and still answers requests.
	_, err := a.BotProfile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestWSAdapter_FatalFrameEndsListen(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)

	done := listen(a)
	require.Eventually(t, a.Listening, time.Second, 5*time.Millisecond)

	require.NoError(t, gw.SendFrame([]byte(`{"code":3,"msg":"session invalid"}`)))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrListenFailed)
	case <-time.After(time.Second):
		t.Fatal("Listen ignored fatal frame")
	}
	assert.False(t, a.Listening())
}

func TestWSAdapter_DroppedSocketEndsListen(t *testing.T) {
	gw, a := newStreamingFixture(t, testKey)

	done := listen(a)
	require.Eventually(t, a.Listening, time.Second, 5*time.Millisecond)

	gw.DropConnections()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrListenFailed)
	case <-time.After(time.Second):
		t.Fatal("Listen ignored dropped socket")
	}
}

func TestWSAdapter_StopIsTerminal(t *testing.T) {
	_, a := newStreamingFixture(t, testKey)
	require.NoError(t, func() error { _, err := a.Verify(context.Background()); return err }())

	a.Stop()
	a.Stop()
	assert.False(t, a.Listening())

	_, err := a.FriendList(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Listen(context.Background()), ErrClosed)
}
